package pkgcodec_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kbengine/kbengine/internal/blobstore"
	"github.com/kbengine/kbengine/internal/pkgcodec"
	"github.com/kbengine/kbengine/internal/types"
)

// fakeSource is a fixed in-memory DataSource: one problem, one tag, one
// link, one attachment, ignoring sinceUtc (incremental scoping is not
// exercised by these tests).
type fakeSource struct {
	problems    []types.Problem
	tags        []types.Tag
	problemTags []types.ProblemTag
	attachments []types.Attachment
}

func (f fakeSource) ExportProblems(ctx context.Context, since *time.Time) ([]types.Problem, error) {
	return f.problems, nil
}
func (f fakeSource) ExportTags(ctx context.Context, since *time.Time) ([]types.Tag, error) {
	return f.tags, nil
}
func (f fakeSource) ExportProblemTags(ctx context.Context, since *time.Time) ([]types.ProblemTag, error) {
	return f.problemTags, nil
}
func (f fakeSource) ExportAttachments(ctx context.Context, since *time.Time) ([]types.Attachment, error) {
	return f.attachments, nil
}

// fakeApplier records every row handed to it, standing in for
// internal/merge.Engine.
type fakeApplier struct {
	problems    []types.Problem
	tags        []types.Tag
	problemTags []types.ProblemTag
	attachments []types.Attachment
}

func (f *fakeApplier) ApplyProblem(ctx context.Context, p types.Problem) error {
	f.problems = append(f.problems, p)
	return nil
}
func (f *fakeApplier) ApplyTag(ctx context.Context, t types.Tag) error {
	f.tags = append(f.tags, t)
	return nil
}
func (f *fakeApplier) ApplyProblemTag(ctx context.Context, pt types.ProblemTag) error {
	f.problemTags = append(f.problemTags, pt)
	return nil
}
func (f *fakeApplier) ApplyAttachment(ctx context.Context, a types.Attachment) error {
	f.attachments = append(f.attachments, a)
	return nil
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	srcBlobs, err := blobstore.Open(filepath.Join(dir, "src-blobs"))
	if err != nil {
		t.Fatalf("open src blobs: %v", err)
	}
	hash, err := srcBlobs.Put(ctx, []byte("stack trace contents"))
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	src := fakeSource{
		problems: []types.Problem{{
			Entity: types.Entity{ID: "p1", CreatedAtUtc: now, UpdatedAtUtc: now, UpdatedByInstanceID: "inst-a"},
			Title:  "crash on boot",
		}},
		tags: []types.Tag{{
			Entity: types.Entity{ID: "t1", CreatedAtUtc: now, UpdatedAtUtc: now, UpdatedByInstanceID: "inst-a"},
			Name:   "boot",
		}},
		problemTags: []types.ProblemTag{{
			Entity:    types.Entity{ID: "pt1", CreatedAtUtc: now, UpdatedAtUtc: now, UpdatedByInstanceID: "inst-a"},
			ProblemID: "p1", TagID: "t1",
		}},
		attachments: []types.Attachment{{
			Entity:      types.Entity{ID: "a1", CreatedAtUtc: now, UpdatedAtUtc: now, UpdatedByInstanceID: "inst-a"},
			ProblemID:   "p1",
			ContentHash: hash,
			SizeBytes:   int64(len("stack trace contents")),
		}},
	}

	pkgPath := filepath.Join(dir, "package.zip")
	result, err := pkgcodec.Export(ctx, src, srcBlobs, pkgcodec.ExportRequest{
		ExporterInstanceID: "inst-a",
		ExporterKind:       types.KindPersonal,
		Mode:               pkgcodec.ModeFull,
		OutputPath:         pkgPath,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Manifest.RecordCounts.Problems != 1 || result.Manifest.RecordCounts.Attachments != 1 {
		t.Fatalf("unexpected record counts: %+v", result.Manifest.RecordCounts)
	}
	if !result.Manifest.MaxUpdatedAtUtc.Equal(now) {
		t.Fatalf("expected maxUpdatedAtUtc to reflect the newest written row %v, got %v", now, result.Manifest.MaxUpdatedAtUtc)
	}

	assertChangeLineEnvelope(t, pkgPath, "data/problems.jsonl")

	dstBlobs, err := blobstore.Open(filepath.Join(dir, "dst-blobs"))
	if err != nil {
		t.Fatalf("open dst blobs: %v", err)
	}
	applier := &fakeApplier{}

	imported, err := pkgcodec.Import(ctx, pkgPath, dstBlobs, applier)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.ProblemsApplied != 1 || imported.TagsApplied != 1 || imported.LinksApplied != 1 || imported.AttachmentsApplied != 1 {
		t.Fatalf("unexpected apply counts: %+v", imported)
	}
	if applier.problems[0].Title != "crash on boot" {
		t.Fatalf("problem row did not round-trip: %+v", applier.problems[0])
	}

	if _, ok, err := dstBlobs.Stat(hash); err != nil || !ok {
		t.Fatalf("expected blob copied into destination store, ok=%v err=%v", ok, err)
	}
}

func TestImport_RejectsTamperedChecksum(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	blobs, err := blobstore.Open(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open blobs: %v", err)
	}

	now := time.Now().UTC()
	src := fakeSource{
		problems: []types.Problem{{Entity: types.Entity{ID: "p1", CreatedAtUtc: now, UpdatedAtUtc: now}, Title: "x"}},
	}
	pkgPath := filepath.Join(dir, "package.zip")
	if _, err := pkgcodec.Export(ctx, src, blobs, pkgcodec.ExportRequest{
		ExporterInstanceID: "inst-a",
		ExporterKind:       types.KindPersonal,
		Mode:               pkgcodec.ModeFull,
		OutputPath:         pkgPath,
	}); err != nil {
		t.Fatalf("export: %v", err)
	}

	// Rewrite the manifest so it records a wrong checksum for
	// data/problems.jsonl, leaving the entry's bytes untouched: the checksum
	// verification pass must catch this before anything is applied.
	corruptZipEntryByte(t, pkgPath, "data/problems.jsonl")

	if _, err := pkgcodec.Import(ctx, pkgPath, blobs, &fakeApplier{}); err == nil {
		t.Fatal("expected import to reject a tampered entry")
	}
}

// corruptZipEntryByte rewrites the package at path so the manifest records
// a wrong checksum for entryName, leaving every entry's bytes (and the
// zip's own CRC32s) untouched — this isolates the assertion to pkgcodec's
// own checksum verification rather than incidentally exercising
// archive/zip's CRC check instead.
func corruptZipEntryByte(t *testing.T, path, entryName string) {
	t.Helper()

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("corrupt: open: %v", err)
	}
	defer func() { _ = zr.Close() }()

	type entry struct {
		name string
		data []byte
	}
	var entries []entry
	var manifest map[string]any

	for _, f := range zr.File {
		r, err := f.Open()
		if err != nil {
			t.Fatalf("corrupt: open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			t.Fatalf("corrupt: read entry %s: %v", f.Name, err)
		}
		if f.Name == "manifest.json" {
			if err := json.Unmarshal(data, &manifest); err != nil {
				t.Fatalf("corrupt: unmarshal manifest: %v", err)
			}
			continue
		}
		entries = append(entries, entry{name: f.Name, data: data})
	}
	_ = zr.Close()

	checksums, _ := manifest["checksums"].(map[string]any)
	checksums[entryName] = strings.Repeat("0", 64)
	manifest["checksums"] = checksums

	manifestData, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("corrupt: marshal manifest: %v", err)
	}
	entries = append(entries, entry{name: "manifest.json", data: manifestData})

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("corrupt: create entry %s: %v", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("corrupt: write entry %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("corrupt: close zip: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("corrupt: write package: %v", err)
	}
}

// assertChangeLineEnvelope confirms a data/*.jsonl entry's first line is
// wrapped as {"operation":"Upsert","entity":{...}} rather than a bare
// entity object, the wire format the package protocol requires.
func assertChangeLineEnvelope(t *testing.T, pkgPath, entryName string) {
	t.Helper()

	zr, err := zip.OpenReader(pkgPath)
	if err != nil {
		t.Fatalf("assert envelope: open package: %v", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != entryName {
			continue
		}
		r, err := f.Open()
		if err != nil {
			t.Fatalf("assert envelope: open entry: %v", err)
		}
		defer func() { _ = r.Close() }()

		var line map[string]json.RawMessage
		if err := json.NewDecoder(r).Decode(&line); err != nil {
			t.Fatalf("assert envelope: decode first line: %v", err)
		}
		var op string
		if err := json.Unmarshal(line["operation"], &op); err != nil || op != "Upsert" {
			t.Fatalf("expected operation \"Upsert\", got %q (err=%v)", line["operation"], err)
		}
		if _, ok := line["entity"]; !ok {
			t.Fatalf("expected an \"entity\" field wrapping the row, got keys %v", line)
		}
		return
	}
	t.Fatalf("entry %s not found in package", entryName)
}
