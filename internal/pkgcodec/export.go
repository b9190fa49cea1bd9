package pkgcodec

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/kbengine/kbengine/internal/atomicfile"
	"github.com/kbengine/kbengine/internal/blobstore"
	"github.com/kbengine/kbengine/internal/types"
)

// DataSource is the narrow read surface export needs from the store. A
// nil sinceUtc in each Export* call means every row, soft-deleted ones
// included (a full export);
// a non-nil value scopes to rows with updatedAtUtc strictly after it.
type DataSource interface {
	ExportProblems(ctx context.Context, sinceUtc *time.Time) ([]types.Problem, error)
	ExportTags(ctx context.Context, sinceUtc *time.Time) ([]types.Tag, error)
	ExportProblemTags(ctx context.Context, sinceUtc *time.Time) ([]types.ProblemTag, error)
	ExportAttachments(ctx context.Context, sinceUtc *time.Time) ([]types.Attachment, error)
}

// ExportRequest parameterizes one export.
type ExportRequest struct {
	ExporterInstanceID string
	ExporterKind       types.InstanceKind
	Mode               Mode
	BaseWatermarkUtc   *time.Time // required for ModeIncremental, ignored for ModeFull
	OutputPath         string
}

// ExportResult reports what was written.
type ExportResult struct {
	PackageID       string
	Manifest        Manifest
	MaxUpdatedAtUtc string
}

// Export streams every matching row plus the attachment blobs they
// reference into a ZIP at req.OutputPath, computing a SHA-256 checksum
// for every member as it is written and writing the manifest entry last.
// The whole ZIP is staged beside req.OutputPath and renamed into place
// atomically once complete.
func Export(ctx context.Context, src DataSource, blobs *blobstore.Store, req ExportRequest) (*ExportResult, error) {
	problems, err := src.ExportProblems(ctx, req.BaseWatermarkUtc)
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: export problems: %w", err)
	}
	tags, err := src.ExportTags(ctx, req.BaseWatermarkUtc)
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: export tags: %w", err)
	}
	problemTags, err := src.ExportProblemTags(ctx, req.BaseWatermarkUtc)
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: export problemTags: %w", err)
	}
	attachments, err := src.ExportAttachments(ctx, req.BaseWatermarkUtc)
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: export attachments: %w", err)
	}

	createdAtUtc := time.Now().UTC()
	maxUpdatedTime, wroteAnyChanges := maxUpdatedAtUtcAcrossRows(problems, tags, problemTags, attachments)
	if !wroteAnyChanges {
		maxUpdatedTime = createdAtUtc
	}
	maxUpdated := maxUpdatedTime.UTC().Format(time.RFC3339Nano)

	staging, err := atomicfile.NewStaged(req.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: stage output: %w", err)
	}
	defer staging.Cleanup()

	zw := zip.NewWriter(staging.File())
	checksums := map[string]string{}

	if err := writeJSONLEntry(zw, entryProblems, problems, checksums); err != nil {
		return nil, err
	}
	if err := writeJSONLEntry(zw, entryTags, tags, checksums); err != nil {
		return nil, err
	}
	if err := writeJSONLEntry(zw, entryProblemTags, problemTags, checksums); err != nil {
		return nil, err
	}
	if err := writeJSONLEntry(zw, entryAttachmentsMeta, attachments, checksums); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, a := range attachments {
		if a.ContentHash == "" || seen[a.ContentHash] {
			continue
		}
		seen[a.ContentHash] = true
		if err := writeBlobEntry(zw, blobs, a.ContentHash, checksums); err != nil {
			return nil, err
		}
	}

	manifest := Manifest{
		PackageID:          uuid.NewString(),
		SchemaVersion:      SchemaVersion,
		CreatedAtUtc:       createdAtUtc,
		ExporterInstanceID: req.ExporterInstanceID,
		ExporterKind:       req.ExporterKind,
		Mode:               req.Mode,
		BaseWatermarkUtc:   req.BaseWatermarkUtc,
		MaxUpdatedAtUtc:    maxUpdatedTime,
		RecordCounts: RecordCounts{
			Problems:    len(problems),
			Tags:        len(tags),
			ProblemTags: len(problemTags),
			Attachments: len(attachments),
		},
		Checksums: checksums,
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: marshal manifest: %w", err)
	}
	mw, err := zw.Create(entryManifest)
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: create manifest entry: %w", err)
	}
	if _, err := mw.Write(manifestData); err != nil {
		return nil, fmt.Errorf("pkgcodec: write manifest entry: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("pkgcodec: close zip: %w", err)
	}
	if err := staging.Commit(); err != nil {
		return nil, fmt.Errorf("pkgcodec: commit package: %w", err)
	}

	return &ExportResult{PackageID: manifest.PackageID, Manifest: manifest, MaxUpdatedAtUtc: maxUpdated}, nil
}

// writeJSONLEntry writes rows as one {"operation":"Upsert","entity":...}
// object per line into a new ZIP entry, tracking its SHA-256 digest as it
// streams. A soft-deleted row is still an Upsert — its isDeleted field
// carries the deletion, the envelope's operation never changes.
func writeJSONLEntry[T any](zw *zip.Writer, name string, rows []T, checksums map[string]string) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("pkgcodec: create entry %s: %w", name, err)
	}
	h := sha256.New()
	mw := io.MultiWriter(w, h)
	enc := json.NewEncoder(mw)
	for _, row := range rows {
		line := changeLine[T]{Operation: operationUpsert, Entity: row}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("pkgcodec: encode row in %s: %w", name, err)
		}
	}
	checksums[name] = hex.EncodeToString(h.Sum(nil))
	return nil
}

// maxUpdatedAtUtcAcrossRows returns the greatest updatedAtUtc actually
// present in the rows being written into this package's streams (found
// is false when every stream is empty).
func maxUpdatedAtUtcAcrossRows(problems []types.Problem, tags []types.Tag, problemTags []types.ProblemTag, attachments []types.Attachment) (max time.Time, found bool) {
	consider := func(t time.Time) {
		if !found || t.After(max) {
			max = t
			found = true
		}
	}
	for _, p := range problems {
		consider(p.UpdatedAtUtc)
	}
	for _, t := range tags {
		consider(t.UpdatedAtUtc)
	}
	for _, pt := range problemTags {
		consider(pt.UpdatedAtUtc)
	}
	for _, a := range attachments {
		consider(a.UpdatedAtUtc)
	}
	return max, found
}

func writeBlobEntry(zw *zip.Writer, blobs *blobstore.Store, hash string, checksums map[string]string) error {
	name := attachmentBlobPrefix + hash
	r, err := blobs.OpenBlob(hash)
	if err != nil {
		return fmt.Errorf("pkgcodec: open blob %s: %w", hash, err)
	}
	defer func() { _ = r.Close() }()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("pkgcodec: create blob entry %s: %w", name, err)
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(w, h), r); err != nil {
		return fmt.Errorf("pkgcodec: copy blob %s: %w", hash, err)
	}
	digest := hex.EncodeToString(h.Sum(nil))
	if digest != hash {
		return fmt.Errorf("pkgcodec: blob %s: on-disk content hash mismatch (got %s)", hash, digest)
	}
	checksums[name] = digest
	return nil
}
