package pkgcodec

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kbengine/kbengine/internal/blobstore"
	"github.com/kbengine/kbengine/internal/kberrors"
	"github.com/kbengine/kbengine/internal/types"
)

// Applier is the write surface import hands decoded rows to; it is
// implemented by internal/merge so each row goes through last-writer-wins
// arbitration rather than being written directly.
type Applier interface {
	ApplyProblem(ctx context.Context, p types.Problem) error
	ApplyTag(ctx context.Context, t types.Tag) error
	ApplyProblemTag(ctx context.Context, pt types.ProblemTag) error
	ApplyAttachment(ctx context.Context, a types.Attachment) error
}

// ImportResult reports what an import applied.
type ImportResult struct {
	Manifest        Manifest
	ProblemsApplied int
	TagsApplied     int
	LinksApplied    int
	AttachmentsApplied int
}

// Import verifies every checksum in the manifest before applying
// anything, then decodes and applies each change-stream in turn and
// copies attachment blobs into the local blob store.
func Import(ctx context.Context, packagePath string, blobs *blobstore.Store, applier Applier) (*ImportResult, error) {
	zr, err := zip.OpenReader(packagePath)
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: open package: %w", err)
	}
	defer func() { _ = zr.Close() }()

	entries := map[string]*zip.File{}
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	manifestFile, ok := entries[entryManifest]
	if !ok {
		return nil, fmt.Errorf("pkgcodec: package missing %s: %w", entryManifest, kberrors.Validation)
	}
	manifest, err := readManifest(manifestFile)
	if err != nil {
		return nil, err
	}
	if manifest.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("pkgcodec: unsupported schemaVersion %d: %w", manifest.SchemaVersion, kberrors.Validation)
	}

	if err := verifyChecksums(entries, manifest.Checksums); err != nil {
		return nil, err
	}

	result := &ImportResult{Manifest: *manifest}

	problems, err := decodeJSONL[types.Problem](entries[entryProblems])
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: decode problems: %w", err)
	}
	tags, err := decodeJSONL[types.Tag](entries[entryTags])
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: decode tags: %w", err)
	}
	problemTags, err := decodeJSONL[types.ProblemTag](entries[entryProblemTags])
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: decode problemTags: %w", err)
	}
	attachments, err := decodeJSONL[types.Attachment](entries[entryAttachmentsMeta])
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: decode attachments: %w", err)
	}

	// Applied in the fixed order problems, tags, problemTags, attachments;
	// the schema's FKs tolerate either order, but this is the order the
	// package format guarantees.
	for _, p := range problems {
		if err := applier.ApplyProblem(ctx, p); err != nil {
			return nil, fmt.Errorf("pkgcodec: apply problem %s: %w", p.ID, err)
		}
		result.ProblemsApplied++
	}
	for _, t := range tags {
		if err := applier.ApplyTag(ctx, t); err != nil {
			return nil, fmt.Errorf("pkgcodec: apply tag %s: %w", t.ID, err)
		}
		result.TagsApplied++
	}
	for _, pt := range problemTags {
		if err := applier.ApplyProblemTag(ctx, pt); err != nil {
			return nil, fmt.Errorf("pkgcodec: apply problemTag %s: %w", pt.ID, err)
		}
		result.LinksApplied++
	}

	seenHashes := map[string]bool{}
	for _, a := range attachments {
		if a.ContentHash != "" && !seenHashes[a.ContentHash] {
			seenHashes[a.ContentHash] = true
			if err := copyBlobIntoStore(entries, a.ContentHash, blobs); err != nil {
				return nil, err
			}
		}
		if err := applier.ApplyAttachment(ctx, a); err != nil {
			return nil, fmt.Errorf("pkgcodec: apply attachment %s: %w", a.ID, err)
		}
		result.AttachmentsApplied++
	}

	return result, nil
}

func readManifest(f *zip.File) (*Manifest, error) {
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("pkgcodec: open manifest: %w", err)
	}
	defer func() { _ = r.Close() }()

	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("pkgcodec: decode manifest: %v: %w", err, kberrors.Integrity)
	}
	return &m, nil
}

// verifyChecksums re-hashes every data and attachment entry the manifest
// names and compares against the recorded digest, failing closed before
// any row is applied.
func verifyChecksums(entries map[string]*zip.File, checksums map[string]string) error {
	for name, want := range checksums {
		f, ok := entries[name]
		if !ok {
			return fmt.Errorf("pkgcodec: manifest references missing entry %s: %w", name, kberrors.Integrity)
		}
		r, err := f.Open()
		if err != nil {
			return fmt.Errorf("pkgcodec: open entry %s: %w", name, err)
		}
		h := sha256.New()
		_, copyErr := io.Copy(h, r)
		_ = r.Close()
		if copyErr != nil {
			return fmt.Errorf("pkgcodec: hash entry %s: %w", name, copyErr)
		}
		got := hex.EncodeToString(h.Sum(nil))
		if got != want {
			return fmt.Errorf("pkgcodec: checksum mismatch for %s: %w", name, kberrors.Integrity)
		}
	}
	return nil
}

// decodeJSONL reads one {"operation":"Upsert","entity":{...}} envelope per
// line and returns the unwrapped entities. Any operation other than
// Upsert is rejected: it is the only operation this codec's package
// format defines, a soft-delete being an Upsert of a row with
// isDeleted=true rather than a distinct operation.
func decodeJSONL[T any](f *zip.File) ([]T, error) {
	if f == nil {
		return nil, nil
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	defer func() { _ = r.Close() }()

	var out []T
	dec := json.NewDecoder(r)
	for dec.More() {
		var line changeLine[T]
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("decode row: %v: %w", err, kberrors.Integrity)
		}
		if line.Operation != operationUpsert {
			return nil, fmt.Errorf("pkgcodec: unsupported change-line operation %q: %w", line.Operation, kberrors.Validation)
		}
		out = append(out, line.Entity)
	}
	return out, nil
}

func copyBlobIntoStore(entries map[string]*zip.File, hash string, blobs *blobstore.Store) error {
	if _, ok, err := blobs.Stat(hash); err != nil {
		return fmt.Errorf("pkgcodec: stat existing blob %s: %w", hash, err)
	} else if ok {
		return nil // already present, content-addressed so nothing to do
	}

	name := attachmentBlobPrefix + hash
	f, ok := entries[name]
	if !ok {
		return fmt.Errorf("pkgcodec: package missing blob %s: %w", hash, kberrors.Integrity)
	}
	r, err := f.Open()
	if err != nil {
		return fmt.Errorf("pkgcodec: open blob entry %s: %w", name, err)
	}
	defer func() { _ = r.Close() }()

	digest, _, err := blobs.PutFile(context.Background(), r)
	if err != nil {
		return fmt.Errorf("pkgcodec: store blob %s: %w", hash, err)
	}
	if digest != hash {
		return fmt.Errorf("pkgcodec: blob %s: decoded content hashes to %s: %w", hash, digest, kberrors.Integrity)
	}
	return nil
}

// ExtractToScratch extracts a package into a fresh temp directory under
// parentDir for callers that prefer filesystem staging over direct ZIP
// entry reads. Neither Import nor the LAN import path uses it: the LAN
// path stages the uploaded body to a temp file and passes that to Import.
func ExtractToScratch(packagePath, parentDir string) (string, error) {
	scratch, err := os.MkdirTemp(parentDir, "import-scratch-*")
	if err != nil {
		return "", fmt.Errorf("pkgcodec: create scratch dir: %w", err)
	}

	zr, err := zip.OpenReader(packagePath)
	if err != nil {
		_ = os.RemoveAll(scratch)
		return "", fmt.Errorf("pkgcodec: open package: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		destPath := filepath.Join(scratch, filepath.Clean("/"+f.Name))
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			_ = os.RemoveAll(scratch)
			return "", fmt.Errorf("pkgcodec: create entry dir: %w", err)
		}
		if err := extractOne(f, destPath); err != nil {
			_ = os.RemoveAll(scratch)
			return "", err
		}
	}
	return scratch, nil
}

func extractOne(f *zip.File, destPath string) error {
	r, err := f.Open()
	if err != nil {
		return fmt.Errorf("pkgcodec: open entry %s: %w", f.Name, err)
	}
	defer func() { _ = r.Close() }()

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("pkgcodec: create %s: %w", destPath, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("pkgcodec: extract %s: %w", f.Name, err)
	}
	return nil
}
