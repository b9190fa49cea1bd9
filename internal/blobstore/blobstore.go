// Package blobstore implements C3, the content-addressed attachment
// store: blobs are written under dataDir/blobs/<first 2 hex chars>/<hash>
// and named by the hex SHA-256 digest of their content, the same digest
// algorithm the corpus uses for its content hashing (idgen.GenerateHashID
// hashes with crypto/sha256 before base36-encoding). A write is a no-op
// once a blob with that hash already exists, so importing the same
// attachment twice never touches disk a second time.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kbengine/kbengine/internal/atomicfile"
	"github.com/kbengine/kbengine/internal/kberrors"
)

// Store roots all blobs under a single directory.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating it if absent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// pathFor returns the on-disk path for a hex digest, sharded by its first
// two characters to keep any one directory from accumulating too many
// entries.
func (s *Store) pathFor(hash string) (string, error) {
	if len(hash) < 4 {
		return "", fmt.Errorf("blobstore: hash %q too short: %w", hash, kberrors.Validation)
	}
	return filepath.Join(s.root, hash[:2], hash), nil
}

// Put writes data under its SHA-256 hex digest and returns the digest. If
// a blob with that digest already exists, the write is skipped and the
// existing blob is left untouched.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path, err := s.pathFor(hash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return hash, nil // already present, content-addressed so no need to rewrite
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return "", fmt.Errorf("blobstore: write %s: %w", hash, err)
	}
	return hash, nil
}

// PutFile streams src into the store under its SHA-256 digest, avoiding
// loading the whole file into memory. It returns the digest and size.
func (s *Store) PutFile(ctx context.Context, src io.Reader) (hash string, size int64, err error) {
	tmp, err := os.CreateTemp(s.root, "incoming-*")
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: stage content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, fmt.Errorf("blobstore: sync staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("blobstore: close staging file: %w", err)
	}

	digest := hex.EncodeToString(h.Sum(nil))
	path, err := s.pathFor(digest)
	if err != nil {
		return "", 0, err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return digest, n, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("blobstore: create shard dir: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", 0, fmt.Errorf("blobstore: commit blob %s: %w", digest, err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		return "", 0, fmt.Errorf("blobstore: chmod blob %s: %w", digest, err)
	}
	return digest, n, nil
}

// OpenBlob returns a reader for the blob named by hash, or kberrors.NotFound.
func (s *Store) OpenBlob(hash string) (io.ReadCloser, error) {
	path, err := s.pathFor(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blobstore: blob %s: %w", hash, kberrors.NotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: open blob %s: %w", hash, err)
	}
	return f, nil
}

// LocalPath returns the on-disk path for a blob without opening it, or
// kberrors.NotFound if the blob is absent.
func (s *Store) LocalPath(hash string) (string, error) {
	path, err := s.pathFor(hash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("blobstore: blob %s: %w", hash, kberrors.NotFound)
	}
	return path, nil
}

// Stat reports whether a blob with the given hash exists and its size.
func (s *Store) Stat(hash string) (size int64, ok bool, err error) {
	path, err := s.pathFor(hash)
	if err != nil {
		return 0, false, err
	}
	info, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return 0, false, nil
	}
	if statErr != nil {
		return 0, false, fmt.Errorf("blobstore: stat %s: %w", hash, statErr)
	}
	return info.Size(), true, nil
}

// WalkFunc is called once per blob found during Walk, with its digest
// (the hash encoded in its path) and size.
type WalkFunc func(hash string, size int64) error

// Walk visits every blob on disk, used by the doctor diagnostic to find
// orphaned blobs no attachment row references.
func (s *Store) Walk(fn WalkFunc) error {
	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		hash := filepath.Base(path)
		if len(hash) != 64 { // sha256 hex digest length; skip shard dirs and stray files
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(hash, info.Size())
	})
}
