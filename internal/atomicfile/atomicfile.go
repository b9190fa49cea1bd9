// Package atomicfile writes files the way the identity record and the
// exported package ZIP both need to be written: to a temp file in the target
// directory, fsynced, then renamed into place, so a crash never leaves a
// half-written file at the real path.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically replaces path with data, using perm for the final
// file's permissions.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomicfile: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("atomicfile: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomicfile: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("atomicfile: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicfile: rename into place: %w", err)
	}
	return nil
}

// Staged is a temp file for callers that need to stream content
// (archive/zip and similar incremental writers) rather than hand Write a
// single []byte, while keeping the same stage-then-rename guarantee.
type Staged struct {
	path    string
	tmpPath string
	file    *os.File
	perm    os.FileMode
	done    bool
}

// NewStaged creates the temp file backing path, in the same directory so
// the final rename is same-filesystem and therefore atomic.
func NewStaged(path string) (*Staged, error) {
	return newStagedWithPerm(path, 0o644)
}

// NewStagedWithPerm is NewStaged with an explicit final permission mode.
func NewStagedWithPerm(path string, perm os.FileMode) (*Staged, error) {
	return newStagedWithPerm(path, perm)
}

func newStagedWithPerm(path string, perm os.FileMode) (*Staged, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("atomicfile: create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("atomicfile: create temp file: %w", err)
	}
	return &Staged{path: path, tmpPath: tmp.Name(), file: tmp, perm: perm}, nil
}

// File returns the underlying *os.File for streaming writes.
func (s *Staged) File() *os.File { return s.file }

// Commit syncs, closes, chmods and renames the staged file into place.
func (s *Staged) Commit() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("atomicfile: sync staged file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("atomicfile: close staged file: %w", err)
	}
	if err := os.Chmod(s.tmpPath, s.perm); err != nil {
		return fmt.Errorf("atomicfile: chmod staged file: %w", err)
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		return fmt.Errorf("atomicfile: rename staged file into place: %w", err)
	}
	s.done = true
	return nil
}

// Cleanup removes the temp file if Commit was never called; it is a
// no-op after a successful Commit. Callers defer this unconditionally
// right after NewStaged.
func (s *Staged) Cleanup() {
	if s.done {
		return
	}
	_ = s.file.Close()
	_ = os.Remove(s.tmpPath)
}
