package atomicfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kbengine/kbengine/internal/atomicfile"
)

func TestWrite_CreatesFileAndLeavesNoTempBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	if err := atomicfile.Write(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("unexpected content: %s", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the final file to remain, got %v", entries)
	}
}

func TestWrite_OverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	if err := atomicfile.Write(path, []byte("first"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := atomicfile.Write(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected overwritten content, got %q", data)
	}
}

func TestStaged_CommitRenamesIntoPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "package.zip")

	staged, err := atomicfile.NewStaged(path)
	if err != nil {
		t.Fatalf("new staged: %v", err)
	}
	if _, err := staged.File().Write([]byte("zip contents")); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	if err := staged.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read committed file: %v", err)
	}
	if string(data) != "zip contents" {
		t.Fatalf("unexpected content: %s", data)
	}
}

func TestStaged_CleanupRemovesTempFileWithoutCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "package.zip")

	staged, err := atomicfile.NewStaged(path)
	if err != nil {
		t.Fatalf("new staged: %v", err)
	}
	staged.Cleanup()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected final path to never be created, stat err=%v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp file removed by cleanup, got %v", entries)
	}
}
