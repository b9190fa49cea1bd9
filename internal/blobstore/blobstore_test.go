package blobstore_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/kbengine/kbengine/internal/blobstore"
)

func TestPut_ContentAddressedAndIdempotent(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data := []byte("repro steps: restart the daemon")

	hash1, err := store.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	sum := sha256.Sum256(data)
	if hash1 != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash mismatch: got %s", hash1)
	}

	hash2, err := store.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	if hash1 != hash2 {
		t.Fatalf("expected identical digest on repeat write, got %s and %s", hash1, hash2)
	}

	r, err := store.OpenBlob(hash1)
	if err != nil {
		t.Fatalf("open blob: %v", err)
	}
	defer func() { _ = r.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if buf.String() != string(data) {
		t.Fatalf("blob content mismatch: got %q", buf.String())
	}
}

func TestOpenBlob_MissingReturnsNotFound(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	missing := "deadbeef00000000000000000000000000000000000000000000000000000000"[:64]
	if _, err := store.OpenBlob(missing); err == nil {
		t.Fatal("expected error for missing blob")
	}
}

func TestPutFile_StreamsAndMatchesPut(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data := []byte("stack trace: goroutine 1 [running]")

	byValue, err := store.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	store2, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open second store: %v", err)
	}
	byStream, size, err := store2.PutFile(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("putfile: %v", err)
	}
	if byStream != byValue {
		t.Fatalf("expected PutFile and Put to agree on digest, got %s vs %s", byStream, byValue)
	}
	if size != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), size)
	}
}

func TestWalk_VisitsOnlyDigestNamedFiles(t *testing.T) {
	store, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	hash, err := store.Put(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	var visited []string
	if err := store.Walk(func(h string, size int64) error {
		visited = append(visited, h)
		return nil
	}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(visited) != 1 || visited[0] != hash {
		t.Fatalf("expected to visit exactly %s, got %v", hash, visited)
	}
}
