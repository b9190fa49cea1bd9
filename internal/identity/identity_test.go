package identity_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kbengine/kbengine/internal/identity"
	"github.com/kbengine/kbengine/internal/types"
)

func TestLoad_CreatesAndPersistsOnFirstUse(t *testing.T) {
	dir := t.TempDir()

	rec, err := identity.Load(dir, types.KindPersonal)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.InstanceID == "" {
		t.Fatal("expected a generated instance id")
	}
	if rec.Kind != types.KindPersonal {
		t.Fatalf("expected Personal kind, got %s", rec.Kind)
	}

	data, err := os.ReadFile(filepath.Join(dir, identity.FileName))
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	var onDisk types.InstanceRecord
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("unmarshal persisted record: %v", err)
	}
	if onDisk.InstanceID != rec.InstanceID {
		t.Fatalf("expected persisted record to match returned record, got %s vs %s", onDisk.InstanceID, rec.InstanceID)
	}
}

func TestLoad_ReloadsExistingRecordWithoutMintingANewID(t *testing.T) {
	dir := t.TempDir()

	first, err := identity.Load(dir, types.KindCorporate)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	second, err := identity.Load(dir, types.KindPersonal)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second.InstanceID != first.InstanceID {
		t.Fatalf("expected stable instance id across loads, got %s then %s", first.InstanceID, second.InstanceID)
	}
	if second.Kind != types.KindCorporate {
		t.Fatalf("expected kind from the original record to survive, got %s", second.Kind)
	}
}

func TestLoad_RejectsRecordMissingInstanceID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, identity.FileName), []byte(`{"kind":"Personal"}`), 0o600); err != nil {
		t.Fatalf("seed malformed record: %v", err)
	}
	if _, err := identity.Load(dir, types.KindPersonal); err == nil {
		t.Fatal("expected an error for a record missing instanceId")
	}
}
