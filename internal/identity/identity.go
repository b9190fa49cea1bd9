// Package identity implements C1: resolving the per-installation identity
// record, generating it on first use, and caching it for the process
// lifetime inside whichever Engine handle owns it (never in a
// package-level singleton, per the design notes).
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kbengine/kbengine/internal/atomicfile"
	"github.com/kbengine/kbengine/internal/types"
)

// FileName is the identity record's file name under the config directory.
const FileName = "instance.json"

// Load reads the instance record from configDir/instance.json, creating
// one with a fresh UUID and Kind set to defaultKind (Personal when empty)
// if none exists yet. The write is atomic (temp file + rename) so a crash mid-write
// never corrupts the record.
func Load(configDir string, defaultKind types.InstanceKind) (*types.InstanceRecord, error) {
	path := filepath.Join(configDir, FileName)

	data, err := os.ReadFile(path) // #nosec G304 -- configDir is operator-controlled, not request input
	switch {
	case err == nil:
		var rec types.InstanceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("identity: parse %s: %w", path, err)
		}
		if rec.InstanceID == "" {
			return nil, fmt.Errorf("identity: %s missing instanceId", path)
		}
		return &rec, nil
	case os.IsNotExist(err):
		// fall through to create
	default:
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	if defaultKind == "" {
		defaultKind = types.KindPersonal
	}
	rec := &types.InstanceRecord{
		InstanceID:   uuid.NewString(),
		Kind:         defaultKind,
		CreatedAtUtc: time.Now().UTC(),
	}

	encoded, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("identity: marshal new record: %w", err)
	}
	if err := atomicfile.Write(path, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("identity: persist new record: %w", err)
	}
	return rec, nil
}
