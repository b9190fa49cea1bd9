// Package engine implements C0a: the explicit engine handle that wires
// every component together. The corpus wires its own daemon the same
// way — cmd/bd/main.go constructs the storage backend, config, and
// RPC/UI layers explicitly at startup and threads the resulting handles
// through every command — rather than relying on package-level globals.
// Engine is that same explicit-handle pattern applied to this domain.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kbengine/kbengine/internal/blobstore"
	"github.com/kbengine/kbengine/internal/config"
	"github.com/kbengine/kbengine/internal/conflict"
	"github.com/kbengine/kbengine/internal/identity"
	"github.com/kbengine/kbengine/internal/merge"
	"github.com/kbengine/kbengine/internal/metrics"
	"github.com/kbengine/kbengine/internal/search"
	"github.com/kbengine/kbengine/internal/storage/sqlite"
	"github.com/kbengine/kbengine/internal/types"
)

// Engine is the single handle a CLI command or LAN request handler needs.
// It owns the store, blob directory, merge/conflict capabilities, and
// this installation's identity; nothing here is a package-level global.
type Engine struct {
	Store    *sqlite.Store
	Blobs    *blobstore.Store
	Merge    *merge.Engine
	Conflict *conflict.Ledger
	Search   *search.Engine
	Identity *types.InstanceRecord
	Settings config.AppSettings
	Metrics  *metrics.Recorder
	Log      *slog.Logger
}

// Open constructs every component of the engine from settings: loads or
// mints this installation's identity, opens the SQLite store (applying
// pending migrations), opens the blob store, and wires merge/conflict/
// search on top.
func Open(ctx context.Context, settings config.AppSettings, log *slog.Logger, rec *metrics.Recorder) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewNoop()
	}

	inst, err := identity.Load(settings.ConfigDir, types.KindPersonal)
	if err != nil {
		return nil, fmt.Errorf("engine: load identity: %w", err)
	}

	dbPath := filepath.Join(settings.DataDir, "kbengine.db")
	store, err := sqlite.Open(ctx, dbPath, inst.InstanceID, settings.RetryBusyDelay(), log)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	blobsDir := filepath.Join(settings.DataDir, "blobs")
	blobs, err := blobstore.Open(blobsDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine: open blob store: %w", err)
	}

	mergeEngine := merge.New(store)
	mergeEngine.OnDecision = func(entityType types.EntityType, outcome merge.Outcome) {
		rec.MergeDecision(context.Background(), string(entityType), string(outcome))
	}

	return &Engine{
		Store:    store,
		Blobs:    blobs,
		Merge:    mergeEngine,
		Conflict: conflict.New(store),
		Search:   search.New(store.DB()),
		Identity: inst,
		Settings: settings,
		Metrics:  rec,
		Log:      log,
	}, nil
}

// Close releases the store handle. The blob store holds no handles that
// need releasing.
func (e *Engine) Close() error {
	return e.Store.Close()
}

// Now returns the current UTC instant, centralizing the one place callers derive
// "now" so tests can reason about a single clock source per engine call.
func (e *Engine) Now() time.Time {
	return time.Now().UTC()
}

// InstanceID is a convenience accessor used throughout the CLI and LAN
// handlers wherever an UpdatedByInstanceID is needed.
func (e *Engine) InstanceID() string {
	return e.Identity.InstanceID
}
