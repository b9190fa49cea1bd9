// Package enginetest provides a two-peer test harness: two independent
// *engine.Engine instances, each backed by its own temp-dir SQLite file
// and blob store, wired together only through export/import package
// files on disk — the same arrangement two disconnected installations of
// the real engine would have. Tests import this package to exercise
// convergence scenarios without standing up the LAN server.
package enginetest

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/kbengine/kbengine/internal/config"
	"github.com/kbengine/kbengine/internal/engine"
	"github.com/kbengine/kbengine/internal/metrics"
	"github.com/kbengine/kbengine/internal/pkgcodec"
)

// Peer wraps one independent engine instance under test.
type Peer struct {
	Engine *engine.Engine
	t      *testing.T
}

// NewPeer opens a fresh engine rooted at a t.TempDir(), discarding log
// output so test output stays on the actual assertions.
func NewPeer(t *testing.T, ctx context.Context) *Peer {
	t.Helper()
	dir := t.TempDir()
	settings := config.Defaults(dir, dir)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	eng, err := engine.Open(ctx, settings, log, metrics.NewNoop())
	if err != nil {
		t.Fatalf("enginetest: open peer: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return &Peer{Engine: eng, t: t}
}

// ExportTo writes a full or incremental package from p to the other peer
// and returns the package path on disk.
func (p *Peer) ExportTo(ctx context.Context, mode pkgcodec.Mode, remote *Peer) string {
	p.t.Helper()
	path := p.t.TempDir() + "/package.zip"
	if _, err := p.Engine.Export(ctx, mode, remote.Engine.InstanceID(), path); err != nil {
		p.t.Fatalf("enginetest: export: %v", err)
	}
	return path
}

// Import applies a package file written by ExportTo.
func (p *Peer) Import(ctx context.Context, packagePath string) *pkgcodec.ImportResult {
	p.t.Helper()
	result, err := p.Engine.Import(ctx, packagePath)
	if err != nil {
		p.t.Fatalf("enginetest: import: %v", err)
	}
	return result
}

// Sync is a convenience for the common case: export everything from src
// to dst and immediately import it.
func Sync(ctx context.Context, src, dst *Peer) *pkgcodec.ImportResult {
	path := src.ExportTo(ctx, pkgcodec.ModeFull, dst)
	return dst.Import(ctx, path)
}
