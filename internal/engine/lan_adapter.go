package engine

import (
	"context"
	"io"
)

// LANAdapter adapts Engine's CLI-shaped Export/Import methods (which work
// against file paths, for the export/import CLI subcommands) to
// lanserver.Handlers' stream-shaped signatures, rather than widening
// Engine's own API with LAN-specific parameter shapes.
type LANAdapter struct {
	Engine *Engine
}

// Ping implements lanserver.Handlers.
func (a LANAdapter) Ping(ctx context.Context) (string, error) {
	return a.Engine.Ping(ctx)
}

// Export implements lanserver.Handlers.
func (a LANAdapter) Export(ctx context.Context, mode, remoteInstanceID string, w io.Writer) error {
	return a.Engine.ExportToWriter(ctx, mode, remoteInstanceID, w)
}

// Import implements lanserver.Handlers.
func (a LANAdapter) Import(ctx context.Context, r io.Reader, n int64) error {
	return a.Engine.ImportFromReader(ctx, r, n)
}
