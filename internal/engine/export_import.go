package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kbengine/kbengine/internal/merge"
	"github.com/kbengine/kbengine/internal/pkgcodec"
	"github.com/kbengine/kbengine/internal/storage/sqlite"
)

// Export writes a package to outputPath for the given mode and remote
// peer, advancing the export watermark for that peer on success.
func (e *Engine) Export(ctx context.Context, mode pkgcodec.Mode, remoteInstanceID, outputPath string) (*pkgcodec.ExportResult, error) {
	start := time.Now()

	var base *time.Time
	if mode == pkgcodec.ModeIncremental {
		state, err := e.Store.GetSyncState(ctx, e.InstanceID(), remoteInstanceID)
		if err != nil {
			return nil, fmt.Errorf("engine: load sync state: %w", err)
		}
		base = state.LastExportedUpdatedAtUtc
	}

	result, err := pkgcodec.Export(ctx, e.Store, e.Blobs, pkgcodec.ExportRequest{
		ExporterInstanceID: e.InstanceID(),
		ExporterKind:       e.Identity.Kind,
		Mode:               mode,
		BaseWatermarkUtc:   base,
		OutputPath:         outputPath,
	})
	if err != nil {
		return nil, err
	}

	if err := e.Store.UpdateExportWatermark(ctx, e.InstanceID(), remoteInstanceID, result.MaxUpdatedAtUtc, result.PackageID); err != nil {
		return nil, fmt.Errorf("engine: advance export watermark: %w", err)
	}

	e.Metrics.ExportDuration(ctx, time.Since(start).Seconds(), string(mode))
	return result, nil
}

// ExportToWriter is the LAN server's export entry point: it stages the
// package to a temp file (pkgcodec.Export needs a seekable path for its
// staged ZIP write) and streams it to w.
func (e *Engine) ExportToWriter(ctx context.Context, mode, remoteInstanceID string, w io.Writer) error {
	tmp, err := os.CreateTemp("", "lan-export-*.zip")
	if err != nil {
		return fmt.Errorf("engine: stage lan export: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := e.Export(ctx, pkgcodec.Mode(mode), remoteInstanceID, tmpPath); err != nil {
		return err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("engine: reopen staged export: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(w, f)
	return err
}

// Import applies a package file at packagePath through the merge engine
// and advances the import watermark for remoteInstanceID, derived from
// the package's own exporterInstanceId rather than a caller-supplied
// value, since the peer identity is authoritative from the manifest.
func (e *Engine) Import(ctx context.Context, packagePath string) (*pkgcodec.ImportResult, error) {
	var result *pkgcodec.ImportResult
	err := e.Store.WithTx(ctx, "import package", func(ctx context.Context, txStore *sqlite.TxStore) error {
		applier := merge.New(txStore)
		applier.OnDecision = e.Merge.OnDecision
		r, err := pkgcodec.Import(ctx, packagePath, e.Blobs, applier)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	maxUpdated := result.Manifest.MaxUpdatedAtUtc.UTC().Format(time.RFC3339Nano)
	if err := e.Store.UpdateImportWatermark(ctx, e.InstanceID(), result.Manifest.ExporterInstanceID,
		maxUpdated, result.Manifest.PackageID); err != nil {
		return nil, fmt.Errorf("engine: advance import watermark: %w", err)
	}

	return result, nil
}

// ImportFromReader is the LAN server's import entry point: it stages the
// uploaded body to a temp file (pkgcodec.Import needs random access into
// a ZIP central directory) before applying it.
func (e *Engine) ImportFromReader(ctx context.Context, r io.Reader, n int64) error {
	tmp, err := os.CreateTemp("", "lan-import-*.zip")
	if err != nil {
		return fmt.Errorf("engine: stage lan import: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.CopyN(tmp, r, n); err != nil {
		return fmt.Errorf("engine: receive lan import body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: close staged import: %w", err)
	}

	_, err = e.Import(ctx, tmpPath)
	return err
}

// Ping satisfies lanserver.Handlers.
func (e *Engine) Ping(ctx context.Context) (string, error) {
	return e.InstanceID(), nil
}
