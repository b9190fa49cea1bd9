package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// GetSyncState returns the watermark pair for (local, remote), or a zero
// value if no row exists yet — an unseen remote simply has no watermarks.
func (s *Store) GetSyncState(ctx context.Context, localInstanceID, remoteInstanceID string) (SyncStateRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT lastExportedUpdatedAtUtc, lastImportedUpdatedAtUtc, lastPackageId
		FROM syncState WHERE localInstanceId = ? AND remoteInstanceId = ?
	`, localInstanceID, remoteInstanceID)
	var exported, imported, pkgID sql.NullString
	err := row.Scan(&exported, &imported, &pkgID)
	if err == sql.ErrNoRows {
		return SyncStateRow{LocalInstanceID: localInstanceID, RemoteInstanceID: remoteInstanceID}, nil
	}
	if err != nil {
		return SyncStateRow{}, wrapDBError("get sync state", err)
	}
	return SyncStateRow{
		LocalInstanceID:          localInstanceID,
		RemoteInstanceID:         remoteInstanceID,
		LastExportedUpdatedAtUtc: parseNullableTimeString(exported),
		LastImportedUpdatedAtUtc: parseNullableTimeString(imported),
		LastPackageID:            pkgID.String,
	}, nil
}

// SyncStateRow mirrors types.SyncState with nullable watermark fields as
// read directly off the row; kept local to this package so callers that
// only need one side (export or import) of the pair aren't forced to
// round-trip through types.SyncState.
type SyncStateRow struct {
	LocalInstanceID          string
	RemoteInstanceID         string
	LastExportedUpdatedAtUtc *time.Time
	LastImportedUpdatedAtUtc *time.Time
	LastPackageID            string
}

// UpdateExportWatermark advances the last-exported watermark for
// (local, remote) after a successful export, upserting the row.
func (s *Store) UpdateExportWatermark(ctx context.Context, localInstanceID, remoteInstanceID, maxUpdatedAtUtc, packageID string) error {
	return s.withTx(ctx, "update export watermark", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO syncState (localInstanceId, remoteInstanceId, lastExportedUpdatedAtUtc, lastImportedUpdatedAtUtc, lastPackageId)
			VALUES (?, ?, ?, NULL, ?)
			ON CONFLICT (localInstanceId, remoteInstanceId) DO UPDATE SET
				lastExportedUpdatedAtUtc = excluded.lastExportedUpdatedAtUtc,
				lastPackageId = excluded.lastPackageId
		`, localInstanceID, remoteInstanceID, maxUpdatedAtUtc, packageID)
		if err != nil {
			return wrapDBError("upsert export watermark", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO exportState (localInstanceId, remoteInstanceId, lastExportedUpdatedAtUtc, lastPackageId)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (localInstanceId, remoteInstanceId) DO UPDATE SET
				lastExportedUpdatedAtUtc = excluded.lastExportedUpdatedAtUtc,
				lastPackageId = excluded.lastPackageId
		`, localInstanceID, remoteInstanceID, maxUpdatedAtUtc, packageID)
		return wrapDBError("upsert export state", err)
	})
}

// UpdateImportWatermark advances the last-imported watermark for
// (local, remote) after a successful import, upserting the row.
func (s *Store) UpdateImportWatermark(ctx context.Context, localInstanceID, remoteInstanceID, maxUpdatedAtUtc, packageID string) error {
	return s.withTx(ctx, "update import watermark", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO syncState (localInstanceId, remoteInstanceId, lastExportedUpdatedAtUtc, lastImportedUpdatedAtUtc, lastPackageId)
			VALUES (?, ?, NULL, ?, ?)
			ON CONFLICT (localInstanceId, remoteInstanceId) DO UPDATE SET
				lastImportedUpdatedAtUtc = excluded.lastImportedUpdatedAtUtc,
				lastPackageId = excluded.lastPackageId
		`, localInstanceID, remoteInstanceID, maxUpdatedAtUtc, packageID)
		return wrapDBError("upsert import watermark", err)
	})
}

