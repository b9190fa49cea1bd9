package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/kbengine/kbengine/internal/kberrors"
	"github.com/kbengine/kbengine/internal/types"
)

// RecordConflict appends a ConflictRecord. Called by the merge engine when
// an imported row loses last-writer-wins arbitration against a strictly
// newer local row; the ledger is append-only, never overwritten by later
// imports of the same entity.
func (s *Store) RecordConflict(ctx context.Context, c types.ConflictRecord) error {
	return s.withTx(ctx, "record conflict", func(ctx context.Context, tx *sql.Tx) error {
		return recordConflictTx(ctx, tx, c)
	})
}

func recordConflictTx(ctx context.Context, tx *sql.Tx, c types.ConflictRecord) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conflictRecord (
			id, entityType, entityId, importedUpdatedAtUtc, localUpdatedAtUtc,
			localJson, importedJson, createdAtUtc, resolvedAtUtc, resolution, resolvedBy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL)
	`, c.ID, string(c.EntityType), c.EntityID, formatTime(c.ImportedUpdatedAtUtc),
		formatTime(c.LocalUpdatedAtUtc), c.LocalJSON, c.ImportedJSON, formatTime(c.CreatedAtUtc))
	return wrapDBError("insert conflict record", err)
}

// ListUnresolvedConflicts returns unresolved conflicts newest-first, up to
// limit rows (limit <= 0 means no cap).
func (s *Store) ListUnresolvedConflicts(ctx context.Context, limit int) ([]types.ConflictRecord, error) {
	query := `
		SELECT id, entityType, entityId, importedUpdatedAtUtc, localUpdatedAtUtc,
		       localJson, importedJson, createdAtUtc
		FROM conflictRecord
		WHERE resolvedAtUtc IS NULL
		ORDER BY createdAtUtc DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list unresolved conflicts", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ConflictRecord
	for rows.Next() {
		c, err := scanConflictCore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, wrapDBError("iterate unresolved conflicts", rows.Err())
}

func scanConflictCore(rows *sql.Rows) (types.ConflictRecord, error) {
	var c types.ConflictRecord
	var entityType, importedAt, localAt, createdAt string
	if err := rows.Scan(&c.ID, &entityType, &c.EntityID, &importedAt, &localAt,
		&c.LocalJSON, &c.ImportedJSON, &createdAt); err != nil {
		return c, wrapDBError("scan conflict row", err)
	}
	c.EntityType = types.EntityType(entityType)
	c.ImportedUpdatedAtUtc = parseTimeString(importedAt)
	c.LocalUpdatedAtUtc = parseTimeString(localAt)
	c.CreatedAtUtc = parseTimeString(createdAt)
	return c, nil
}

// GetConflictByID returns a single conflict record including resolution
// fields, or (nil, nil) if absent.
func (s *Store) GetConflictByID(ctx context.Context, id string) (*types.ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entityType, entityId, importedUpdatedAtUtc, localUpdatedAtUtc,
		       localJson, importedJson, createdAtUtc, resolvedAtUtc, resolution, resolvedBy
		FROM conflictRecord WHERE id = ?
	`, id)
	var c types.ConflictRecord
	var entityType, importedAt, localAt, createdAt string
	var resolvedAt, resolution, resolvedBy sql.NullString
	err := row.Scan(&c.ID, &entityType, &c.EntityID, &importedAt, &localAt,
		&c.LocalJSON, &c.ImportedJSON, &createdAt, &resolvedAt, &resolution, &resolvedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("get conflict by id", err)
	}
	c.EntityType = types.EntityType(entityType)
	c.ImportedUpdatedAtUtc = parseTimeString(importedAt)
	c.LocalUpdatedAtUtc = parseTimeString(localAt)
	c.CreatedAtUtc = parseTimeString(createdAt)
	c.ResolvedAtUtc = parseNullableTimeString(resolvedAt)
	if resolution.Valid {
		c.Resolution = types.Resolution(resolution.String)
	}
	c.ResolvedBy = resolvedBy.String
	return &c, nil
}

// ResolveConflict marks a conflict resolved. Applying the chosen value
// back onto the live entity row is the caller's (internal/conflict's)
// responsibility — this only closes the ledger entry.
func (s *Store) ResolveConflict(ctx context.Context, id string, resolution types.Resolution, resolvedBy, nowUtc string) error {
	return s.withTx(ctx, "resolve conflict", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE conflictRecord SET resolvedAtUtc = ?, resolution = ?, resolvedBy = ?
			WHERE id = ? AND resolvedAtUtc IS NULL
		`, nowUtc, string(resolution), resolvedBy, id)
		if err != nil {
			return wrapDBError("resolve conflict row", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			var exists int
			_ = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflictRecord WHERE id = ?`, id).Scan(&exists)
			if exists == 0 {
				return fmt.Errorf("resolve conflict %s: %w", id, kberrors.NotFound)
			}
			return fmt.Errorf("resolve conflict %s: already resolved: %w", id, kberrors.Validation)
		}
		return nil
	})
}
