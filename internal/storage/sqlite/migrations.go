package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one numbered schema step, applied in ascending order and
// recorded in schema_migrations so re-applying is a no-op.
type migration struct {
	version int
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, migrateV1},
	{2, migrateV2},
	{3, migrateV3},
	{4, migrateV4},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			appliedAtUtc TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if err := s.withTx(ctx, fmt.Sprintf("migrate v%d", m.version), func(ctx context.Context, tx *sql.Tx) error {
			var already int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&already)
			if err != nil {
				return fmt.Errorf("check schema_migrations: %w", err)
			}
			if already > 0 {
				return nil // idempotent: already applied
			}
			if err := m.apply(ctx, tx); err != nil {
				return fmt.Errorf("apply migration v%d: %w", m.version, err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO schema_migrations (version, appliedAtUtc) VALUES (?, ?)`,
				m.version, time.Now().UTC().Format(time.RFC3339Nano))
			if err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// migrateV1 creates the base tables and the FTS virtual table.
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS problem (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			symptom TEXT NOT NULL DEFAULT '',
			rootCause TEXT NOT NULL DEFAULT '',
			solution TEXT NOT NULL DEFAULT '',
			environmentJson TEXT NOT NULL DEFAULT '{}',
			severity INTEGER NOT NULL DEFAULT 0,
			status INTEGER NOT NULL DEFAULT 0,
			createdBy TEXT NOT NULL DEFAULT '',
			sourceKind TEXT NOT NULL DEFAULT 'Personal',
			createdAtUtc TEXT NOT NULL,
			updatedAtUtc TEXT NOT NULL,
			updatedByInstanceId TEXT NOT NULL,
			isDeleted INTEGER NOT NULL DEFAULT 0,
			deletedAtUtc TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tag (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			createdAtUtc TEXT NOT NULL,
			updatedAtUtc TEXT NOT NULL,
			updatedByInstanceId TEXT NOT NULL,
			isDeleted INTEGER NOT NULL DEFAULT 0,
			deletedAtUtc TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS problemTag (
			id TEXT PRIMARY KEY,
			problemId TEXT NOT NULL REFERENCES problem(id),
			tagId TEXT NOT NULL REFERENCES tag(id),
			createdAtUtc TEXT NOT NULL,
			updatedAtUtc TEXT NOT NULL,
			updatedByInstanceId TEXT NOT NULL,
			isDeleted INTEGER NOT NULL DEFAULT 0,
			deletedAtUtc TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS attachment (
			id TEXT PRIMARY KEY,
			problemId TEXT NOT NULL REFERENCES problem(id),
			originalFileName TEXT NOT NULL,
			contentHash TEXT NOT NULL,
			sizeBytes INTEGER NOT NULL,
			mimeType TEXT NOT NULL DEFAULT '',
			createdAtUtc TEXT NOT NULL,
			updatedAtUtc TEXT NOT NULL,
			updatedByInstanceId TEXT NOT NULL,
			isDeleted INTEGER NOT NULL DEFAULT 0,
			deletedAtUtc TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS conflictRecord (
			id TEXT PRIMARY KEY,
			entityType TEXT NOT NULL,
			entityId TEXT NOT NULL,
			importedUpdatedAtUtc TEXT NOT NULL,
			localUpdatedAtUtc TEXT NOT NULL,
			localJson TEXT NOT NULL,
			importedJson TEXT NOT NULL,
			createdAtUtc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS syncState (
			localInstanceId TEXT NOT NULL,
			remoteInstanceId TEXT NOT NULL,
			lastExportedUpdatedAtUtc TEXT,
			lastImportedUpdatedAtUtc TEXT,
			lastPackageId TEXT,
			PRIMARY KEY (localInstanceId, remoteInstanceId)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_problemTag_problemId ON problemTag(problemId)`,
		`CREATE INDEX IF NOT EXISTS idx_problemTag_tagId ON problemTag(tagId)`,
		`CREATE INDEX IF NOT EXISTS idx_attachment_problemId ON attachment(problemId)`,
		`CREATE INDEX IF NOT EXISTS idx_attachment_contentHash ON attachment(contentHash)`,
		`CREATE INDEX IF NOT EXISTS idx_problem_updatedAtUtc ON problem(updatedAtUtc)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS problem_fts USING fts5(
			problemId UNINDEXED,
			title, symptom, rootCause, solution, environmentJson,
			tokenize = 'unicode61'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// migrateV2 adds (updatedAtUtc) indexes to tag, problemTag, attachment and
// creates exportState (kept distinct from syncState per spec.md's naming,
// though both are watermark tables keyed by (local,remote); exportState
// tracks the export side explicitly for components that only need it).
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_tag_updatedAtUtc ON tag(updatedAtUtc)`,
		`CREATE INDEX IF NOT EXISTS idx_problemTag_updatedAtUtc ON problemTag(updatedAtUtc)`,
		`CREATE INDEX IF NOT EXISTS idx_attachment_updatedAtUtc ON attachment(updatedAtUtc)`,
		`CREATE TABLE IF NOT EXISTS exportState (
			localInstanceId TEXT NOT NULL,
			remoteInstanceId TEXT NOT NULL,
			lastExportedUpdatedAtUtc TEXT,
			lastPackageId TEXT,
			PRIMARY KEY (localInstanceId, remoteInstanceId)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// migrateV3 adds resolution columns to conflictRecord.
func migrateV3(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE conflictRecord ADD COLUMN resolvedAtUtc TEXT`,
		`ALTER TABLE conflictRecord ADD COLUMN resolution TEXT`,
		`ALTER TABLE conflictRecord ADD COLUMN resolvedBy TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_conflictRecord_resolvedAtUtc ON conflictRecord(resolvedAtUtc)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// migrateV4 deduplicates tags by lower(trim(name)) on active rows,
// remapping links from duplicates to the canonical id (earliest
// (createdAtUtc, id)), soft-deleting the losers, deleting duplicate
// active (problemId, tagId) rows, and enforcing name uniqueness on active
// tags going forward with a partial unique index.
func migrateV4(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, createdAtUtc FROM tag WHERE isDeleted = 0
	`)
	if err != nil {
		return fmt.Errorf("scan active tags: %w", err)
	}
	type tagRow struct {
		id, name, createdAtUtc string
	}
	var all []tagRow
	for rows.Next() {
		var t tagRow
		if err := rows.Scan(&t.id, &t.name, &t.createdAtUtc); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan tag row: %w", err)
		}
		all = append(all, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	groups := map[string][]tagRow{}
	for _, t := range all {
		key := normalizeTagName(t.name)
		groups[key] = append(groups[key], t)
	}

	now := nowUTC()
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		canonical := group[0]
		for _, candidate := range group[1:] {
			if candidate.createdAtUtc < canonical.createdAtUtc ||
				(candidate.createdAtUtc == canonical.createdAtUtc && candidate.id < canonical.id) {
				canonical = candidate
			}
		}
		for _, loser := range group {
			if loser.id == canonical.id {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE problemTag SET tagId = ? WHERE tagId = ? AND isDeleted = 0`,
				canonical.id, loser.id); err != nil {
				return fmt.Errorf("remap problemTag links: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE tag SET isDeleted = 1, deletedAtUtc = ?, updatedAtUtc = ?, updatedByInstanceId = 'migration'
				WHERE id = ?`, now, now, loser.id); err != nil {
				return fmt.Errorf("soft-delete duplicate tag: %w", err)
			}
		}
	}

	// After remapping, duplicate active (problemId, tagId) rows can
	// exist (two different pre-merge tags both linked to the same
	// problem). Keep the lowest id per (problemId, tagId), delete the
	// rest outright — these are link rows created purely as a migration
	// side effect, not user history worth preserving as soft-deletes.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM problemTag
		WHERE isDeleted = 0 AND id NOT IN (
			SELECT MIN(id) FROM problemTag WHERE isDeleted = 0 GROUP BY problemId, tagId
		)
	`); err != nil {
		return fmt.Errorf("delete duplicate problemTag rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_tag_active_name_unique
		ON tag(LOWER(TRIM(name))) WHERE isDeleted = 0
	`); err != nil {
		return fmt.Errorf("create tag name unique index: %w", err)
	}
	return nil
}

func normalizeTagName(name string) string {
	return toLowerTrim(name)
}

func nowUTC() string {
	return timeNow().UTC().Format(timeRFC3339Nano)
}
