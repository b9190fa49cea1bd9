package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kbengine/kbengine/internal/kberrors"
	"github.com/kbengine/kbengine/internal/types"
)

// CreateTag trims/validates the name; if an active tag with the same
// case-folded name exists it is returned unchanged (idempotent),
// otherwise a new tag is inserted.
func (s *Store) CreateTag(ctx context.Context, name, nowUtc, updatedBy string) (*types.Tag, error) {
	trimmed := trimName(name)
	if trimmed == "" {
		return nil, fmt.Errorf("tag name required: %w", kberrors.Validation)
	}

	var result types.Tag
	err := s.withTx(ctx, "create tag", func(ctx context.Context, tx *sql.Tx) error {
		existing, err := findActiveTagByName(ctx, tx, trimmed)
		if err != nil {
			return err
		}
		if existing != nil {
			result = *existing
			return nil
		}
		t := types.Tag{
			Entity: types.Entity{
				ID:                  uuid.NewString(),
				CreatedAtUtc:        parseTimeString(nowUtc),
				UpdatedAtUtc:        parseTimeString(nowUtc),
				UpdatedByInstanceID: updatedBy,
			},
			Name: strings.TrimSpace(name),
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tag (id, name, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc)
			VALUES (?, ?, ?, ?, ?, 0, NULL)
		`, t.ID, t.Name, nowUtc, nowUtc, updatedBy); err != nil {
			return wrapDBError("insert tag", err)
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func trimName(name string) string {
	return toLowerTrim(name) // normalized for comparison; callers needing display casing use GetAllTags
}

func findActiveTagByName(ctx context.Context, tx *sql.Tx, trimmedLower string) (*types.Tag, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, name, createdAtUtc, updatedAtUtc, updatedByInstanceId
		FROM tag WHERE isDeleted = 0 AND LOWER(TRIM(name)) = ?
		LIMIT 1
	`, trimmedLower)
	var t types.Tag
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.Name, &createdAt, &updatedAt, &t.UpdatedByInstanceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("find active tag by name", err)
	}
	t.CreatedAtUtc = parseTimeString(createdAt)
	t.UpdatedAtUtc = parseTimeString(updatedAt)
	return &t, nil
}

// UpsertTag writes a tag row directly (used by the merge engine, which
// already knows the exact values to write and must not re-derive an id).
func (s *Store) UpsertTag(ctx context.Context, t types.Tag) error {
	return s.withTx(ctx, "upsert tag", func(ctx context.Context, tx *sql.Tx) error {
		return upsertTagTx(ctx, tx, t)
	})
}

func upsertTagTx(ctx context.Context, tx *sql.Tx, t types.Tag) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tag (id, name, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			updatedAtUtc = excluded.updatedAtUtc,
			updatedByInstanceId = excluded.updatedByInstanceId,
			isDeleted = excluded.isDeleted,
			deletedAtUtc = excluded.deletedAtUtc
	`, t.ID, t.Name, formatTime(t.CreatedAtUtc), formatTime(t.UpdatedAtUtc), t.UpdatedByInstanceID,
		boolToInt(t.IsDeleted), formatTimePtr(t.DeletedAtUtc))
	return wrapDBError("upsert tag row", err)
}

// SoftDeleteTag cascades isDeleted=1 with the given timestamp to every
// active problemTag link referencing it.
func (s *Store) SoftDeleteTag(ctx context.Context, id, nowUtc, updatedBy string) error {
	return s.withTx(ctx, "soft delete tag", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tag SET isDeleted = 1, deletedAtUtc = ?, updatedAtUtc = ?, updatedByInstanceId = ?
			WHERE id = ?
		`, nowUtc, nowUtc, updatedBy, id)
		if err != nil {
			return wrapDBError("soft delete tag row", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("soft delete tag %s: %w", id, kberrors.NotFound)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE problemTag SET isDeleted = 1, deletedAtUtc = ?, updatedAtUtc = ?, updatedByInstanceId = ?
			WHERE tagId = ? AND isDeleted = 0
		`, nowUtc, nowUtc, updatedBy, id)
		return wrapDBError("cascade soft delete to problemTag", err)
	})
}

// GetAllTags returns every non-deleted tag.
func (s *Store) GetAllTags(ctx context.Context) ([]types.Tag, error) {
	return getAllTagsCore(ctx, s.db)
}

func getAllTagsCore(ctx context.Context, q querier) ([]types.Tag, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, createdAtUtc, updatedAtUtc, updatedByInstanceId
		FROM tag WHERE isDeleted = 0 ORDER BY name
	`)
	if err != nil {
		return nil, wrapDBError("get all tags", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Tag
	for rows.Next() {
		var t types.Tag
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Name, &createdAt, &updatedAt, &t.UpdatedByInstanceID); err != nil {
			return nil, wrapDBError("scan tag row", err)
		}
		t.CreatedAtUtc = parseTimeString(createdAt)
		t.UpdatedAtUtc = parseTimeString(updatedAt)
		out = append(out, t)
	}
	return out, wrapDBError("iterate tags", rows.Err())
}

// GetTagsForProblem returns the tags actively linked to a problem.
func (s *Store) GetTagsForProblem(ctx context.Context, problemID string) ([]types.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.createdAtUtc, t.updatedAtUtc, t.updatedByInstanceId
		FROM tag t
		JOIN problemTag pt ON pt.tagId = t.id
		WHERE pt.problemId = ? AND pt.isDeleted = 0 AND t.isDeleted = 0
		ORDER BY t.name
	`, problemID)
	if err != nil {
		return nil, wrapDBError("get tags for problem", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Tag
	for rows.Next() {
		var t types.Tag
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Name, &createdAt, &updatedAt, &t.UpdatedByInstanceID); err != nil {
			return nil, wrapDBError("scan tag row", err)
		}
		t.CreatedAtUtc = parseTimeString(createdAt)
		t.UpdatedAtUtc = parseTimeString(updatedAt)
		out = append(out, t)
	}
	return out, wrapDBError("iterate tags for problem", rows.Err())
}

// SetTagsForProblem soft-deletes all currently active links for the
// problem, then for each desired tag either revives an existing link or
// inserts a new one, all within one transaction.
func (s *Store) SetTagsForProblem(ctx context.Context, problemID string, tagIDs []string, nowUtc, updatedBy string) error {
	return s.withTx(ctx, "set tags for problem", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE problemTag SET isDeleted = 1, deletedAtUtc = ?, updatedAtUtc = ?, updatedByInstanceId = ?
			WHERE problemId = ? AND isDeleted = 0
		`, nowUtc, nowUtc, updatedBy, problemID); err != nil {
			return wrapDBError("soft delete existing links", err)
		}

		for _, tagID := range tagIDs {
			var existingID string
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM problemTag WHERE problemId = ? AND tagId = ? ORDER BY createdAtUtc LIMIT 1
			`, problemID, tagID).Scan(&existingID)
			switch {
			case err == sql.ErrNoRows:
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO problemTag (id, problemId, tagId, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc)
					VALUES (?, ?, ?, ?, ?, ?, 0, NULL)
				`, uuid.NewString(), problemID, tagID, nowUtc, nowUtc, updatedBy); err != nil {
					return wrapDBError("insert new link", err)
				}
			case err != nil:
				return wrapDBError("find existing link", err)
			default:
				if _, err := tx.ExecContext(ctx, `
					UPDATE problemTag SET isDeleted = 0, deletedAtUtc = NULL, updatedAtUtc = ?, updatedByInstanceId = ?
					WHERE id = ?
				`, nowUtc, updatedBy, existingID); err != nil {
					return wrapDBError("revive link", err)
				}
			}
		}
		return nil
	})
}

// GetProblemTagByID returns a problemTag row by id regardless of its
// isDeleted state, used by the merge engine to arbitrate an imported
// link against whatever is currently local (including a soft-deleted
// link, which must still participate in LWW comparison).
func (s *Store) GetProblemTagByID(ctx context.Context, id string) (*types.ProblemTag, error) {
	return getProblemTagByID(ctx, s.db, id)
}

func getProblemTagByID(ctx context.Context, q querier, id string) (*types.ProblemTag, error) {
	var pt types.ProblemTag
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	var isDeleted int
	err := q.QueryRowContext(ctx, `
		SELECT id, problemId, tagId, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc
		FROM problemTag WHERE id = ?
	`, id).Scan(&pt.ID, &pt.ProblemID, &pt.TagID, &createdAt, &updatedAt, &pt.UpdatedByInstanceID, &isDeleted, &deletedAt)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, wrapDBError("get problemTag by id", err)
	}
	pt.CreatedAtUtc = parseTimeString(createdAt)
	pt.UpdatedAtUtc = parseTimeString(updatedAt)
	pt.IsDeleted = isDeleted != 0
	pt.DeletedAtUtc = parseNullableTimeString(deletedAt)
	return &pt, nil
}

// UpsertProblemTag writes a problemTag row directly, used by the merge
// engine.
func (s *Store) UpsertProblemTag(ctx context.Context, pt types.ProblemTag) error {
	return s.withTx(ctx, "upsert problemTag", func(ctx context.Context, tx *sql.Tx) error {
		return upsertProblemTagTx(ctx, tx, pt)
	})
}

func upsertProblemTagTx(ctx context.Context, tx *sql.Tx, pt types.ProblemTag) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO problemTag (id, problemId, tagId, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			problemId = excluded.problemId,
			tagId = excluded.tagId,
			updatedAtUtc = excluded.updatedAtUtc,
			updatedByInstanceId = excluded.updatedByInstanceId,
			isDeleted = excluded.isDeleted,
			deletedAtUtc = excluded.deletedAtUtc
	`, pt.ID, pt.ProblemID, pt.TagID, formatTime(pt.CreatedAtUtc), formatTime(pt.UpdatedAtUtc),
		pt.UpdatedByInstanceID, boolToInt(pt.IsDeleted), formatTimePtr(pt.DeletedAtUtc))
	return wrapDBError("upsert problemTag row", err)
}
