package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kbengine/kbengine/internal/kberrors"
	"github.com/kbengine/kbengine/internal/types"
)

// UpsertProblem writes row and replaces the FTS entry; if the row is
// soft-deleted the FTS row is removed instead of inserted.
func (s *Store) UpsertProblem(ctx context.Context, p types.Problem) error {
	if err := validateProblem(p); err != nil {
		return err
	}
	return s.withTx(ctx, "upsert problem", func(ctx context.Context, tx *sql.Tx) error {
		return upsertProblemTx(ctx, tx, p)
	})
}

func validateProblem(p types.Problem) error {
	if p.ID == "" {
		return fmt.Errorf("problem id required: %w", kberrors.Validation)
	}
	if p.Title == "" {
		return fmt.Errorf("problem title required: %w", kberrors.Validation)
	}
	return nil
}

func upsertProblemTx(ctx context.Context, tx *sql.Tx, p types.Problem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO problem (
			id, title, symptom, rootCause, solution, environmentJson, severity, status,
			createdBy, sourceKind, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			symptom = excluded.symptom,
			rootCause = excluded.rootCause,
			solution = excluded.solution,
			environmentJson = excluded.environmentJson,
			severity = excluded.severity,
			status = excluded.status,
			createdBy = excluded.createdBy,
			sourceKind = excluded.sourceKind,
			updatedAtUtc = excluded.updatedAtUtc,
			updatedByInstanceId = excluded.updatedByInstanceId,
			isDeleted = excluded.isDeleted,
			deletedAtUtc = excluded.deletedAtUtc
	`,
		p.ID, p.Title, p.Symptom, p.RootCause, p.Solution, p.EnvironmentJSON, p.Severity, p.Status,
		p.CreatedBy, string(p.SourceKind), formatTime(p.CreatedAtUtc), formatTime(p.UpdatedAtUtc),
		p.UpdatedByInstanceID, boolToInt(p.IsDeleted), formatTimePtr(p.DeletedAtUtc),
	)
	if err != nil {
		return wrapDBError("upsert problem row", err)
	}
	return replaceFTSRow(ctx, tx, p)
}

// replaceFTSRow keeps the full-text index row in lockstep with the
// problem row: deleted problems have no FTS row, live problems always
// have exactly one, rewritten atomically with the row write.
func replaceFTSRow(ctx context.Context, tx *sql.Tx, p types.Problem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM problem_fts WHERE problemId = ?`, p.ID); err != nil {
		return wrapDBError("delete fts row", err)
	}
	if p.IsDeleted {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO problem_fts (problemId, title, symptom, rootCause, solution, environmentJson)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Title, p.Symptom, p.RootCause, p.Solution, p.EnvironmentJSON)
	if err != nil {
		return wrapDBError("insert fts row", err)
	}
	return nil
}

// SoftDeleteProblem marks a problem deleted, removing its FTS row.
func (s *Store) SoftDeleteProblem(ctx context.Context, id string, nowUtc, updatedBy string) error {
	return s.withTx(ctx, "soft delete problem", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE problem SET isDeleted = 1, deletedAtUtc = ?, updatedAtUtc = ?, updatedByInstanceId = ?
			WHERE id = ?
		`, nowUtc, nowUtc, updatedBy, id)
		if err != nil {
			return wrapDBError("soft delete problem row", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("soft delete problem %s: %w", id, kberrors.NotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM problem_fts WHERE problemId = ?`, id); err != nil {
			return wrapDBError("delete fts row", err)
		}
		return nil
	})
}

// GetProblemByID returns the problem, or (nil, nil) if absent — a lookup
// miss is not an error per the error-handling design.
func (s *Store) GetProblemByID(ctx context.Context, id string) (*types.Problem, error) {
	return getProblemByID(ctx, s.db, id)
}

// getProblemByID is the core lookup shared by Store (against the pooled
// *sql.DB) and TxStore (against a single caller-owned *sql.Tx).
func getProblemByID(ctx context.Context, q querier, id string) (*types.Problem, error) {
	var p types.Problem
	var sourceKind string
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	var isDeleted int

	row := q.QueryRowContext(ctx, `
		SELECT id, title, symptom, rootCause, solution, environmentJson, severity, status,
		       createdBy, sourceKind, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc
		FROM problem WHERE id = ?
	`, id)
	err := row.Scan(&p.ID, &p.Title, &p.Symptom, &p.RootCause, &p.Solution, &p.EnvironmentJSON,
		&p.Severity, &p.Status, &p.CreatedBy, &sourceKind, &createdAt, &updatedAt,
		&p.UpdatedByInstanceID, &isDeleted, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("get problem by id", err)
	}
	p.SourceKind = types.SourceKind(sourceKind)
	p.CreatedAtUtc = parseTimeString(createdAt)
	p.UpdatedAtUtc = parseTimeString(updatedAt)
	p.IsDeleted = isDeleted != 0
	p.DeletedAtUtc = parseNullableTimeString(deletedAt)
	return &p, nil
}
