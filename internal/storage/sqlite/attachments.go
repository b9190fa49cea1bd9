package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kbengine/kbengine/internal/kberrors"
	"github.com/kbengine/kbengine/internal/types"
)

// UpsertAttachment writes an attachment metadata row. The caller (the
// engine, backed by internal/blobstore) is responsible for ensuring the
// blob named by ContentHash already exists before this is called.
func (s *Store) UpsertAttachment(ctx context.Context, a types.Attachment) error {
	if a.ID == "" || a.ProblemID == "" || a.ContentHash == "" {
		return fmt.Errorf("attachment id, problemId and contentHash required: %w", kberrors.Validation)
	}
	return s.withTx(ctx, "upsert attachment", func(ctx context.Context, tx *sql.Tx) error {
		return upsertAttachmentTx(ctx, tx, a)
	})
}

func upsertAttachmentTx(ctx context.Context, tx *sql.Tx, a types.Attachment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO attachment (
			id, problemId, originalFileName, contentHash, sizeBytes, mimeType,
			createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			originalFileName = excluded.originalFileName,
			contentHash = excluded.contentHash,
			sizeBytes = excluded.sizeBytes,
			mimeType = excluded.mimeType,
			updatedAtUtc = excluded.updatedAtUtc,
			updatedByInstanceId = excluded.updatedByInstanceId,
			isDeleted = excluded.isDeleted,
			deletedAtUtc = excluded.deletedAtUtc
	`, a.ID, a.ProblemID, a.OriginalFileName, a.ContentHash, a.SizeBytes, a.MimeType,
		formatTime(a.CreatedAtUtc), formatTime(a.UpdatedAtUtc), a.UpdatedByInstanceID,
		boolToInt(a.IsDeleted), formatTimePtr(a.DeletedAtUtc))
	return wrapDBError("upsert attachment row", err)
}

// SoftDeleteAttachment marks an attachment deleted. The underlying blob is
// left in place; blobstore garbage collection is out of scope (see
// SPEC_FULL.md's non-goal on blob GC).
func (s *Store) SoftDeleteAttachment(ctx context.Context, id, nowUtc, updatedBy string) error {
	return s.withTx(ctx, "soft delete attachment", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE attachment SET isDeleted = 1, deletedAtUtc = ?, updatedAtUtc = ?, updatedByInstanceId = ?
			WHERE id = ?
		`, nowUtc, nowUtc, updatedBy, id)
		if err != nil {
			return wrapDBError("soft delete attachment row", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("soft delete attachment %s: %w", id, kberrors.NotFound)
		}
		return nil
	})
}

// GetAttachmentsForProblem returns the active attachments linked to a
// problem, most recently created first.
func (s *Store) GetAttachmentsForProblem(ctx context.Context, problemID string) ([]types.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, problemId, originalFileName, contentHash, sizeBytes, mimeType,
		       createdAtUtc, updatedAtUtc, updatedByInstanceId
		FROM attachment
		WHERE problemId = ? AND isDeleted = 0
		ORDER BY createdAtUtc DESC
	`, problemID)
	if err != nil {
		return nil, wrapDBError("get attachments for problem", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Attachment
	for rows.Next() {
		var a types.Attachment
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.ProblemID, &a.OriginalFileName, &a.ContentHash, &a.SizeBytes,
			&a.MimeType, &createdAt, &updatedAt, &a.UpdatedByInstanceID); err != nil {
			return nil, wrapDBError("scan attachment row", err)
		}
		a.CreatedAtUtc = parseTimeString(createdAt)
		a.UpdatedAtUtc = parseTimeString(updatedAt)
		out = append(out, a)
	}
	return out, wrapDBError("iterate attachments", rows.Err())
}

// GetAttachmentByID returns the attachment, or (nil, nil) if absent.
func (s *Store) GetAttachmentByID(ctx context.Context, id string) (*types.Attachment, error) {
	return getAttachmentByID(ctx, s.db, id)
}

func getAttachmentByID(ctx context.Context, q querier, id string) (*types.Attachment, error) {
	var a types.Attachment
	var createdAt, updatedAt string
	row := q.QueryRowContext(ctx, `
		SELECT id, problemId, originalFileName, contentHash, sizeBytes, mimeType, createdAtUtc, updatedAtUtc, updatedByInstanceId
		FROM attachment WHERE id = ?
	`, id)
	err := row.Scan(&a.ID, &a.ProblemID, &a.OriginalFileName, &a.ContentHash, &a.SizeBytes,
		&a.MimeType, &createdAt, &updatedAt, &a.UpdatedByInstanceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("get attachment by id", err)
	}
	a.CreatedAtUtc = parseTimeString(createdAt)
	a.UpdatedAtUtc = parseTimeString(updatedAt)
	return &a, nil
}

// ContentHashInUse reports whether any attachment row (deleted or not)
// still references the given blob hash, used by blobstore's doctor pass
// to decide whether an orphaned file is safe to report.
func (s *Store) ContentHashInUse(ctx context.Context, hash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachment WHERE contentHash = ?`, hash).Scan(&count)
	if err != nil {
		return false, wrapDBError("check content hash in use", err)
	}
	return count > 0, nil
}
