package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/kbengine/kbengine/internal/types"
)

// exportWhere renders "" for a full export or a parameterized
// "WHERE updatedAtUtc > ?" clause plus its single arg for an incremental
// one, shared by every Export* method below.
func exportWhere(sinceUtc *time.Time) (string, []any) {
	if sinceUtc == nil {
		return "", nil
	}
	return "WHERE updatedAtUtc > ?", []any{formatTime(*sinceUtc)}
}

// ExportProblems returns every problem (including soft-deleted ones, so
// deletions propagate through the package protocol) matching sinceUtc.
func (s *Store) ExportProblems(ctx context.Context, sinceUtc *time.Time) ([]types.Problem, error) {
	where, args := exportWhere(sinceUtc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, symptom, rootCause, solution, environmentJson, severity, status,
		       createdBy, sourceKind, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc
		FROM problem `+where+`
		ORDER BY updatedAtUtc
	`, args...)
	if err != nil {
		return nil, wrapDBError("export problems", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Problem
	for rows.Next() {
		var p types.Problem
		var sourceKind, createdAt, updatedAt string
		var deletedAt sql.NullString
		var isDeleted int
		if err := rows.Scan(&p.ID, &p.Title, &p.Symptom, &p.RootCause, &p.Solution, &p.EnvironmentJSON,
			&p.Severity, &p.Status, &p.CreatedBy, &sourceKind, &createdAt, &updatedAt, &p.UpdatedByInstanceID,
			&isDeleted, &deletedAt); err != nil {
			return nil, wrapDBError("scan exported problem", err)
		}
		p.SourceKind = types.SourceKind(sourceKind)
		p.CreatedAtUtc = parseTimeString(createdAt)
		p.UpdatedAtUtc = parseTimeString(updatedAt)
		p.IsDeleted = isDeleted != 0
		p.DeletedAtUtc = parseNullableTimeString(deletedAt)
		out = append(out, p)
	}
	return out, wrapDBError("iterate exported problems", rows.Err())
}

// ExportTags returns every tag matching sinceUtc, including soft-deleted
// ones.
func (s *Store) ExportTags(ctx context.Context, sinceUtc *time.Time) ([]types.Tag, error) {
	where, args := exportWhere(sinceUtc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc
		FROM tag `+where+`
		ORDER BY updatedAtUtc
	`, args...)
	if err != nil {
		return nil, wrapDBError("export tags", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Tag
	for rows.Next() {
		var t types.Tag
		var createdAt, updatedAt string
		var deletedAt sql.NullString
		var isDeleted int
		if err := rows.Scan(&t.ID, &t.Name, &createdAt, &updatedAt, &t.UpdatedByInstanceID, &isDeleted, &deletedAt); err != nil {
			return nil, wrapDBError("scan exported tag", err)
		}
		t.CreatedAtUtc = parseTimeString(createdAt)
		t.UpdatedAtUtc = parseTimeString(updatedAt)
		t.IsDeleted = isDeleted != 0
		t.DeletedAtUtc = parseNullableTimeString(deletedAt)
		out = append(out, t)
	}
	return out, wrapDBError("iterate exported tags", rows.Err())
}

// ExportProblemTags returns every link row matching sinceUtc, including
// soft-deleted ones.
func (s *Store) ExportProblemTags(ctx context.Context, sinceUtc *time.Time) ([]types.ProblemTag, error) {
	where, args := exportWhere(sinceUtc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, problemId, tagId, createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc
		FROM problemTag `+where+`
		ORDER BY updatedAtUtc
	`, args...)
	if err != nil {
		return nil, wrapDBError("export problemTags", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ProblemTag
	for rows.Next() {
		var pt types.ProblemTag
		var createdAt, updatedAt string
		var deletedAt sql.NullString
		var isDeleted int
		if err := rows.Scan(&pt.ID, &pt.ProblemID, &pt.TagID, &createdAt, &updatedAt, &pt.UpdatedByInstanceID,
			&isDeleted, &deletedAt); err != nil {
			return nil, wrapDBError("scan exported problemTag", err)
		}
		pt.CreatedAtUtc = parseTimeString(createdAt)
		pt.UpdatedAtUtc = parseTimeString(updatedAt)
		pt.IsDeleted = isDeleted != 0
		pt.DeletedAtUtc = parseNullableTimeString(deletedAt)
		out = append(out, pt)
	}
	return out, wrapDBError("iterate exported problemTags", rows.Err())
}

// ExportAttachments returns every attachment metadata row matching
// sinceUtc, including soft-deleted ones.
func (s *Store) ExportAttachments(ctx context.Context, sinceUtc *time.Time) ([]types.Attachment, error) {
	where, args := exportWhere(sinceUtc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, problemId, originalFileName, contentHash, sizeBytes, mimeType,
		       createdAtUtc, updatedAtUtc, updatedByInstanceId, isDeleted, deletedAtUtc
		FROM attachment `+where+`
		ORDER BY updatedAtUtc
	`, args...)
	if err != nil {
		return nil, wrapDBError("export attachments", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Attachment
	for rows.Next() {
		var a types.Attachment
		var createdAt, updatedAt string
		var deletedAt sql.NullString
		var isDeleted int
		if err := rows.Scan(&a.ID, &a.ProblemID, &a.OriginalFileName, &a.ContentHash, &a.SizeBytes, &a.MimeType,
			&createdAt, &updatedAt, &a.UpdatedByInstanceID, &isDeleted, &deletedAt); err != nil {
			return nil, wrapDBError("scan exported attachment", err)
		}
		a.CreatedAtUtc = parseTimeString(createdAt)
		a.UpdatedAtUtc = parseTimeString(updatedAt)
		a.IsDeleted = isDeleted != 0
		a.DeletedAtUtc = parseNullableTimeString(deletedAt)
		out = append(out, a)
	}
	return out, wrapDBError("iterate exported attachments", rows.Err())
}
