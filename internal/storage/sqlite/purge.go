package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kbengine/kbengine/internal/types"
)

// buildHardDeleteWhere renders the shared WHERE clause and args for both
// the count preview and the actual purge, so the count an operator is
// shown always matches what HardDeleteProblems will act on.
func buildHardDeleteWhere(f types.HardDeleteFilter) (string, []any) {
	var clauses []string
	var args []any

	if !f.IncludeSoftDeleted {
		clauses = append(clauses, "p.isDeleted = 0")
	}
	if f.UpdatedFromUtc != nil {
		clauses = append(clauses, "p.updatedAtUtc >= ?")
		args = append(args, formatTime(*f.UpdatedFromUtc))
	}
	if f.UpdatedToUtc != nil {
		clauses = append(clauses, "p.updatedAtUtc <= ?")
		args = append(args, formatTime(*f.UpdatedToUtc))
	}
	switch f.Profession.Mode {
	case types.ProfessionUnassigned:
		clauses = append(clauses, `p.environmentJson NOT LIKE '%"__professionid"%'`)
	case types.ProfessionSpecific:
		clauses = append(clauses, `p.environmentJson LIKE ?`)
		args = append(args, "%\"__professionid\":\""+f.Profession.ProfessionID+"\"%")
	}
	if len(f.TagIDs) > 0 {
		placeholders := make([]string, len(f.TagIDs))
		for i, id := range f.TagIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, fmt.Sprintf(`p.id IN (
			SELECT pt.problemId FROM problemTag pt
			WHERE pt.isDeleted = 0 AND pt.tagId IN (%s)
		)`, strings.Join(placeholders, ", ")))
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return where, args
}

// CountProblemsForHardDeleteFilter previews how many problems a purge with
// this filter would remove, letting the CLI require operator confirmation
// before committing to an irreversible operation.
func (s *Store) CountProblemsForHardDeleteFilter(ctx context.Context, f types.HardDeleteFilter) (int, error) {
	where, args := buildHardDeleteWhere(f)
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM problem p %s`, where), args...).Scan(&count)
	if err != nil {
		return 0, wrapDBError("count problems for hard delete", err)
	}
	return count, nil
}

// HardDeleteProblems permanently removes every problem matching f along
// with its problemTag links, attachment metadata, FTS row, and conflict
// ledger entries, in one transaction. Blob files are not removed; garbage
// collecting orphaned blobs is out of scope.
func (s *Store) HardDeleteProblems(ctx context.Context, f types.HardDeleteFilter) (int, error) {
	where, args := buildHardDeleteWhere(f)
	var deleted int
	err := s.withTx(ctx, "hard delete problems", func(ctx context.Context, tx *sql.Tx) error {
		idRows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT p.id FROM problem p %s`, where), args...)
		if err != nil {
			return wrapDBError("select problems for hard delete", err)
		}
		var ids []string
		for idRows.Next() {
			var id string
			if err := idRows.Scan(&id); err != nil {
				_ = idRows.Close()
				return wrapDBError("scan problem id for hard delete", err)
			}
			ids = append(ids, id)
		}
		if err := idRows.Err(); err != nil {
			_ = idRows.Close()
			return wrapDBError("iterate problem ids for hard delete", err)
		}
		_ = idRows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM conflictRecord WHERE entityType = 'Problem' AND entityId = ?`, id); err != nil {
				return wrapDBError("delete conflict records for problem", err)
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM conflictRecord WHERE entityType = 'ProblemTag' AND entityId IN (
					SELECT id FROM problemTag WHERE problemId = ?
				)`, id); err != nil {
				return wrapDBError("delete conflict records for problemTag", err)
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM conflictRecord WHERE entityType = 'Attachment' AND entityId IN (
					SELECT id FROM attachment WHERE problemId = ?
				)`, id); err != nil {
				return wrapDBError("delete conflict records for attachment", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM attachment WHERE problemId = ?`, id); err != nil {
				return wrapDBError("delete attachments", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM problemTag WHERE problemId = ?`, id); err != nil {
				return wrapDBError("delete problemTag links", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM problem_fts WHERE problemId = ?`, id); err != nil {
				return wrapDBError("delete fts row", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM problem WHERE id = ?`, id); err != nil {
				return wrapDBError("delete problem row", err)
			}
		}
		deleted = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
