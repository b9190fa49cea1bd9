package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbengine/kbengine/internal/types"
)

func TestSyncState_DefaultsToZeroValueThenTracksWatermarks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state, err := s.GetSyncState(ctx, "local", "remote")
	if err != nil {
		t.Fatalf("get sync state: %v", err)
	}
	if state.LastExportedUpdatedAtUtc != nil || state.LastImportedUpdatedAtUtc != nil {
		t.Fatalf("expected zero-value watermarks for an unseen pair, got %+v", state)
	}

	maxTs := formatTime(time.Now().UTC())
	if err := s.UpdateExportWatermark(ctx, "local", "remote", maxTs, "pkg-1"); err != nil {
		t.Fatalf("update export watermark: %v", err)
	}
	state, err = s.GetSyncState(ctx, "local", "remote")
	if err != nil {
		t.Fatalf("get sync state after export: %v", err)
	}
	if state.LastExportedUpdatedAtUtc == nil || state.LastPackageID != "pkg-1" {
		t.Fatalf("expected export watermark recorded, got %+v", state)
	}
	if state.LastImportedUpdatedAtUtc != nil {
		t.Fatalf("expected import watermark still unset, got %+v", state.LastImportedUpdatedAtUtc)
	}

	if err := s.UpdateImportWatermark(ctx, "local", "remote", maxTs, "pkg-2"); err != nil {
		t.Fatalf("update import watermark: %v", err)
	}
	state, err = s.GetSyncState(ctx, "local", "remote")
	if err != nil {
		t.Fatalf("get sync state after import: %v", err)
	}
	if state.LastImportedUpdatedAtUtc == nil || state.LastPackageID != "pkg-2" {
		t.Fatalf("expected import watermark to overwrite lastPackageId, got %+v", state)
	}
}

func TestHardDeleteProblems_RemovesOnlyMatchedRowsAndCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	keep := types.Problem{Entity: types.Entity{ID: uuid.NewString(), CreatedAtUtc: now, UpdatedAtUtc: now}, Title: "keep me"}
	purge := types.Problem{Entity: types.Entity{ID: uuid.NewString(), CreatedAtUtc: now, UpdatedAtUtc: now, IsDeleted: true, DeletedAtUtc: &now}, Title: "purge me"}
	if err := s.UpsertProblem(ctx, keep); err != nil {
		t.Fatalf("upsert keep: %v", err)
	}
	if err := s.UpsertProblem(ctx, purge); err != nil {
		t.Fatalf("upsert purge: %v", err)
	}
	if err := s.UpsertAttachment(ctx, types.Attachment{
		Entity:      types.Entity{ID: uuid.NewString(), CreatedAtUtc: now, UpdatedAtUtc: now, UpdatedByInstanceID: "test-instance"},
		ProblemID:   purge.ID,
		ContentHash: "abc123",
		SizeBytes:   3,
	}); err != nil {
		t.Fatalf("upsert attachment: %v", err)
	}

	filter := types.HardDeleteFilter{IncludeSoftDeleted: true}
	count, err := s.CountProblemsForHardDeleteFilter(ctx, filter)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count to include both rows with IncludeSoftDeleted, got %d", count)
	}

	filter = types.HardDeleteFilter{} // default excludes soft-deleted rows, so only "keep" would match here
	count, err = s.CountProblemsForHardDeleteFilter(ctx, filter)
	if err != nil {
		t.Fatalf("count default filter: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the live row to match the default filter, got %d", count)
	}

	deleted, err := s.HardDeleteProblems(ctx, types.HardDeleteFilter{IncludeSoftDeleted: true, UpdatedToUtc: &now})
	if err != nil {
		t.Fatalf("hard delete: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected both rows deleted, got %d", deleted)
	}

	got, err := s.GetProblemByID(ctx, purge.ID)
	if err != nil || got != nil {
		t.Fatalf("expected purged problem gone, got %+v (err=%v)", got, err)
	}
	got, err = s.GetProblemByID(ctx, keep.ID)
	if err != nil || got != nil {
		t.Fatalf("expected both rows gone since UpdatedToUtc matched both, got %+v (err=%v)", got, err)
	}
	var attachmentCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachment WHERE problemId = ?`, purge.ID).Scan(&attachmentCount); err != nil || attachmentCount != 0 {
		t.Fatalf("expected the purged problem's attachment removed, got %d (err=%v)", attachmentCount, err)
	}
}
