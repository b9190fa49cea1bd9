package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbengine/kbengine/internal/kberrors"
	"github.com/kbengine/kbengine/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb.db")
	s, err := Open(context.Background(), path, "test-instance", 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetProblem_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := types.Problem{
		Entity: types.Entity{ID: uuid.NewString(), CreatedAtUtc: now, UpdatedAtUtc: now, UpdatedByInstanceID: "test-instance"},
		Title:  "nil pointer on shutdown",
		Symptom: "panic during graceful stop",
	}
	if err := s.UpsertProblem(ctx, p); err != nil {
		t.Fatalf("upsert problem: %v", err)
	}

	got, err := s.GetProblemByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get problem: %v", err)
	}
	if got == nil || got.Title != p.Title {
		t.Fatalf("expected round-tripped problem, got %+v", got)
	}
}

func TestUpsertProblem_RejectsMissingTitle(t *testing.T) {
	s := openTestStore(t)
	err := s.UpsertProblem(context.Background(), types.Problem{Entity: types.Entity{ID: uuid.NewString()}})
	if !errors.Is(err, kberrors.Validation) {
		t.Fatalf("expected kberrors.Validation, got %v", err)
	}
}

func TestGetProblemByID_MissingReturnsNilNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetProblemByID(context.Background(), uuid.NewString())
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for a missing row, got (%+v, %v)", got, err)
	}
}

func TestSoftDeleteProblem_RemovesFTSRowAndReturnsNotFoundForUnknownID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	p := types.Problem{
		Entity: types.Entity{ID: uuid.NewString(), CreatedAtUtc: now, UpdatedAtUtc: now, UpdatedByInstanceID: "test-instance"},
		Title:  "disk full during compaction",
	}
	if err := s.UpsertProblem(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var ftsCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problem_fts WHERE problemId = ?`, p.ID).Scan(&ftsCount); err != nil {
		t.Fatalf("count fts: %v", err)
	}
	if ftsCount != 1 {
		t.Fatalf("expected one fts row before delete, got %d", ftsCount)
	}

	nowStr := formatTime(time.Now().UTC())
	if err := s.SoftDeleteProblem(ctx, p.ID, nowStr, "test-instance"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problem_fts WHERE problemId = ?`, p.ID).Scan(&ftsCount); err != nil {
		t.Fatalf("count fts after delete: %v", err)
	}
	if ftsCount != 0 {
		t.Fatalf("expected fts row removed after soft delete, got %d", ftsCount)
	}

	err := s.SoftDeleteProblem(ctx, uuid.NewString(), nowStr, "test-instance")
	if !errors.Is(err, kberrors.NotFound) {
		t.Fatalf("expected kberrors.NotFound for unknown id, got %v", err)
	}
}

func TestCreateTag_IsIdempotentByCaseFoldedName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := formatTime(time.Now().UTC())

	first, err := s.CreateTag(ctx, "  Networking  ", now, "test-instance")
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}
	second, err := s.CreateTag(ctx, "networking", now, "test-instance")
	if err != nil {
		t.Fatalf("create tag again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected idempotent tag creation, got distinct ids %s and %s", first.ID, second.ID)
	}
}

func TestSetTagsForProblem_ReplacesActiveLinks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := formatTime(time.Now().UTC())

	p := types.Problem{Entity: types.Entity{ID: uuid.NewString(), CreatedAtUtc: time.Now(), UpdatedAtUtc: time.Now()}, Title: "x"}
	if err := s.UpsertProblem(ctx, p); err != nil {
		t.Fatalf("upsert problem: %v", err)
	}
	tagA, err := s.CreateTag(ctx, "infra", now, "test-instance")
	if err != nil {
		t.Fatalf("create tag a: %v", err)
	}
	tagB, err := s.CreateTag(ctx, "flaky", now, "test-instance")
	if err != nil {
		t.Fatalf("create tag b: %v", err)
	}

	if err := s.SetTagsForProblem(ctx, p.ID, []string{tagA.ID}, now, "test-instance"); err != nil {
		t.Fatalf("set tags: %v", err)
	}
	tags, err := s.GetTagsForProblem(ctx, p.ID)
	if err != nil || len(tags) != 1 || tags[0].ID != tagA.ID {
		t.Fatalf("expected exactly tagA linked, got %+v (err=%v)", tags, err)
	}

	if err := s.SetTagsForProblem(ctx, p.ID, []string{tagB.ID}, now, "test-instance"); err != nil {
		t.Fatalf("set tags again: %v", err)
	}
	tags, err = s.GetTagsForProblem(ctx, p.ID)
	if err != nil || len(tags) != 1 || tags[0].ID != tagB.ID {
		t.Fatalf("expected replacement to tagB only, got %+v (err=%v)", tags, err)
	}
}

func TestConflictLedger_RecordListGetResolve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c := types.ConflictRecord{
		EntityType:           types.EntityProblem,
		EntityID:             uuid.NewString(),
		ImportedUpdatedAtUtc: now.Add(-time.Hour),
		LocalUpdatedAtUtc:    now,
		LocalJSON:            `{"title":"local"}`,
		ImportedJSON:         `{"title":"imported"}`,
		CreatedAtUtc:         now,
	}
	if err := s.RecordConflict(ctx, c); err != nil {
		t.Fatalf("record conflict: %v", err)
	}

	list, err := s.ListUnresolvedConflicts(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one unresolved conflict, got %+v (err=%v)", list, err)
	}
	id := list[0].ID

	detail, err := s.GetConflictByID(ctx, id)
	if err != nil || detail == nil || detail.ResolvedAtUtc != nil {
		t.Fatalf("expected unresolved detail, got %+v (err=%v)", detail, err)
	}

	if err := s.ResolveConflict(ctx, id, types.ResolutionKeepLocal, "operator", formatTime(time.Now().UTC())); err != nil {
		t.Fatalf("resolve conflict: %v", err)
	}

	list, err = s.ListUnresolvedConflicts(ctx, 10)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no unresolved conflicts after resolve, got %+v (err=%v)", list, err)
	}

	if err := s.ResolveConflict(ctx, id, types.ResolutionKeepLocal, "operator", formatTime(time.Now().UTC())); !errors.Is(err, kberrors.Validation) {
		t.Fatalf("expected kberrors.Validation resolving an already-resolved conflict, got %v", err)
	}

	if err := s.ResolveConflict(ctx, uuid.NewString(), types.ResolutionKeepLocal, "operator", formatTime(time.Now().UTC())); !errors.Is(err, kberrors.NotFound) {
		t.Fatalf("expected kberrors.NotFound resolving an unknown conflict, got %v", err)
	}
}

func TestAttachment_ContentHashInUseTracksLiveRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := types.Problem{Entity: types.Entity{ID: uuid.NewString(), CreatedAtUtc: now, UpdatedAtUtc: now}, Title: "x"}
	if err := s.UpsertProblem(ctx, p); err != nil {
		t.Fatalf("upsert problem: %v", err)
	}

	hash := "deadbeef"
	a := types.Attachment{
		Entity:      types.Entity{ID: uuid.NewString(), CreatedAtUtc: now, UpdatedAtUtc: now, UpdatedByInstanceID: "test-instance"},
		ProblemID:   p.ID,
		ContentHash: hash,
		SizeBytes:   4,
	}
	if err := s.UpsertAttachment(ctx, a); err != nil {
		t.Fatalf("upsert attachment: %v", err)
	}

	inUse, err := s.ContentHashInUse(ctx, hash)
	if err != nil || !inUse {
		t.Fatalf("expected hash in use, got %v (err=%v)", inUse, err)
	}

	inUse, err = s.ContentHashInUse(ctx, "unused-hash")
	if err != nil || inUse {
		t.Fatalf("expected unused hash to report false, got %v (err=%v)", inUse, err)
	}
}
