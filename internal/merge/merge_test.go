package merge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbengine/kbengine/internal/merge"
	"github.com/kbengine/kbengine/internal/types"
)

// fakeStore is an in-memory stand-in for storage/sqlite.Store, scoped to
// exactly the methods merge.Store needs.
type fakeStore struct {
	problems    map[string]types.Problem
	tags        []types.Tag
	problemTags map[string]types.ProblemTag
	attachments map[string]types.Attachment
	conflicts   []types.ConflictRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		problems:    map[string]types.Problem{},
		problemTags: map[string]types.ProblemTag{},
		attachments: map[string]types.Attachment{},
	}
}

func (f *fakeStore) GetProblemByID(ctx context.Context, id string) (*types.Problem, error) {
	if p, ok := f.problems[id]; ok {
		return &p, nil
	}
	return nil, nil
}
func (f *fakeStore) UpsertProblem(ctx context.Context, p types.Problem) error {
	f.problems[p.ID] = p
	return nil
}
func (f *fakeStore) GetAllTags(ctx context.Context) ([]types.Tag, error) { return f.tags, nil }
func (f *fakeStore) UpsertTag(ctx context.Context, t types.Tag) error {
	for i, existing := range f.tags {
		if existing.ID == t.ID {
			f.tags[i] = t
			return nil
		}
	}
	f.tags = append(f.tags, t)
	return nil
}
func (f *fakeStore) GetProblemTagByID(ctx context.Context, id string) (*types.ProblemTag, error) {
	if pt, ok := f.problemTags[id]; ok {
		return &pt, nil
	}
	return nil, nil
}
func (f *fakeStore) UpsertProblemTag(ctx context.Context, pt types.ProblemTag) error {
	f.problemTags[pt.ID] = pt
	return nil
}
func (f *fakeStore) GetAttachmentByID(ctx context.Context, id string) (*types.Attachment, error) {
	if a, ok := f.attachments[id]; ok {
		return &a, nil
	}
	return nil, nil
}
func (f *fakeStore) UpsertAttachment(ctx context.Context, a types.Attachment) error {
	f.attachments[a.ID] = a
	return nil
}
func (f *fakeStore) RecordConflict(ctx context.Context, c types.ConflictRecord) error {
	f.conflicts = append(f.conflicts, c)
	return nil
}

func TestApplyProblem_NoLocalRowAlwaysImports(t *testing.T) {
	store := newFakeStore()
	eng := merge.New(store)

	imported := types.Problem{Entity: types.Entity{ID: "p1", UpdatedAtUtc: time.Now().UTC()}, Title: "fresh"}
	require.NoError(t, eng.ApplyProblem(context.Background(), imported))

	require.Equal(t, "fresh", store.problems["p1"].Title)
	require.Empty(t, store.conflicts)
}

func TestApplyProblem_StrictlyNewerImportReplacesLocal(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.problems["p1"] = types.Problem{
		Entity: types.Entity{ID: "p1", UpdatedAtUtc: base, UpdatedByInstanceID: "local"},
		Title:  "old",
	}
	eng := merge.New(store)

	imported := types.Problem{
		Entity: types.Entity{ID: "p1", UpdatedAtUtc: base.Add(time.Second), UpdatedByInstanceID: "remote"},
		Title:  "new",
	}
	require.NoError(t, eng.ApplyProblem(context.Background(), imported))

	require.Equal(t, "new", store.problems["p1"].Title)
	require.Empty(t, store.conflicts)
}

func TestApplyProblem_OlderImportLosesAndRecordsConflict(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.problems["p1"] = types.Problem{
		Entity: types.Entity{ID: "p1", UpdatedAtUtc: base, UpdatedByInstanceID: "local"},
		Title:  "current",
	}
	eng := merge.New(store)

	imported := types.Problem{
		Entity: types.Entity{ID: "p1", UpdatedAtUtc: base.Add(-time.Second), UpdatedByInstanceID: "remote"},
		Title:  "stale",
	}
	require.NoError(t, eng.ApplyProblem(context.Background(), imported))

	require.Equal(t, "current", store.problems["p1"].Title, "local row must survive a losing import")
	require.Len(t, store.conflicts, 1)
	require.Equal(t, types.EntityProblem, store.conflicts[0].EntityType)
	require.Equal(t, "p1", store.conflicts[0].EntityID)
}

func TestApplyProblem_IdenticalWriterAndTimeIsSkipped(t *testing.T) {
	store := newFakeStore()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.problems["p1"] = types.Problem{
		Entity: types.Entity{ID: "p1", UpdatedAtUtc: ts, UpdatedByInstanceID: "same"},
		Title:  "unchanged",
	}
	eng := merge.New(store)

	var outcomes []merge.Outcome
	eng.OnDecision = func(_ types.EntityType, outcome merge.Outcome) { outcomes = append(outcomes, outcome) }

	imported := types.Problem{
		Entity: types.Entity{ID: "p1", UpdatedAtUtc: ts, UpdatedByInstanceID: "same"},
		Title:  "unchanged",
	}
	require.NoError(t, eng.ApplyProblem(context.Background(), imported))

	require.Equal(t, []merge.Outcome{merge.OutcomeSkippedIdentical}, outcomes)
	require.Empty(t, store.conflicts)
}

func TestApplyTag_UsesLinearLookupAcrossAllTags(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.tags = []types.Tag{
		{Entity: types.Entity{ID: "t1", UpdatedAtUtc: base, UpdatedByInstanceID: "local"}, Name: "infra"},
	}
	eng := merge.New(store)

	imported := types.Tag{
		Entity: types.Entity{ID: "t1", UpdatedAtUtc: base.Add(time.Minute), UpdatedByInstanceID: "remote"},
		Name:   "infra-renamed",
	}
	require.NoError(t, eng.ApplyTag(context.Background(), imported))
	require.Equal(t, "infra-renamed", store.tags[0].Name)
}
