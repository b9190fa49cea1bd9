package search_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbengine/kbengine/internal/search"
	"github.com/kbengine/kbengine/internal/storage/sqlite"
	"github.com/kbengine/kbengine/internal/types"
)

func openTestEngine(t *testing.T) (*sqlite.Store, *search.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb.db")
	store, err := sqlite.Open(context.Background(), path, "test-instance", 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, search.New(store.DB())
}

func mustUpsert(t *testing.T, store *sqlite.Store, title, symptom string) {
	t.Helper()
	now := time.Now().UTC()
	p := types.Problem{
		Entity:  types.Entity{ID: uuid.NewString(), CreatedAtUtc: now, UpdatedAtUtc: now, UpdatedByInstanceID: "test-instance"},
		Title:   title,
		Symptom: symptom,
	}
	if err := store.UpsertProblem(context.Background(), p); err != nil {
		t.Fatalf("upsert problem %q: %v", title, err)
	}
}

// A substring query that falls inside a single token must still match:
// FTS5's unicode61 tokenizer would never surface "time" as a token match
// against a field that only contains "timeout".
func TestSearch_MatchesSubstringInsideAToken(t *testing.T) {
	store, eng := openTestEngine(t)
	mustUpsert(t, store, "request timeout under load", "client disconnects")

	hits, total, err := eng.Search(context.Background(), search.Query{Text: "time"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(hits) != 1 {
		t.Fatalf("expected 1 hit for a substring query, got total=%d hits=%d", total, len(hits))
	}
}

// A multi-term query requires every term to appear somewhere in the
// problem (AND over terms), not just any one of them (OR).
func TestSearch_MultiTermQueryRequiresAllTermsToMatch(t *testing.T) {
	store, eng := openTestEngine(t)
	mustUpsert(t, store, "database connection timeout", "pool exhausted")
	mustUpsert(t, store, "timeout on startup", "unrelated to connections")

	hits, total, err := eng.Search(context.Background(), search.Query{Text: "timeout pool"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(hits) != 1 {
		t.Fatalf("expected exactly 1 hit matching both terms, got total=%d hits=%d", total, len(hits))
	}
	if hits[0].Problem.Title != "database connection timeout" {
		t.Fatalf("expected the dual-term match, got %q", hits[0].Problem.Title)
	}
}

func TestSearch_NoTermsReturnsEveryActiveProblem(t *testing.T) {
	store, eng := openTestEngine(t)
	mustUpsert(t, store, "first", "")
	mustUpsert(t, store, "second", "")

	hits, total, err := eng.Search(context.Background(), search.Query{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 || len(hits) != 2 {
		t.Fatalf("expected both problems with an empty query, got total=%d hits=%d", total, len(hits))
	}
}

func TestSearch_PaginatesOverGoFilteredResults(t *testing.T) {
	store, eng := openTestEngine(t)
	for i := 0; i < 3; i++ {
		mustUpsert(t, store, "timeout occurrence", "")
		time.Sleep(time.Millisecond)
	}

	hits, total, err := eng.Search(context.Background(), search.Query{Text: "timeout", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total to reflect all 3 matches regardless of page size, got %d", total)
	}
	if len(hits) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(hits))
	}
}
