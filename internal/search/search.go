// Package search implements C4, the hybrid query engine: a candidate
// problem id set is drawn from the union of an FTS5 MATCH query against
// problem_fts and a LIKE-based substring scan (the same whereClauses/
// args accumulation style the corpus's SearchIssues uses for its own
// LIKE-based filters, in internal/storage/sqlite's queries_search.go),
// then every candidate is checked against the query's actual match
// predicate — every term present as a case-insensitive substring of at
// least one searchable field — and ranked by a weighted per-field hit
// count. FTS narrows the common case with its index; the LIKE half and
// the final substring check exist because FTS5's unicode61 tokenizer
// cannot itself recognize a substring that falls inside a token.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kbengine/kbengine/internal/types"
)

// MaxQueryTerms bounds how many whitespace-separated terms a query string
// contributes; extra terms are dropped rather than rejected.
const MaxQueryTerms = 8

// field weights used to score a hit, summed per matching term across the
// five searchable columns.
const (
	weightTitle       = 120
	weightSymptom     = 45
	weightRootCause   = 40
	weightSolution    = 35
	weightEnvironment = 15
)

// Engine runs hybrid full-text queries against the store's FTS index.
type Engine struct {
	db *sql.DB
}

// New wraps a *sql.DB exposed by storage/sqlite's Store.DB().
func New(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Query describes one search request.
type Query struct {
	Text       string
	TagIDs     []string
	Profession types.ProfessionFilter
	Limit      int
	Offset     int
}

// splitTerms whitespace-splits q, lowercases and dedupes terms, and caps
// the result at MaxQueryTerms.
func splitTerms(q string) []string {
	fields := strings.Fields(q)
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		lower := strings.ToLower(f)
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
		if len(out) >= MaxQueryTerms {
			break
		}
	}
	return out
}

// ftsMatchExpr renders an FTS5 MATCH query string OR-ing every term
// across all indexed columns, with each term wrapped for prefix-safe
// literal matching (FTS5 special characters are quoted). It is used only
// to widen the SQL candidate set with the unicode61 tokenizer's index —
// never to decide whether a term matches, which matchesAllTerms (score.go)
// does authoritatively.
func ftsMatchExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// searchColumns are the five fields a query term may match, in score
// priority order, matching score.go's weight table.
var searchColumns = []string{"p.title", "p.symptom", "p.rootCause", "p.solution", "p.environmentJson"}

// substringIDQuery builds a "SELECT id FROM problem WHERE ..." selecting
// every problem where at least one of the five columns contains at
// least one of terms as a case-insensitive substring, via LIKE — the
// same whereClauses/args accumulation the corpus's queries_search.go
// uses for its own LIKE-based search. FTS5 MATCH alone cannot stand in
// for this: MATCH is token-based (unicode61), so a substring that falls
// inside a token — "time" inside "timeout" — would never surface
// through it.
func substringIDQuery(terms []string) (string, []any) {
	var clauses []string
	var args []any
	for _, term := range terms {
		pattern := "%" + likeEscape(term) + "%"
		var cols []string
		for _, col := range searchColumns {
			cols = append(cols, col+" LIKE ? ESCAPE '\\'")
			args = append(args, pattern)
		}
		clauses = append(clauses, "("+strings.Join(cols, " OR ")+")")
	}
	return "SELECT p.id FROM problem p WHERE " + strings.Join(clauses, " OR "), args
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Search runs q against the store, intersected with the tag and
// profession filters, returning hits ordered by score desc then
// updatedAtUtc desc, paginated by Limit/Offset. When q.Text has terms,
// pagination happens in Go after the required-substring-match predicate
// (every term must hit at least one field, an AND across terms) is
// applied, because SQL can only narrow the candidate set — see
// substringIDQuery and matchesAllTerms.
func (e *Engine) Search(ctx context.Context, q Query) ([]types.SearchHit, int, error) {
	terms := splitTerms(q.Text)

	var whereClauses []string
	var args []any

	if len(terms) > 0 {
		// The FTS5 MATCH candidate set and the LIKE-based substring
		// candidate set are unioned as one superset id filter: FTS
		// narrows the common case using its index, the LIKE half
		// guarantees every true substring match is still a candidate
		// even when it falls inside a single token. matchesAllTerms
		// below is what actually decides AND-over-terms and substring
		// correctness — this id filter only has to be a safe superset.
		substrSQL, substrArgs := substringIDQuery(terms)
		whereClauses = append(whereClauses, `p.id IN (
			SELECT problemId FROM problem_fts WHERE problem_fts MATCH ?
			UNION
			`+substrSQL+`
		)`)
		args = append(args, ftsMatchExpr(terms))
		args = append(args, substrArgs...)
	}
	whereClauses = append(whereClauses, "p.isDeleted = 0")

	applyTagFilter(&whereClauses, &args, q.TagIDs)
	applyProfessionFilter(&whereClauses, &args, q.Profession)

	whereSQL := "WHERE " + strings.Join(whereClauses, " AND ")

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.title, p.symptom, p.rootCause, p.solution, p.environmentJson,
		       p.severity, p.status, p.createdBy, p.sourceKind,
		       p.createdAtUtc, p.updatedAtUtc, p.updatedByInstanceId
		FROM problem p
		%s
		ORDER BY p.updatedAtUtc DESC
	`, whereSQL), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []types.SearchHit
	for rows.Next() {
		var p types.Problem
		var sourceKind, createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Title, &p.Symptom, &p.RootCause, &p.Solution, &p.EnvironmentJSON,
			&p.Severity, &p.Status, &p.CreatedBy, &sourceKind, &createdAt, &updatedAt, &p.UpdatedByInstanceID); err != nil {
			return nil, 0, fmt.Errorf("search: scan: %w", err)
		}
		p.SourceKind = types.SourceKind(sourceKind)
		p.CreatedAtUtc = parseTime(createdAt)
		p.UpdatedAtUtc = parseTime(updatedAt)

		if len(terms) > 0 && !matchesAllTerms(p, terms) {
			continue
		}

		hit := types.SearchHit{
			Problem: p,
			Score:   scoreHit(p, terms),
			Snippet: snippet(p, terms),
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("search: iterate: %w", err)
	}

	sortByScoreThenRecency(hits)

	total := len(hits)
	if q.Limit > 0 {
		start := q.Offset
		if start > len(hits) {
			start = len(hits)
		}
		end := start + q.Limit
		if end > len(hits) {
			end = len(hits)
		}
		hits = hits[start:end]
	}
	return hits, total, nil
}

func applyTagFilter(whereClauses *[]string, args *[]any, tagIDs []string) {
	if len(tagIDs) == 0 {
		return
	}
	for _, tagID := range tagIDs {
		*whereClauses = append(*whereClauses, `p.id IN (
			SELECT pt.problemId FROM problemTag pt WHERE pt.isDeleted = 0 AND pt.tagId = ?
		)`)
		*args = append(*args, tagID)
	}
}

func applyProfessionFilter(whereClauses *[]string, args *[]any, f types.ProfessionFilter) {
	switch f.Mode {
	case types.ProfessionUnassigned:
		*whereClauses = append(*whereClauses, `p.environmentJson NOT LIKE '%"__professionid"%'`)
	case types.ProfessionSpecific:
		*whereClauses = append(*whereClauses, `p.environmentJson LIKE ?`)
		*args = append(*args, "%\"__professionid\":\""+f.ProfessionID+"\"%")
	}
}
