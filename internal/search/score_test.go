package search

import (
	"strings"
	"testing"

	"github.com/kbengine/kbengine/internal/types"
)

func TestScoreHit_WeightsTitleAboveOtherFields(t *testing.T) {
	titleHit := types.Problem{Title: "timeout error", Symptom: "unrelated"}
	symptomHit := types.Problem{Title: "unrelated", Symptom: "timeout error"}

	titleScore := scoreHit(titleHit, []string{"timeout"})
	symptomScore := scoreHit(symptomHit, []string{"timeout"})

	if titleScore <= symptomScore {
		t.Fatalf("expected title match to outscore symptom match: title=%d symptom=%d", titleScore, symptomScore)
	}
}

func TestScoreHit_SumsAcrossMultipleTerms(t *testing.T) {
	p := types.Problem{Title: "timeout", Symptom: "retry loop"}
	single := scoreHit(p, []string{"timeout"})
	both := scoreHit(p, []string{"timeout", "retry"})
	if both <= single {
		t.Fatalf("expected matching more terms to score higher: single=%d both=%d", single, both)
	}
}

func TestSplitTerms_DedupesLowercasesAndCaps(t *testing.T) {
	terms := splitTerms("Timeout timeout RETRY retry extra1 extra2 extra3 extra4 extra5 extra6 extra7")
	if len(terms) != MaxQueryTerms {
		t.Fatalf("expected terms capped at %d, got %d (%v)", MaxQueryTerms, len(terms), terms)
	}
	if terms[0] != "timeout" || terms[1] != "retry" {
		t.Fatalf("expected lowercased dedup order preserved, got %v", terms)
	}
}

func TestSnippet_PrefersSymptomOverRootCause(t *testing.T) {
	p := types.Problem{
		Symptom:   "the service returns a timeout after 30 seconds",
		RootCause: "timeout configured too low",
	}
	snip := snippet(p, []string{"timeout"})
	if snip == "" {
		t.Fatal("expected a non-empty snippet")
	}
	if !strings.Contains(strings.ToLower(snip), "timeout") {
		t.Fatalf("expected snippet to contain matched term, got %q", snip)
	}
	if !strings.Contains(snip, "after 30 seconds") {
		t.Fatalf("expected snippet drawn from symptom, got %q", snip)
	}
}

func TestSnippet_EmptyWhenNoFieldMatches(t *testing.T) {
	p := types.Problem{Symptom: "unrelated text", RootCause: "also unrelated"}
	if snip := snippet(p, []string{"timeout"}); snip != "" {
		t.Fatalf("expected empty snippet, got %q", snip)
	}
}

func TestMatchesAllTerms_RequiresEveryTermSomewhere(t *testing.T) {
	p := types.Problem{Title: "timeout error", Symptom: "retry storm"}

	if !matchesAllTerms(p, []string{"timeout"}) {
		t.Fatal("expected single matching term to match")
	}
	if !matchesAllTerms(p, []string{"timeout", "retry"}) {
		t.Fatal("expected both terms present across different fields to match")
	}
	if matchesAllTerms(p, []string{"timeout", "nonexistent"}) {
		t.Fatal("expected a problem missing one of two terms to not match (AND over terms)")
	}
}

func TestMatchesAllTerms_SubstringInsideAWord(t *testing.T) {
	p := types.Problem{Symptom: "request timeout after 30s"}
	if !matchesAllTerms(p, []string{"time"}) {
		t.Fatal("expected \"time\" to match inside \"timeout\" as a substring")
	}
}

func TestApplyProfessionFilter_Modes(t *testing.T) {
	var where []string
	var args []any

	applyProfessionFilter(&where, &args, types.ProfessionFilter{Mode: types.ProfessionAll})
	if len(where) != 0 {
		t.Fatalf("expected no clause for ProfessionAll, got %v", where)
	}

	applyProfessionFilter(&where, &args, types.ProfessionFilter{Mode: types.ProfessionUnassigned})
	if len(where) != 1 {
		t.Fatalf("expected one clause for ProfessionUnassigned, got %v", where)
	}

	where, args = nil, nil
	applyProfessionFilter(&where, &args, types.ProfessionFilter{Mode: types.ProfessionSpecific, ProfessionID: "backend"})
	if len(where) != 1 || len(args) != 1 {
		t.Fatalf("expected one clause and one arg for ProfessionSpecific, got where=%v args=%v", where, args)
	}
}
