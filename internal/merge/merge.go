// Package merge implements C7, last-writer-wins arbitration: every
// imported row is compared against the current local row (if any) by the
// total order (updatedAtUtc, updatedByInstanceId), and either replaces
// the local row, is silently skipped as a no-op duplicate, or loses and
// is recorded in the conflict ledger instead of being discarded.
package merge

import (
	"context"

	"github.com/kbengine/kbengine/internal/types"
)

// Store is the narrow capability surface merge needs — a subset of
// storage/sqlite.Store's methods, expressed as an interface so tests can
// substitute an in-memory fake instead of opening a real database file.
type Store interface {
	GetProblemByID(ctx context.Context, id string) (*types.Problem, error)
	UpsertProblem(ctx context.Context, p types.Problem) error

	GetAllTags(ctx context.Context) ([]types.Tag, error)
	UpsertTag(ctx context.Context, t types.Tag) error

	GetProblemTagByID(ctx context.Context, id string) (*types.ProblemTag, error)
	UpsertProblemTag(ctx context.Context, pt types.ProblemTag) error

	GetAttachmentByID(ctx context.Context, id string) (*types.Attachment, error)
	UpsertAttachment(ctx context.Context, a types.Attachment) error

	RecordConflict(ctx context.Context, c types.ConflictRecord) error
}

// Outcome is how one row's arbitration was decided.
type Outcome string

const (
	OutcomeImported         Outcome = "Imported"
	OutcomeSkippedIdentical Outcome = "SkippedIdentical"
	OutcomeConflictRecorded Outcome = "ConflictRecorded"
)

// Engine applies imported rows against a Store under LWW arbitration. It
// implements pkgcodec.Applier.
type Engine struct {
	store Store
	// OnDecision, if set, is called after every arbitration for metrics
	// and logging; it must not block.
	OnDecision func(entityType types.EntityType, outcome Outcome)
}

// New returns a merge Engine writing through store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

func (e *Engine) report(entityType types.EntityType, outcome Outcome) {
	if e.OnDecision != nil {
		e.OnDecision(entityType, outcome)
	}
}

// compareWriters totally orders two writes by (updatedAtUtc,
// updatedByInstanceId): returns >0 if a is strictly newer than b, <0 if
// older, 0 if identical on both fields (the only case treated as a true
// no-op duplicate).
func compareWriters(aTime, bTime string, aBy, bBy string) int {
	if aTime != bTime {
		if aTime > bTime {
			return 1
		}
		return -1
	}
	if aBy == bBy {
		return 0
	}
	if aBy > bBy {
		return 1
	}
	return -1
}
