// Package conflict implements C8, the conflict ledger capability: a thin
// wrapper over storage/sqlite's conflictRecord operations that also knows
// how to re-apply an operator's resolution onto the live entity row,
// something the storage layer itself deliberately does not do (closing
// the ledger entry and mutating the entity are two different concerns
// kept in two different packages, mirroring C2's narrow per-entity
// methods elsewhere in the store).
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbengine/kbengine/internal/kberrors"
	"github.com/kbengine/kbengine/internal/types"
)

// Store is the capability surface conflict needs from storage/sqlite.
type Store interface {
	ListUnresolvedConflicts(ctx context.Context, limit int) ([]types.ConflictRecord, error)
	GetConflictByID(ctx context.Context, id string) (*types.ConflictRecord, error)
	ResolveConflict(ctx context.Context, id string, resolution types.Resolution, resolvedBy, nowUtc string) error

	UpsertProblem(ctx context.Context, p types.Problem) error
	UpsertTag(ctx context.Context, t types.Tag) error
	UpsertProblemTag(ctx context.Context, pt types.ProblemTag) error
	UpsertAttachment(ctx context.Context, a types.Attachment) error
}

// Ledger exposes conflict listing, detail and resolution.
type Ledger struct {
	store Store
}

// New returns a Ledger backed by store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// List returns up to limit unresolved conflicts, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]types.ConflictRecord, error) {
	return l.store.ListUnresolvedConflicts(ctx, limit)
}

// Detail returns a single conflict record, or kberrors.NotFound.
func (l *Ledger) Detail(ctx context.Context, id string) (*types.ConflictRecord, error) {
	c, err := l.store.GetConflictByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("conflict %s: %w", id, kberrors.NotFound)
	}
	return c, nil
}

// Resolve closes the ledger entry and, for ResolutionUseImported,
// re-applies the imported JSON onto the live entity row (KeepLocal
// requires no entity mutation: the local row already reflects the kept
// value).
func (l *Ledger) Resolve(ctx context.Context, id string, resolution types.Resolution, resolvedBy string) error {
	c, err := l.Detail(ctx, id)
	if err != nil {
		return err
	}
	if c.ResolvedAtUtc != nil {
		return fmt.Errorf("conflict %s already resolved: %w", id, kberrors.Validation)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if resolution == types.ResolutionUseImported {
		if err := l.applyImported(ctx, *c); err != nil {
			return fmt.Errorf("apply imported value for conflict %s: %w", id, err)
		}
	}

	return l.store.ResolveConflict(ctx, id, resolution, resolvedBy, now)
}

func (l *Ledger) applyImported(ctx context.Context, c types.ConflictRecord) error {
	switch c.EntityType {
	case types.EntityProblem:
		var p types.Problem
		if err := json.Unmarshal([]byte(c.ImportedJSON), &p); err != nil {
			return fmt.Errorf("unmarshal imported problem: %w", err)
		}
		return l.store.UpsertProblem(ctx, p)
	case types.EntityTag:
		var t types.Tag
		if err := json.Unmarshal([]byte(c.ImportedJSON), &t); err != nil {
			return fmt.Errorf("unmarshal imported tag: %w", err)
		}
		return l.store.UpsertTag(ctx, t)
	case types.EntityProblemTag:
		var pt types.ProblemTag
		if err := json.Unmarshal([]byte(c.ImportedJSON), &pt); err != nil {
			return fmt.Errorf("unmarshal imported problemTag: %w", err)
		}
		return l.store.UpsertProblemTag(ctx, pt)
	case types.EntityAttachment:
		var a types.Attachment
		if err := json.Unmarshal([]byte(c.ImportedJSON), &a); err != nil {
			return fmt.Errorf("unmarshal imported attachment: %w", err)
		}
		return l.store.UpsertAttachment(ctx, a)
	default:
		return fmt.Errorf("unknown entity type %q: %w", c.EntityType, kberrors.Validation)
	}
}
