package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kbengine/kbengine/internal/types"
)

func fmtTime(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000000000Z") }

// ApplyProblem arbitrates an imported Problem against the current local
// row. No local row: import wins outright. Otherwise the two writes are
// compared by (updatedAtUtc, updatedByInstanceId); the imported row
// replaces local only if it is strictly newer.
func (e *Engine) ApplyProblem(ctx context.Context, imported types.Problem) error {
	local, err := e.store.GetProblemByID(ctx, imported.ID)
	if err != nil {
		return fmt.Errorf("merge: load local problem %s: %w", imported.ID, err)
	}
	if local == nil {
		e.report(types.EntityProblem, OutcomeImported)
		return e.store.UpsertProblem(ctx, imported)
	}

	cmp := compareWriters(fmtTime(imported.UpdatedAtUtc), fmtTime(local.UpdatedAtUtc),
		imported.UpdatedByInstanceID, local.UpdatedByInstanceID)
	switch {
	case cmp == 0:
		e.report(types.EntityProblem, OutcomeSkippedIdentical)
		return nil
	case cmp > 0:
		e.report(types.EntityProblem, OutcomeImported)
		return e.store.UpsertProblem(ctx, imported)
	default:
		if err := e.recordConflict(ctx, types.EntityProblem, imported.ID, local.UpdatedByInstanceID, imported,
			local.UpdatedAtUtc, imported.UpdatedAtUtc); err != nil {
			return err
		}
		e.report(types.EntityProblem, OutcomeConflictRecorded)
		return nil
	}
}

// ApplyTag arbitrates an imported Tag the same way ApplyProblem does.
func (e *Engine) ApplyTag(ctx context.Context, imported types.Tag) error {
	local, err := e.findTagByID(ctx, imported.ID)
	if err != nil {
		return fmt.Errorf("merge: load local tag %s: %w", imported.ID, err)
	}
	if local == nil {
		e.report(types.EntityTag, OutcomeImported)
		return e.store.UpsertTag(ctx, imported)
	}

	cmp := compareWriters(fmtTime(imported.UpdatedAtUtc), fmtTime(local.UpdatedAtUtc),
		imported.UpdatedByInstanceID, local.UpdatedByInstanceID)
	switch {
	case cmp == 0:
		e.report(types.EntityTag, OutcomeSkippedIdentical)
		return nil
	case cmp > 0:
		e.report(types.EntityTag, OutcomeImported)
		return e.store.UpsertTag(ctx, imported)
	default:
		if err := e.recordConflict(ctx, types.EntityTag, imported.ID, local.UpdatedByInstanceID, imported,
			local.UpdatedAtUtc, imported.UpdatedAtUtc); err != nil {
			return err
		}
		e.report(types.EntityTag, OutcomeConflictRecorded)
		return nil
	}
}

// findTagByID is a linear scan over GetAllTags because merge.Store
// deliberately exposes no GetTagByID — tag arbitration during import is
// infrequent enough (one call per imported tag row, typically a handful
// per package) that a dedicated point-lookup isn't worth widening the
// capability interface for.
func (e *Engine) findTagByID(ctx context.Context, id string) (*types.Tag, error) {
	all, err := e.store.GetAllTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range all {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}

// ApplyProblemTag arbitrates an imported ProblemTag link the same way
// ApplyProblem does: no local row with that id imports outright, a
// strictly newer imported row replaces local, an identical write is a
// no-op, and a strictly older imported row loses and is recorded in the
// conflict ledger instead of silently overwriting the link.
func (e *Engine) ApplyProblemTag(ctx context.Context, imported types.ProblemTag) error {
	local, err := e.store.GetProblemTagByID(ctx, imported.ID)
	if err != nil {
		return fmt.Errorf("merge: load local problemTag %s: %w", imported.ID, err)
	}
	if local == nil {
		e.report(types.EntityProblemTag, OutcomeImported)
		return e.store.UpsertProblemTag(ctx, imported)
	}

	cmp := compareWriters(fmtTime(imported.UpdatedAtUtc), fmtTime(local.UpdatedAtUtc),
		imported.UpdatedByInstanceID, local.UpdatedByInstanceID)
	switch {
	case cmp == 0:
		e.report(types.EntityProblemTag, OutcomeSkippedIdentical)
		return nil
	case cmp > 0:
		e.report(types.EntityProblemTag, OutcomeImported)
		return e.store.UpsertProblemTag(ctx, imported)
	default:
		if err := e.recordConflict(ctx, types.EntityProblemTag, imported.ID, local.UpdatedByInstanceID, imported,
			local.UpdatedAtUtc, imported.UpdatedAtUtc); err != nil {
			return err
		}
		e.report(types.EntityProblemTag, OutcomeConflictRecorded)
		return nil
	}
}

// ApplyAttachment arbitrates an imported Attachment the same way
// ApplyProblem does. The blob referenced by ContentHash is assumed
// already present in the local blob store by the time this is called
// (pkgcodec.Import copies blobs before applying attachment rows).
func (e *Engine) ApplyAttachment(ctx context.Context, imported types.Attachment) error {
	local, err := e.store.GetAttachmentByID(ctx, imported.ID)
	if err != nil {
		return fmt.Errorf("merge: load local attachment %s: %w", imported.ID, err)
	}
	if local == nil {
		e.report(types.EntityAttachment, OutcomeImported)
		return e.store.UpsertAttachment(ctx, imported)
	}

	cmp := compareWriters(fmtTime(imported.UpdatedAtUtc), fmtTime(local.UpdatedAtUtc),
		imported.UpdatedByInstanceID, local.UpdatedByInstanceID)
	switch {
	case cmp == 0:
		e.report(types.EntityAttachment, OutcomeSkippedIdentical)
		return nil
	case cmp > 0:
		e.report(types.EntityAttachment, OutcomeImported)
		return e.store.UpsertAttachment(ctx, imported)
	default:
		if err := e.recordConflict(ctx, types.EntityAttachment, imported.ID, local.UpdatedByInstanceID, imported,
			local.UpdatedAtUtc, imported.UpdatedAtUtc); err != nil {
			return err
		}
		e.report(types.EntityAttachment, OutcomeConflictRecorded)
		return nil
	}
}

// localSnapshot is the minimal record of the local write that won over an
// older imported row, kept in the ConflictRecord for audit: its id,
// updatedAtUtc and updatedByInstanceId, not the full entity.
type localSnapshot struct {
	ID                  string    `json:"id"`
	UpdatedAtUtc        time.Time `json:"updatedAtUtc"`
	UpdatedByInstanceID string    `json:"updatedByInstanceId"`
}

func (e *Engine) recordConflict(ctx context.Context, entityType types.EntityType, entityID string,
	localUpdatedBy string, imported any, localUpdatedAt, importedUpdatedAt time.Time) error {
	localJSON, err := json.Marshal(localSnapshot{ID: entityID, UpdatedAtUtc: localUpdatedAt, UpdatedByInstanceID: localUpdatedBy})
	if err != nil {
		return fmt.Errorf("merge: marshal local %s %s: %w", entityType, entityID, err)
	}
	importedJSON, err := json.Marshal(imported)
	if err != nil {
		return fmt.Errorf("merge: marshal imported %s %s: %w", entityType, entityID, err)
	}
	return e.store.RecordConflict(ctx, types.ConflictRecord{
		ID:                   uuid.NewString(),
		EntityType:           entityType,
		EntityID:             entityID,
		ImportedUpdatedAtUtc: importedUpdatedAt,
		LocalUpdatedAtUtc:    localUpdatedAt,
		LocalJSON:            string(localJSON),
		ImportedJSON:         string(importedJSON),
		CreatedAtUtc:         time.Now().UTC(),
	})
}
