package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kbengine/kbengine/internal/types"
)

// NewProblemInput is what a caller (the CLI) supplies to create a
// problem; the envelope fields (id, timestamps, instance id) are minted
// here rather than asked of the caller.
type NewProblemInput struct {
	Title           string
	Symptom         string
	RootCause       string
	Solution        string
	EnvironmentJSON string
	Severity        int
	Status          int
	CreatedBy       string
}

// CreateProblem mints a new Problem and writes it.
func (e *Engine) CreateProblem(ctx context.Context, in NewProblemInput) (*types.Problem, error) {
	now := e.Now()
	if in.EnvironmentJSON == "" {
		in.EnvironmentJSON = "{}"
	}
	p := types.Problem{
		Entity: types.Entity{
			ID:                  uuid.NewString(),
			CreatedAtUtc:        now,
			UpdatedAtUtc:        now,
			UpdatedByInstanceID: e.InstanceID(),
		},
		Title:           in.Title,
		Symptom:         in.Symptom,
		RootCause:       in.RootCause,
		Solution:        in.Solution,
		EnvironmentJSON: in.EnvironmentJSON,
		Severity:        in.Severity,
		Status:          in.Status,
		CreatedBy:       in.CreatedBy,
		SourceKind:      e.sourceKindForInstance(),
	}
	if err := e.Store.UpsertProblem(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (e *Engine) sourceKindForInstance() types.SourceKind {
	if e.Identity.Kind == types.KindCorporate {
		return types.SourceCorporate
	}
	return types.SourcePersonal
}

// UpdateProblem writes changes onto an existing problem, bumping its
// updatedAtUtc/updatedByInstanceId. The caller must have fetched the
// current row first so unmodified fields are round-tripped intact.
func (e *Engine) UpdateProblem(ctx context.Context, p types.Problem) error {
	p.UpdatedAtUtc = e.Now()
	p.UpdatedByInstanceID = e.InstanceID()
	return e.Store.UpsertProblem(ctx, p)
}

// DeleteProblem soft-deletes a problem.
func (e *Engine) DeleteProblem(ctx context.Context, id string) error {
	now := e.Now().UTC().Format(time.RFC3339Nano)
	return e.Store.SoftDeleteProblem(ctx, id, now, e.InstanceID())
}

// GetProblem returns a single problem, or (nil, nil) if absent.
func (e *Engine) GetProblem(ctx context.Context, id string) (*types.Problem, error) {
	return e.Store.GetProblemByID(ctx, id)
}

// CreateTag creates or returns the existing active tag with the same
// case-folded name.
func (e *Engine) CreateTag(ctx context.Context, name string) (*types.Tag, error) {
	now := e.Now().UTC().Format(time.RFC3339Nano)
	return e.Store.CreateTag(ctx, name, now, e.InstanceID())
}

// DeleteTag soft-deletes a tag and cascades to its active links.
func (e *Engine) DeleteTag(ctx context.Context, id string) error {
	now := e.Now().UTC().Format(time.RFC3339Nano)
	return e.Store.SoftDeleteTag(ctx, id, now, e.InstanceID())
}

// SetTagsForProblem replaces a problem's tag links.
func (e *Engine) SetTagsForProblem(ctx context.Context, problemID string, tagIDs []string) error {
	now := e.Now().UTC().Format(time.RFC3339Nano)
	return e.Store.SetTagsForProblem(ctx, problemID, tagIDs, now, e.InstanceID())
}

// ListTags returns every active tag.
func (e *Engine) ListTags(ctx context.Context) ([]types.Tag, error) {
	return e.Store.GetAllTags(ctx)
}

// AddAttachment hashes data into the blob store and records an
// attachment row pointing at it, skipping the blob write entirely if an
// identical blob is already present.
func (e *Engine) AddAttachment(ctx context.Context, problemID, originalFileName, mimeType string, data []byte) (*types.Attachment, error) {
	hash, err := e.Blobs.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("engine: store attachment blob: %w", err)
	}
	now := e.Now()
	a := types.Attachment{
		Entity: types.Entity{
			ID:                  uuid.NewString(),
			CreatedAtUtc:        now,
			UpdatedAtUtc:        now,
			UpdatedByInstanceID: e.InstanceID(),
		},
		ProblemID:        problemID,
		OriginalFileName: originalFileName,
		ContentHash:      hash,
		SizeBytes:        int64(len(data)),
		MimeType:         mimeType,
	}
	if err := e.Store.UpsertAttachment(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// AttachmentsForProblem lists the active attachments on a problem.
func (e *Engine) AttachmentsForProblem(ctx context.Context, problemID string) ([]types.Attachment, error) {
	return e.Store.GetAttachmentsForProblem(ctx, problemID)
}

// DeleteAttachment soft-deletes attachment metadata; the blob is left in
// the content-addressed store.
func (e *Engine) DeleteAttachment(ctx context.Context, id string) error {
	now := e.Now().UTC().Format(time.RFC3339Nano)
	return e.Store.SoftDeleteAttachment(ctx, id, now, e.InstanceID())
}

// HardDeleteProblems previews then permanently purges problems matching
// filter, returning the count actually removed.
func (e *Engine) HardDeleteProblems(ctx context.Context, filter types.HardDeleteFilter) (int, error) {
	return e.Store.HardDeleteProblems(ctx, filter)
}

// PreviewHardDelete reports how many problems a purge with this filter
// would remove, without removing anything.
func (e *Engine) PreviewHardDelete(ctx context.Context, filter types.HardDeleteFilter) (int, error) {
	return e.Store.CountProblemsForHardDeleteFilter(ctx, filter)
}
