package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kbengine/kbengine/internal/kberrors"
	"github.com/kbengine/kbengine/internal/types"
)

// TxStore exposes the merge.Store capability surface against a single
// caller-owned *sql.Tx, so an entire batch of writes (e.g. applying one
// imported package) commits or rolls back as one unit instead of one
// transaction per row. Obtained from Store.WithTx.
type TxStore struct {
	tx *sql.Tx
}

func (t *TxStore) GetProblemByID(ctx context.Context, id string) (*types.Problem, error) {
	return getProblemByID(ctx, t.tx, id)
}

func (t *TxStore) UpsertProblem(ctx context.Context, p types.Problem) error {
	if err := validateProblem(p); err != nil {
		return err
	}
	return upsertProblemTx(ctx, t.tx, p)
}

func (t *TxStore) GetAllTags(ctx context.Context) ([]types.Tag, error) {
	return getAllTagsCore(ctx, t.tx)
}

func (t *TxStore) UpsertTag(ctx context.Context, tag types.Tag) error {
	return upsertTagTx(ctx, t.tx, tag)
}

func (t *TxStore) GetProblemTagByID(ctx context.Context, id string) (*types.ProblemTag, error) {
	return getProblemTagByID(ctx, t.tx, id)
}

func (t *TxStore) UpsertProblemTag(ctx context.Context, pt types.ProblemTag) error {
	return upsertProblemTagTx(ctx, t.tx, pt)
}

func (t *TxStore) GetAttachmentByID(ctx context.Context, id string) (*types.Attachment, error) {
	return getAttachmentByID(ctx, t.tx, id)
}

func (t *TxStore) UpsertAttachment(ctx context.Context, a types.Attachment) error {
	if a.ID == "" || a.ProblemID == "" || a.ContentHash == "" {
		return fmt.Errorf("attachment id, problemId and contentHash required: %w", kberrors.Validation)
	}
	return upsertAttachmentTx(ctx, t.tx, a)
}

func (t *TxStore) RecordConflict(ctx context.Context, c types.ConflictRecord) error {
	return recordConflictTx(ctx, t.tx, c)
}
