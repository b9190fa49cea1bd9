// Package pkgcodec implements C6, the package exchange codec: a
// self-contained ZIP holding a manifest, one JSONL change-stream per
// entity kind, and the attachment blobs those streams reference, with
// SHA-256 checksums over every member so a transferred package can be
// verified before anything in it touches the live store. The manifest is
// an entry inside the ZIP; the ZIP as a whole is staged and renamed into
// place atomically via atomicfile.Staged.
package pkgcodec

import (
	"time"

	"github.com/kbengine/kbengine/internal/types"
)

// Mode distinguishes a full export (every row, soft-deleted ones
// included) from an incremental
// one (only rows updated after a watermark).
type Mode string

const (
	ModeFull        Mode = "Full"
	ModeIncremental Mode = "Incremental"
)

// SchemaVersion is the only manifest schema version this codec emits or
// accepts. A manifest naming a different nonzero version is rejected;
// the codec does not attempt forward- or backward-compatible decoding.
const SchemaVersion = 0

// RecordCounts tallies how many rows of each kind a package carries.
type RecordCounts struct {
	Problems    int `json:"problems"`
	Tags        int `json:"tags"`
	ProblemTags int `json:"problemTags"`
	Attachments int `json:"attachments"`
}

// Manifest describes the contents of one exported package.
type Manifest struct {
	PackageID          string       `json:"packageId"`
	SchemaVersion      int          `json:"schemaVersion"`
	CreatedAtUtc       time.Time    `json:"createdAtUtc"`
	ExporterInstanceID string       `json:"exporterInstanceId"`
	ExporterKind       types.InstanceKind `json:"exporterKind"`
	Mode               Mode         `json:"mode"`
	BaseWatermarkUtc   *time.Time   `json:"baseWatermarkUtc,omitempty"`
	MaxUpdatedAtUtc    time.Time    `json:"maxUpdatedAtUtc"`
	RecordCounts       RecordCounts `json:"recordCounts"`
	// Checksums maps each archive member name (data/*.jsonl and every
	// attachments/<hash> entry) to its hex SHA-256 digest, computed
	// during the write pass and verified in full before import applies
	// anything.
	Checksums map[string]string `json:"checksums"`
}

const (
	entryManifest        = "manifest.json"
	entryProblems        = "data/problems.jsonl"
	entryTags            = "data/tags.jsonl"
	entryProblemTags     = "data/problemTags.jsonl"
	entryAttachmentsMeta = "data/attachments.jsonl"
	attachmentBlobPrefix = "attachments/"
)

// operationUpsert is the only change-line operation this codec emits or
// accepts. A soft-delete is carried as an Upsert of a row with
// isDeleted=true, not as a distinct operation.
const operationUpsert = "Upsert"

// changeLine is the envelope every line of a data/*.jsonl stream is
// wrapped in: {"operation":"Upsert","entity":{...}}.
type changeLine[T any] struct {
	Operation string `json:"operation"`
	Entity    T      `json:"entity"`
}
