// Package types defines the entities the engine persists and exchanges.
// These structs are the wire format: field names and JSON tags here are
// exactly what is written into package change-streams (internal/pkgcodec)
// and compared by the merge engine (internal/merge). Unknown fields on
// read are ignored; missing fields decode to their zero values, and
// decoding does not check for required fields.
package types

import "time"

// SourceKind labels which installation kind authored a Problem.
type SourceKind string

const (
	SourcePersonal  SourceKind = "Personal"
	SourceCorporate SourceKind = "Corporate"
)

// ProfessionMetaKey is the reserved environmentJson key carrying the
// authoring profession id.
const ProfessionMetaKey = "__professionid"

// Entity is the common envelope every persisted row carries.
type Entity struct {
	ID                  string     `json:"id"`
	CreatedAtUtc        time.Time  `json:"createdAtUtc"`
	UpdatedAtUtc        time.Time  `json:"updatedAtUtc"`
	UpdatedByInstanceID string     `json:"updatedByInstanceId"`
	IsDeleted           bool       `json:"isDeleted"`
	DeletedAtUtc        *time.Time `json:"deletedAtUtc,omitempty"`
}

// Problem is a debugging case.
type Problem struct {
	Entity
	Title           string     `json:"title"`
	Symptom         string     `json:"symptom"`
	RootCause       string     `json:"rootCause"`
	Solution        string     `json:"solution"`
	EnvironmentJSON string     `json:"environmentJson"`
	Severity        int        `json:"severity"`
	Status          int        `json:"status"`
	CreatedBy       string     `json:"createdBy"`
	SourceKind      SourceKind `json:"sourceKind"`
}

// Tag is a label applied to problems, unique by lower(trim(name)) among
// active rows.
type Tag struct {
	Entity
	Name string `json:"name"`
}

// ProblemTag links a Problem to a Tag. At most one active link per
// (problemId, tagId); additional historical links are soft-deleted.
type ProblemTag struct {
	Entity
	ProblemID string `json:"problemId"`
	TagID     string `json:"tagId"`
}

// Attachment records metadata about a blob stored in the content-addressed
// object store, keyed by ContentHash.
type Attachment struct {
	Entity
	ProblemID        string `json:"problemId"`
	OriginalFileName string `json:"originalFileName"`
	ContentHash      string `json:"contentHash"`
	SizeBytes        int64  `json:"sizeBytes"`
	MimeType         string `json:"mimeType"`
}

// EntityType names the four entity kinds the merge engine and conflict
// ledger reason about.
type EntityType string

const (
	EntityProblem    EntityType = "Problem"
	EntityTag        EntityType = "Tag"
	EntityProblemTag EntityType = "ProblemTag"
	EntityAttachment EntityType = "Attachment"
)

// Resolution is how an operator disposed of a ConflictRecord.
type Resolution string

const (
	ResolutionKeepLocal    Resolution = "KeepLocal"
	ResolutionUseImported  Resolution = "UseImported"
)

// ConflictRecord is an append-only entry in the conflict ledger, written
// whenever an imported row loses last-writer-wins arbitration against a
// strictly newer local row.
type ConflictRecord struct {
	ID                  string     `json:"id"`
	EntityType          EntityType `json:"entityType"`
	EntityID            string     `json:"entityId"`
	ImportedUpdatedAtUtc time.Time `json:"importedUpdatedAtUtc"`
	LocalUpdatedAtUtc   time.Time  `json:"localUpdatedAtUtc"`
	LocalJSON           string     `json:"localJson"`
	ImportedJSON        string     `json:"importedJson"`
	CreatedAtUtc        time.Time  `json:"createdAtUtc"`
	ResolvedAtUtc       *time.Time `json:"resolvedAtUtc,omitempty"`
	Resolution          Resolution `json:"resolution,omitempty"`
	ResolvedBy          string     `json:"resolvedBy,omitempty"`
}

// SyncState is the per-(local,remote) watermark pair the watermark
// manager (C5) maintains.
type SyncState struct {
	LocalInstanceID          string     `json:"localInstanceId"`
	RemoteInstanceID         string     `json:"remoteInstanceId"`
	LastExportedUpdatedAtUtc *time.Time `json:"lastExportedUpdatedAtUtc,omitempty"`
	LastImportedUpdatedAtUtc *time.Time `json:"lastImportedUpdatedAtUtc,omitempty"`
	LastPackageID            string     `json:"lastPackageId,omitempty"`
}

// InstanceKind distinguishes a personal installation from a corporate one.
type InstanceKind string

const (
	KindPersonal  InstanceKind = "Personal"
	KindCorporate InstanceKind = "Corporate"
)

// InstanceRecord is the per-installation identity persisted by C1.
type InstanceRecord struct {
	InstanceID   string       `json:"instanceId"`
	Kind         InstanceKind `json:"kind"`
	CreatedAtUtc time.Time    `json:"createdAtUtc"`
}

// ProfessionFilter selects how the query engine filters on authoring
// profession.
type ProfessionFilter struct {
	// Mode is "all", "unassigned", or "specific".
	Mode string
	// ProfessionID is only meaningful when Mode == "specific".
	ProfessionID string
}

const (
	ProfessionAll        = "all"
	ProfessionUnassigned = "unassigned"
	ProfessionSpecific   = "specific"
)

// SearchHit is one row of a query engine result.
type SearchHit struct {
	Problem Problem
	Score   int
	Snippet string
}

// HardDeleteFilter scopes the gated purge operation.
type HardDeleteFilter struct {
	TagIDs           []string
	Profession       ProfessionFilter
	UpdatedFromUtc   *time.Time
	UpdatedToUtc     *time.Time
	IncludeSoftDeleted bool
}
