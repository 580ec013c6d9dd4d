package models

import (
	"time"
)

// ItemState is a lifecycle state of a candidate item within a run.
type ItemState string

const (
	StateDiscovered     ItemState = "discovered"
	StateFetching       ItemState = "fetching"
	StateFetched        ItemState = "fetched"
	StateValidating     ItemState = "validating"
	StateValidated      ItemState = "validated"
	StateEmbedding      ItemState = "embedding"
	StateDuplicateCheck ItemState = "duplicate_check"
	StateKept           ItemState = "kept"
	StateRejected       ItemState = "rejected"
	StateFailed         ItemState = "failed"
)

// IsTerminal reports whether no further transition is allowed from the state.
func (s ItemState) IsTerminal() bool {
	return s == StateKept || s == StateRejected || s == StateFailed
}

// validTransitions describes the item state machine. Failed is reachable from
// every non-terminal state and is handled separately in CanTransition.
var validTransitions = map[ItemState][]ItemState{
	StateDiscovered:     {StateFetching, StateRejected},
	StateFetching:       {StateFetched},
	StateFetched:        {StateValidating},
	StateValidating:     {StateValidated, StateRejected},
	StateValidated:      {StateEmbedding},
	StateEmbedding:      {StateDuplicateCheck},
	StateDuplicateCheck: {StateKept, StateRejected},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to ItemState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RejectionReason explains why an item reached the rejected state.
type RejectionReason string

const (
	RejectFormat    RejectionReason = "format"
	RejectDimension RejectionReason = "dimension"
	RejectColorMode RejectionReason = "color_mode"
	RejectCorrupt   RejectionReason = "corrupt"
	RejectEmpty     RejectionReason = "empty"
	RejectLicense   RejectionReason = "license"
	RejectDuplicate RejectionReason = "duplicate"
)

// CandidateItem is a unit of work produced by a source adapter. Immutable once
// created.
type CandidateItem struct {
	SourceID         string            `json:"source_id"`
	RemoteLocator    string            `json:"remote_locator"`
	ExpectedCategory string            `json:"expected_category"`
	LicenseTag       string            `json:"license_tag"`
	DeclaredMetadata map[string]string `json:"declared_metadata,omitempty"`
}

// FetchOutcome classifies the final result of a fetch, after retries.
type FetchOutcome string

const (
	FetchSuccess          FetchOutcome = "success"
	FetchTransientFailure FetchOutcome = "transient_failure"
	FetchPermanentFailure FetchOutcome = "permanent_failure"
)

// FetchResult is the outcome of fetching one candidate. Only the last attempt
// is retained; AttemptCount covers all attempts made.
type FetchResult struct {
	Candidate    CandidateItem `json:"candidate"`
	LocalPath    string        `json:"local_path,omitempty"`
	ByteSize     int64         `json:"byte_size"`
	ContentHash  string        `json:"content_hash,omitempty"`
	ContentType  string        `json:"content_type,omitempty"`
	AttemptCount int           `json:"attempt_count"`
	Duration     time.Duration `json:"duration"`
	Outcome      FetchOutcome  `json:"outcome"`
	Err          string        `json:"error,omitempty"`
}

// ValidationResult is the outcome of inspecting fetched bytes.
type ValidationResult struct {
	Valid     bool            `json:"valid"`
	Reason    RejectionReason `json:"rejection_reason,omitempty"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	ColorMode string          `json:"color_mode,omitempty"`
	Format    string          `json:"format,omitempty"`
}

// EmbeddingRecord pairs an item with its feature vector. Records are never
// mutated; re-embedding with a new model produces a new record.
type EmbeddingRecord struct {
	ItemID       string    `json:"item_id"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// Transition is one recorded state change of a ledger entry.
type Transition struct {
	From   ItemState `json:"from"`
	To     ItemState `json:"to"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// LedgerEntry is the durable, append-only record of one candidate's lifecycle
// and provenance. Exactly one entry exists per (source_id, remote_locator);
// the entry ID is derived deterministically from that pair.
type LedgerEntry struct {
	ID            string            `json:"id" badgerhold:"key"`
	SourceID      string            `json:"source_id"`
	RemoteLocator string            `json:"remote_locator"`
	Category      string            `json:"category,omitempty"`
	LicenseTag    string            `json:"license_tag,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	State ItemState `json:"state"`
	Seq   uint64    `json:"seq"`
	RunID string    `json:"run_id,omitempty"`

	AttemptCount  int           `json:"attempt_count,omitempty"`
	ByteSize      int64         `json:"byte_size,omitempty"`
	ContentHash   string        `json:"content_hash,omitempty"`
	LocalPath     string        `json:"local_path,omitempty"`
	FetchDuration time.Duration `json:"fetch_duration,omitempty"`

	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	ColorMode string `json:"color_mode,omitempty"`
	Format    string `json:"format,omitempty"`

	RejectionReason RejectionReason `json:"rejection_reason,omitempty"`
	FailureMessage  string          `json:"failure_message,omitempty"`
	Retryable       bool            `json:"retryable,omitempty"`

	// CanonicalID points at the kept member of this entry's duplicate group
	// when the entry was rejected as a duplicate.
	CanonicalID    string `json:"canonical_id,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`

	Transitions []Transition `json:"transitions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
