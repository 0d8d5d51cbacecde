package anchor

import (
	"github.com/haulmark/haulmark/internal/canon"
	"github.com/haulmark/haulmark/internal/entity"
)

// State is a write-path state machine position. A write moves
// DRAFT → CANONICALIZED → HASHED → ANCHORING → ANCHORED → PERSISTED;
// each failure state names the transition that broke.
type State string

const (
	StateDraft         State = "DRAFT"
	StateCanonicalized State = "CANONICALIZED"
	StateHashed        State = "HASHED"
	StateAnchoring     State = "ANCHORING"
	StateAnchored      State = "ANCHORED"
	StatePersisted     State = "PERSISTED"

	// StateValidationFailed: input rejected before any ledger call.
	StateValidationFailed State = "VALIDATION_FAILED"
	// StateAnchorFailed: the ledger call failed; no local mutation
	// happened. Transient failures are retryable by the caller.
	StateAnchorFailed State = "ANCHOR_FAILED"
	// StateHashMismatch: the ledger confirmed a different hash than
	// locally computed. A protocol fault, never retried.
	StateHashMismatch State = "HASH_MISMATCH"
	// StatePersistFailed: the ledger committed but the local store
	// write failed - the documented consistency gap. Recoverable via
	// idempotent replay of the receipt.
	StatePersistFailed State = "PERSIST_FAILED"
)

// Result reports where a write ended up. On success State is
// PERSISTED and Record carries the stored hash and receipt; on failure
// State names the failure point and the returned error carries the
// taxonomy type.
type Result struct {
	State  State             `json:"state"`
	Record *entity.Record    `json:"record,omitempty"`
	Hash   canon.ContentHash `json:"hash,omitempty"`
}
