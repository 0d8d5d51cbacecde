// Package ledger defines the anchor-client abstraction: an external
// append/overwrite-only store that records one content hash per entity
// id. The write path anchors hashes through it; the reconciliation
// engine reads them back. Implementations are injected - nothing in
// this repo holds a module-level ledger connection.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/haulmark/haulmark/internal/canon"
	"github.com/haulmark/haulmark/internal/entity"
)

// Client anchors and retrieves content hashes by entity id.
//
// Register anchors a hash for a new id; Update overwrites the hash for
// an already-registered id. Both block until the ledger confirms and
// return the receipt. Get returns the currently anchored hash, or
// ErrNotFound if the id was never anchored.
//
// All calls honor ctx deadlines. Failures are one of two kinds:
// *TransientError (I/O or availability, safe to retry) or
// *RejectionError (the ledger refused the operation, retrying the same
// call cannot succeed).
type Client interface {
	Register(ctx context.Context, id string, hash canon.ContentHash) (*entity.AnchorReceipt, error)
	Update(ctx context.Context, id string, hash canon.ContentHash) (*entity.AnchorReceipt, error)
	Get(ctx context.Context, id string) (canon.ContentHash, error)
}

// ErrNotFound is returned by Get when the entity id has never been
// anchored. It is an ordinary outcome, not a failure: the read path
// maps it to the NOT_ON_LEDGER verdict.
var ErrNotFound = errors.New("ledger: entity id not found")

// TransientError is a retryable I/O or availability failure. No ledger
// state changed; the caller may retry with backoff.
type TransientError struct {
	Op  string // "register", "update", or "get"
	ID  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("ledger: transient %s failure for %s: %v", e.Op, e.ID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RejectionError means the ledger refused the operation: registering an
// id that is already anchored, updating one that never was, or a
// malformed hash. Retrying the identical call cannot succeed.
type RejectionError struct {
	Op     string
	ID     string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("ledger: %s rejected for %s: %s", e.Op, e.ID, e.Reason)
}

// IsRejection reports whether err is (or wraps) a RejectionError.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
