package anchor

import (
	"errors"
	"fmt"

	"github.com/haulmark/haulmark/internal/entity"
)

// IntegrityFault means the ledger confirmed a different hash than the
// one computed locally for the same payload. This is not an
// operational error: both sides ran the same deterministic protocol
// over the same bytes, so a disagreement implies a protocol defect or
// tampering in flight. It must never be retried automatically and
// never silently accepted - callers surface it to operators.
type IntegrityFault struct {
	EntityType    string
	ID            string
	LocalHash     string
	ConfirmedHash string
	TxRef         string
}

func (e *IntegrityFault) Error() string {
	return fmt.Sprintf("integrity fault: ledger confirmed %s for %s/%s but local hash is %s (tx %s)",
		e.ConfirmedHash, e.EntityType, e.ID, e.LocalHash, e.TxRef)
}

// IsIntegrityFault reports whether err is (or wraps) an IntegrityFault.
func IsIntegrityFault(err error) bool {
	var f *IntegrityFault
	return errors.As(err, &f)
}

// PersistenceError means the ledger committed the hash but the local
// store write failed, leaving the ledger ahead of the store. The
// record inside carries the confirmed receipt; replaying it through
// Recover is idempotent, so retrying cannot duplicate or corrupt.
type PersistenceError struct {
	Record *entity.Record
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist failed after anchor for %s/%s (ledger is ahead of store, tx %s): %v",
		e.Record.EntityType, e.Record.ID, e.Record.Receipt.TxRef, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
