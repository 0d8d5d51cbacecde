// Package ledgertest provides an in-memory ledger.Client with
// scriptable failures for exercising write-path and reconciliation
// behavior without a real ledger.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"github.com/haulmark/haulmark/internal/canon"
	"github.com/haulmark/haulmark/internal/entity"
	"github.com/haulmark/haulmark/internal/ledger"
)

// Fake is an in-memory anchor ledger. Zero value is not usable; use New.
//
// Failure scripting:
//   - FailNextRegister/FailNextUpdate/FailNextGet inject an error for
//     the next n calls of that operation.
//   - ConfirmHash, when set, overrides the hash echoed in receipts -
//     used to simulate a ledger that computed a different hash.
type Fake struct {
	mu sync.Mutex

	anchors map[string]canon.ContentHash

	failRegister int
	failUpdate   int
	failGet      int
	failErr      error

	// ConfirmHash overrides receipt.ConfirmedHash when non-empty.
	ConfirmHash string

	// GetErrFor injects a per-id Get failure, isolated from other ids.
	GetErrFor map[string]error

	RegisterCalls int
	UpdateCalls   int
	GetCalls      int

	nextTx int
}

// New creates an empty fake ledger.
func New() *Fake {
	return &Fake{
		anchors:   make(map[string]canon.ContentHash),
		GetErrFor: make(map[string]error),
	}
}

// FailNextRegister makes the next n Register calls fail with err.
func (f *Fake) FailNextRegister(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRegister = n
	f.failErr = err
}

// FailNextUpdate makes the next n Update calls fail with err.
func (f *Fake) FailNextUpdate(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdate = n
	f.failErr = err
}

// FailNextGet makes the next n Get calls fail with err.
func (f *Fake) FailNextGet(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGet = n
	f.failErr = err
}

// SetAnchor seeds an anchored hash directly, bypassing Register.
func (f *Fake) SetAnchor(id string, hash canon.ContentHash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchors[id] = canon.Normalize(string(hash))
}

// Anchored returns the currently anchored hash and whether one exists.
func (f *Fake) Anchored(id string) (canon.ContentHash, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.anchors[id]
	return h, ok
}

func (f *Fake) Register(ctx context.Context, id string, hash canon.ContentHash) (*entity.AnchorReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RegisterCalls++

	if f.failRegister > 0 {
		f.failRegister--
		return nil, f.failErr
	}
	if _, exists := f.anchors[id]; exists {
		return nil, &ledger.RejectionError{Op: "register", ID: id, Reason: "entity id already registered"}
	}
	return f.anchorLocked(id, hash), nil
}

func (f *Fake) Update(ctx context.Context, id string, hash canon.ContentHash) (*entity.AnchorReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++

	if f.failUpdate > 0 {
		f.failUpdate--
		return nil, f.failErr
	}
	if _, exists := f.anchors[id]; !exists {
		return nil, &ledger.RejectionError{Op: "update", ID: id, Reason: "entity id not registered"}
	}
	return f.anchorLocked(id, hash), nil
}

func (f *Fake) Get(ctx context.Context, id string) (canon.ContentHash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++

	if err, ok := f.GetErrFor[id]; ok && err != nil {
		return "", err
	}
	if f.failGet > 0 {
		f.failGet--
		return "", f.failErr
	}
	hash, ok := f.anchors[id]
	if !ok {
		return "", ledger.ErrNotFound
	}
	return hash, nil
}

func (f *Fake) anchorLocked(id string, hash canon.ContentHash) *entity.AnchorReceipt {
	normalized := canon.Normalize(string(hash))
	f.anchors[id] = normalized

	confirmed := string(normalized)
	if f.ConfirmHash != "" {
		confirmed = f.ConfirmHash
	}

	f.nextTx++
	return &entity.AnchorReceipt{
		TxRef:         txRef(f.nextTx),
		ConfirmedHash: confirmed,
		AnchoredAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.nextTx) * time.Second),
	}
}

func txRef(n int) string {
	// Deterministic refs keep receipts comparable across test runs.
	const digits = "0123456789"
	buf := []byte("tx-0000")
	for i := len(buf) - 1; n > 0 && i >= 3; i-- {
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf)
}
