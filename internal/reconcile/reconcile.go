// Package reconcile is the read-path integrity check: recompute the
// content hash from the record's current fields, fetch the anchored
// hash from the ledger, and cross-check both against the stored hash
// to produce a tamper verdict. It never mutates anything.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/haulmark/haulmark/internal/canon"
	"github.com/haulmark/haulmark/internal/entity"
	"github.com/haulmark/haulmark/internal/ledger"
	"github.com/haulmark/haulmark/internal/schema"
)

// Verdict classifies one record's integrity from the triple
// (storedHash, recomputedHash, ledgerHash).
type Verdict string

const (
	// VerdictMatch: all three hashes agree.
	VerdictMatch Verdict = "MATCH"
	// VerdictMismatch: the recomputed hash disagrees with the stored
	// hash and/or the ledger hash - the off-chain copy was altered
	// outside the write path, or the cached hash was tampered with.
	VerdictMismatch Verdict = "MISMATCH"
	// VerdictNotOnLedger: the ledger has no anchor for this id.
	VerdictNotOnLedger Verdict = "NOT_ON_LEDGER"
	// VerdictUnknown: the ledger lookup failed, so no claim can be
	// made either way. Distinct from NOT_ON_LEDGER.
	VerdictUnknown Verdict = "UNKNOWN"
)

// LedgerLookupError wraps a read-path ledger failure. It is isolated
// per record: it downgrades that record's verdict to UNKNOWN and never
// escapes to the caller of Reconcile or ReconcileAll.
type LedgerLookupError struct {
	ID  string
	Err error
}

func (e *LedgerLookupError) Error() string {
	return fmt.Sprintf("ledger lookup failed for %s: %v", e.ID, e.Err)
}

func (e *LedgerLookupError) Unwrap() error { return e.Err }

// Outcome is the result of reconciling one record. LedgerHash is empty
// for NOT_ON_LEDGER and UNKNOWN; Err carries the lookup failure behind
// an UNKNOWN verdict, for logging only.
type Outcome struct {
	EntityType     string            `json:"entity_type"`
	ID             string            `json:"id"`
	Verdict        Verdict           `json:"verdict"`
	StoredHash     canon.ContentHash `json:"stored_hash,omitempty"`
	RecomputedHash canon.ContentHash `json:"recomputed_hash,omitempty"`
	LedgerHash     canon.ContentHash `json:"ledger_hash,omitempty"`
	Err            error             `json:"-"`
}

// DefaultMaxInFlight bounds concurrent ledger lookups during batch
// reconciliation so a large listing cannot overwhelm the ledger
// endpoint.
const DefaultMaxInFlight = 8

// Engine recomputes and cross-checks hashes. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	reg         *schema.Registry
	ledger      ledger.Client
	maxInFlight int64
	log         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxInFlight bounds concurrent ledger lookups in ReconcileAll.
func WithMaxInFlight(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxInFlight = n
		}
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates a reconciliation engine around an injected ledger client.
func New(reg *schema.Registry, client ledger.Client, opts ...Option) *Engine {
	e := &Engine{
		reg:         reg,
		ledger:      client,
		maxInFlight: DefaultMaxInFlight,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile produces the integrity verdict for one record.
//
// The hash is always recomputed from the record's current field values;
// the cached stored hash is only ever one of the three compared values,
// never an input to computation. A ledger lookup failure yields
// UNKNOWN and is never returned as an error. The only error returns
// are structural (nil record, undeclared entity type).
func (e *Engine) Reconcile(ctx context.Context, rec *entity.Record) (*Outcome, error) {
	if rec == nil {
		return nil, fmt.Errorf("reconcile: nil record")
	}

	spec, err := e.reg.Spec(rec.EntityType)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	out := &Outcome{
		EntityType: rec.EntityType,
		ID:         rec.ID,
		StoredHash: canon.Normalize(rec.StoredHash),
	}

	payload, err := canon.Payload(spec, rec.ID, rec.Fields)
	if err != nil {
		// Fields that no longer canonicalize cannot match what was
		// anchored; this is a tampered record, not a lookup failure.
		e.log.Warn("stored record no longer canonicalizes",
			"entity", rec.EntityType, "id", rec.ID, "error", err)
		out.Verdict = VerdictMismatch
		return out, nil
	}
	out.RecomputedHash = canon.Hash(payload)

	ledgerHash, lookupErr := e.lookup(ctx, rec.ID)
	out.LedgerHash = ledgerHash
	if lookupErr != nil {
		out.Err = lookupErr
		e.log.Warn("ledger lookup failed; verdict degraded to UNKNOWN",
			"entity", rec.EntityType, "id", rec.ID, "error", lookupErr)
	}

	out.Verdict = verdict(out.StoredHash, out.RecomputedHash, ledgerHash, lookupErr)
	return out, nil
}

// ReconcileAll evaluates every record independently and returns a
// result list of the same length and order as the input. One record's
// ledger failure degrades only that record's verdict; the call itself
// always succeeds. Concurrent ledger lookups are bounded.
func (e *Engine) ReconcileAll(ctx context.Context, records []*entity.Record) []*Outcome {
	outcomes := make([]*Outcome, len(records))
	sem := semaphore.NewWeighted(e.maxInFlight)

	var wg sync.WaitGroup
	for i, rec := range records {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled; everything not yet evaluated is
			// unknown, not failed.
			for j := i; j < len(records); j++ {
				outcomes[j] = unknownOutcome(records[j], err)
			}
			break
		}

		wg.Add(1)
		go func(i int, rec *entity.Record) {
			defer wg.Done()
			defer sem.Release(1)

			out, err := e.Reconcile(ctx, rec)
			if err != nil {
				out = unknownOutcome(rec, err)
			}
			outcomes[i] = out
		}(i, rec)
	}
	wg.Wait()

	return outcomes
}

// lookup fetches the anchored hash, distinguishing "not found" (a nil
// hash, leading to NOT_ON_LEDGER) from a failed lookup.
func (e *Engine) lookup(ctx context.Context, id string) (canon.ContentHash, *LedgerLookupError) {
	hash, err := e.ledger.Get(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", &LedgerLookupError{ID: id, Err: err}
	}
	return canon.Normalize(string(hash)), nil
}

// verdict is the total, deterministic verdict function over the triple
// plus the lookup outcome. Every input combination maps to exactly one
// verdict.
func verdict(stored, recomputed, ledgerHash canon.ContentHash, lookupErr *LedgerLookupError) Verdict {
	switch {
	case lookupErr != nil:
		return VerdictUnknown
	case ledgerHash == "":
		return VerdictNotOnLedger
	case stored == recomputed && recomputed == ledgerHash:
		return VerdictMatch
	default:
		return VerdictMismatch
	}
}

func unknownOutcome(rec *entity.Record, err error) *Outcome {
	out := &Outcome{Verdict: VerdictUnknown, Err: err}
	if rec != nil {
		out.EntityType = rec.EntityType
		out.ID = rec.ID
		out.StoredHash = canon.Normalize(rec.StoredHash)
	}
	return out
}
