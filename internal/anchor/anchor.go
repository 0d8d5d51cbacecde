// Package anchor is the write path: canonicalize → hash → anchor on
// the ledger → persist locally, with defined failure points at every
// transition. Records are only ever mutated through here - the store
// is never written directly by callers, which is what makes the
// anchored hashes meaningful.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haulmark/haulmark/internal/backup"
	"github.com/haulmark/haulmark/internal/canon"
	"github.com/haulmark/haulmark/internal/entity"
	"github.com/haulmark/haulmark/internal/ledger"
	"github.com/haulmark/haulmark/internal/schema"
	"github.com/haulmark/haulmark/internal/store"
)

// Orchestrator sequences the write path. Construct one at process
// start with an injected ledger client and share it; it is safe for
// concurrent use and serializes writes per entity id internally.
type Orchestrator struct {
	reg    *schema.Registry
	ledger ledger.Client
	store  *store.Store
	backup backup.Service

	locks *keyedMutex
	log   *slog.Logger
	now   func() time.Time

	backups sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBackup enables the best-effort off-chain backup step.
func WithBackup(svc backup.Service) Option {
	return func(o *Orchestrator) { o.backup = svc }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(reg *schema.Registry, client ledger.Client, st *store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:    reg,
		ledger: client,
		store:  st,
		locks:  newKeyedMutex(),
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create validates, canonicalizes, hashes, anchors, and persists a new
// record. raw is JSON-decoded input (decode with UseNumber).
//
// On failure the returned Result names the state the write died in and
// the error carries the taxonomy type: *schema.ValidationError (no
// ledger call was made), *ledger.TransientError or
// *ledger.RejectionError (no local mutation), *IntegrityFault (never
// retry), or *PersistenceError (ledger ahead of store; replay via
// Recover).
func (o *Orchestrator) Create(ctx context.Context, entityType, id string, raw map[string]any) (*Result, error) {
	unlock := o.locks.lock(entityType + "/" + id)
	defer unlock()

	return o.write(ctx, entityType, id, raw, false)
}

// Update mirrors Create for an existing record. The record must
// already be persisted; its fields are merged under the incoming ones
// so immutable identity fields carry over when omitted.
func (o *Orchestrator) Update(ctx context.Context, entityType, id string, raw map[string]any) (*Result, error) {
	unlock := o.locks.lock(entityType + "/" + id)
	defer unlock()

	return o.write(ctx, entityType, id, raw, true)
}

func (o *Orchestrator) write(ctx context.Context, entityType, id string, raw map[string]any, isUpdate bool) (*Result, error) {
	res := &Result{State: StateDraft}

	if id == "" {
		return fail(res, StateValidationFailed, &schema.ValidationError{
			Entity: entityType, Message: "empty entity id",
		})
	}

	spec, err := o.reg.Spec(entityType)
	if err != nil {
		return fail(res, StateValidationFailed, err)
	}

	incoming, err := schema.Coerce(spec, raw)
	if err != nil {
		return fail(res, StateValidationFailed, err)
	}

	var existing *entity.Record
	fields := incoming
	if isUpdate {
		existing, err = o.store.Get(ctx, entityType, id)
		if errors.Is(err, store.ErrNotFound) {
			return fail(res, StateValidationFailed, &schema.ValidationError{
				Entity: entityType, Message: fmt.Sprintf("cannot update %q: record does not exist", id),
			})
		}
		if err != nil {
			return fail(res, StateValidationFailed, err)
		}
		fields, err = schema.MergeForUpdate(spec, existing.Fields, incoming)
		if err != nil {
			return fail(res, StateValidationFailed, err)
		}
	} else if err := schema.Validate(spec, fields); err != nil {
		return fail(res, StateValidationFailed, err)
	}

	payload, err := canon.Payload(spec, id, fields)
	if err != nil {
		return fail(res, StateValidationFailed, err)
	}
	res.State = StateCanonicalized

	hash := canon.Hash(payload)
	res.State = StateHashed
	res.Hash = hash

	// Cancellation is still safe here: nothing has been anchored.
	if err := ctx.Err(); err != nil {
		return fail(res, StateAnchorFailed, &ledger.TransientError{Op: op(isUpdate), ID: id, Err: err})
	}

	res.State = StateAnchoring
	var receipt *entity.AnchorReceipt
	if isUpdate {
		receipt, err = o.ledger.Update(ctx, id, hash)
	} else {
		receipt, err = o.ledger.Register(ctx, id, hash)
	}
	if err != nil {
		// No local mutation has occurred; transient failures are
		// retryable by the caller.
		return fail(res, StateAnchorFailed, err)
	}
	res.State = StateAnchored

	if canon.Normalize(receipt.ConfirmedHash) != hash {
		fault := &IntegrityFault{
			EntityType:    entityType,
			ID:            id,
			LocalHash:     string(hash),
			ConfirmedHash: receipt.ConfirmedHash,
			TxRef:         receipt.TxRef,
		}
		o.log.Error("ledger confirmed a different hash than locally computed",
			"entity", entityType, "id", id,
			"local_hash", fault.LocalHash, "confirmed_hash", fault.ConfirmedHash,
			"tx_ref", receipt.TxRef)
		return fail(res, StateHashMismatch, fault)
	}

	now := o.now().UTC()
	rec := &entity.Record{
		EntityType: entityType,
		ID:         id,
		Fields:     fields.Clone(),
		StoredHash: string(hash),
		Receipt:    receipt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	}

	// The ledger is already committed: the persist must run to
	// completion even if the caller's context is cancelled.
	if err := o.store.Persist(context.WithoutCancel(ctx), rec); err != nil {
		return fail(res, StatePersistFailed, &PersistenceError{Record: rec, Err: err})
	}
	res.State = StatePersisted
	res.Record = rec

	o.runBackup(ctx, rec)

	return res, nil
}

// Recover replays a persist that failed after anchoring. The record
// must carry the confirmed receipt (as delivered inside
// *PersistenceError). Replays are idempotent: re-persisting the same
// receipt is a no-op.
func (o *Orchestrator) Recover(ctx context.Context, rec *entity.Record) error {
	if rec == nil || rec.Receipt == nil {
		return fmt.Errorf("recover: record has no anchor receipt")
	}

	unlock := o.locks.lock(rec.EntityType + "/" + rec.ID)
	defer unlock()

	if err := o.store.Persist(ctx, rec); err != nil {
		return &PersistenceError{Record: rec, Err: err}
	}

	o.log.Info("recovered record after failed persist",
		"entity", rec.EntityType, "id", rec.ID, "tx_ref", rec.Receipt.TxRef)
	return nil
}

// runBackup kicks off the best-effort off-chain backup. It never
// blocks the write and its failure is logged, not propagated.
func (o *Orchestrator) runBackup(ctx context.Context, rec *entity.Record) {
	if o.backup == nil {
		return
	}

	// Detach from the caller's context: the operation already
	// succeeded and cancelling it must not cancel the backup.
	bctx := context.WithoutCancel(ctx)

	o.backups.Add(1)
	go func() {
		defer o.backups.Done()
		receipt, err := o.backup.Store(bctx, rec)
		if err != nil {
			o.log.Warn("off-chain backup failed",
				"entity", rec.EntityType, "id", rec.ID, "error", err)
			return
		}
		o.log.Debug("record backed up off-chain",
			"entity", rec.EntityType, "id", rec.ID, "content_id", receipt.ContentID)
	}()
}

// Wait blocks until all in-flight backups finish. Call on shutdown
// and in tests.
func (o *Orchestrator) Wait() {
	o.backups.Wait()
}

func fail(res *Result, state State, err error) (*Result, error) {
	res.State = state
	return res, err
}

func op(isUpdate bool) string {
	if isUpdate {
		return "update"
	}
	return "register"
}
