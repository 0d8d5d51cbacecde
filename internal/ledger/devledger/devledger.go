// Package devledger is an embedded ledger for local development and
// integration tests. It implements ledger.Client on top of Pebble with
// the same semantics a remote anchor ledger exposes: one current hash
// per entity id, register-once/update-after, and an append-only history
// of every anchored hash.
//
// It is not a consensus ledger. It exists so the rest of the system can
// be exercised end to end without network access.
package devledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/haulmark/haulmark/internal/canon"
	"github.com/haulmark/haulmark/internal/entity"
	"github.com/haulmark/haulmark/internal/ledger"
)

// TxRefGenerator generates ledger transaction references.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type TxRefGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction refs.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined transaction refs for tests,
// enabling deterministic receipts.
type FixedGenerator struct {
	mu   sync.Mutex
	refs []string
	idx  int
}

// NewFixedGenerator creates a generator that returns refs in order and
// panics when exhausted.
func NewFixedGenerator(refs ...string) *FixedGenerator {
	return &FixedGenerator{refs: refs}
}

// Generate returns the next predetermined ref.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.refs) {
		panic("devledger: FixedGenerator exhausted")
	}
	ref := g.refs[g.idx]
	g.idx++
	return ref
}

// Ledger is a Pebble-backed anchor ledger.
//
// Key layout:
//
//	anchor/<id>          -> current anchorEntry (overwritten by Update)
//	history/<id>/<txref> -> anchorEntry (append-only, never overwritten)
type Ledger struct {
	mu     sync.Mutex
	db     *pebble.DB
	txRefs TxRefGenerator
	now    func() time.Time
}

type anchorEntry struct {
	Hash       string    `json:"hash"`
	TxRef      string    `json:"tx_ref"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTxRefGenerator overrides the transaction ref generator.
func WithTxRefGenerator(g TxRefGenerator) Option {
	return func(l *Ledger) { l.txRefs = g }
}

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open creates or opens a dev ledger at path.
func Open(path string, opts ...Option) (*Ledger, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("devledger: open %s: %w", path, err)
	}
	l := &Ledger{
		db:     db,
		txRefs: UUIDv7Generator{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Register anchors a hash for a new entity id. Registering an id that
// is already anchored is rejected - this is the ledger-side uniqueness
// check that surfaces a write race as a conflict instead of letting two
// writers anchor conflicting hashes.
func (l *Ledger) Register(ctx context.Context, id string, hash canon.ContentHash) (*entity.AnchorReceipt, error) {
	return l.anchor(ctx, "register", id, hash, false)
}

// Update overwrites the hash for an already-registered entity id.
func (l *Ledger) Update(ctx context.Context, id string, hash canon.ContentHash) (*entity.AnchorReceipt, error) {
	return l.anchor(ctx, "update", id, hash, true)
}

func (l *Ledger) anchor(ctx context.Context, op, id string, hash canon.ContentHash, mustExist bool) (*entity.AnchorReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ledger.TransientError{Op: op, ID: id, Err: err}
	}
	if id == "" {
		return nil, &ledger.RejectionError{Op: op, ID: id, Reason: "empty entity id"}
	}
	normalized := canon.Normalize(string(hash))
	if normalized == "" {
		return nil, &ledger.RejectionError{Op: op, ID: id, Reason: "empty hash"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, closer, err := l.db.Get(anchorKey(id))
	switch {
	case err == nil:
		closer.Close()
		if !mustExist {
			return nil, &ledger.RejectionError{Op: op, ID: id, Reason: "entity id already registered"}
		}
	case err == pebble.ErrNotFound:
		if mustExist {
			return nil, &ledger.RejectionError{Op: op, ID: id, Reason: "entity id not registered"}
		}
	default:
		return nil, &ledger.TransientError{Op: op, ID: id, Err: err}
	}

	ent := anchorEntry{
		Hash:       string(normalized),
		TxRef:      l.txRefs.Generate(),
		AnchoredAt: l.now().UTC(),
	}
	raw, err := json.Marshal(ent)
	if err != nil {
		return nil, &ledger.TransientError{Op: op, ID: id, Err: err}
	}

	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(anchorKey(id), raw, nil); err != nil {
		return nil, &ledger.TransientError{Op: op, ID: id, Err: err}
	}
	if err := batch.Set(historyKey(id, ent.TxRef), raw, nil); err != nil {
		return nil, &ledger.TransientError{Op: op, ID: id, Err: err}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, &ledger.TransientError{Op: op, ID: id, Err: err}
	}

	return &entity.AnchorReceipt{
		TxRef:         ent.TxRef,
		ConfirmedHash: ent.Hash,
		AnchoredAt:    ent.AnchoredAt,
	}, nil
}

// Get returns the currently anchored hash for an entity id.
func (l *Ledger) Get(ctx context.Context, id string) (canon.ContentHash, error) {
	if err := ctx.Err(); err != nil {
		return "", &ledger.TransientError{Op: "get", ID: id, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	raw, closer, err := l.db.Get(anchorKey(id))
	if err == pebble.ErrNotFound {
		return "", ledger.ErrNotFound
	}
	if err != nil {
		return "", &ledger.TransientError{Op: "get", ID: id, Err: err}
	}
	defer closer.Close()

	var ent anchorEntry
	if err := json.Unmarshal(raw, &ent); err != nil {
		return "", &ledger.TransientError{Op: "get", ID: id, Err: err}
	}
	return canon.ContentHash(ent.Hash), nil
}

// History returns every hash ever anchored for an entity id, oldest
// first by transaction ref (UUIDv7 refs are time-ordered).
func (l *Ledger) History(ctx context.Context, id string) ([]entity.AnchorReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ledger.TransientError{Op: "history", ID: id, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := []byte("history/" + id + "/")
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(append([]byte(nil), prefix...), 0xff),
	})
	if err != nil {
		return nil, &ledger.TransientError{Op: "history", ID: id, Err: err}
	}
	defer iter.Close()

	var receipts []entity.AnchorReceipt
	for iter.First(); iter.Valid(); iter.Next() {
		var ent anchorEntry
		if err := json.Unmarshal(iter.Value(), &ent); err != nil {
			return nil, &ledger.TransientError{Op: "history", ID: id, Err: err}
		}
		receipts = append(receipts, entity.AnchorReceipt{
			TxRef:         ent.TxRef,
			ConfirmedHash: ent.Hash,
			AnchoredAt:    ent.AnchoredAt,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, &ledger.TransientError{Op: "history", ID: id, Err: err}
	}
	return receipts, nil
}

func anchorKey(id string) []byte {
	return []byte("anchor/" + id)
}

func historyKey(id, txRef string) []byte {
	return []byte("history/" + id + "/" + txRef)
}
