package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haulmark/haulmark/internal/entity"
)

// Persist writes the full record, its confirmed hash, and the anchor
// receipt in one statement.
//
// Idempotent replay: the upsert is keyed by (entity_type, id), and the
// DO UPDATE clause is guarded on tx_ref, so re-persisting the same
// receipt after a PERSIST_FAILED recovery is a no-op rather than a
// duplicate or a corrupting overwrite. A later receipt for the same id
// replaces the row; created_at survives updates.
func (s *Store) Persist(ctx context.Context, rec *entity.Record) error {
	if rec.Receipt == nil {
		return fmt.Errorf("persist %s/%s: record has no anchor receipt", rec.EntityType, rec.ID)
	}

	fieldsJSON, err := marshalFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("persist %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records
		(entity_type, id, fields, stored_hash, tx_ref, confirmed_hash, anchored_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			fields         = excluded.fields,
			stored_hash    = excluded.stored_hash,
			tx_ref         = excluded.tx_ref,
			confirmed_hash = excluded.confirmed_hash,
			anchored_at    = excluded.anchored_at,
			updated_at     = excluded.updated_at
		WHERE records.tx_ref != excluded.tx_ref
	`,
		rec.EntityType,
		rec.ID,
		fieldsJSON,
		rec.StoredHash,
		rec.Receipt.TxRef,
		rec.Receipt.ConfirmedHash,
		rec.Receipt.AnchoredAt.UTC().Format(time.RFC3339),
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("persist %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	return nil
}

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("store: record not found")

// Delete removes a record. Used by operator tooling only - the write
// path never deletes, and the ledger keeps its anchor either way.
func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE entity_type = ? AND id = ?`, entityType, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", entityType, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", entityType, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
