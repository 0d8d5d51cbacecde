package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haulmark/haulmark/internal/entity"
)

const recordColumns = `entity_type, id, fields, stored_hash, tx_ref, confirmed_hash, anchored_at, created_at, updated_at`

// Get returns the record for an entity id, or ErrNotFound.
// The returned record reflects whatever the row currently holds -
// including any tampering. Verifying it is the reconciliation
// engine's job.
func (s *Store) Get(ctx context.Context, entityType, id string) (*entity.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE entity_type = ? AND id = ?
	`, entityType, id)

	rec, err := s.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", entityType, id, err)
	}
	return rec, nil
}

// Filter narrows a List call. Zero value lists everything.
type Filter struct {
	EntityType string
}

// List returns records matching the filter, ordered by entity type
// then id for stable output.
func (s *Store) List(ctx context.Context, filter Filter) ([]*entity.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records`
	var args []any
	if filter.EntityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, filter.EntityType)
	}
	query += ` ORDER BY entity_type, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*entity.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	return records, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(sc scanner) (*entity.Record, error) {
	var (
		rec           entity.Record
		fieldsJSON    string
		txRef         string
		confirmedHash string
		anchoredAt    string
		createdAt     string
		updatedAt     string
	)

	if err := sc.Scan(
		&rec.EntityType,
		&rec.ID,
		&fieldsJSON,
		&rec.StoredHash,
		&txRef,
		&confirmedHash,
		&anchoredAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	spec, err := s.reg.Spec(rec.EntityType)
	if err != nil {
		return nil, err
	}

	rec.Fields, err = unmarshalFields(spec, fieldsJSON)
	if err != nil {
		return nil, err
	}

	rec.Receipt = &entity.AnchorReceipt{
		TxRef:         txRef,
		ConfirmedHash: confirmedHash,
	}
	if rec.Receipt.AnchoredAt, err = parseStoredTime(anchoredAt); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, err
	}

	return &rec, nil
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stored timestamp %q: %w", s, err)
	}
	return t, nil
}
