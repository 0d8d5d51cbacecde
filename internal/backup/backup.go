// Package backup is the optional off-chain copy of full records,
// addressed by CID. It is strictly best-effort: the write path runs it
// after persisting and logs failures without ever failing the
// operation, so nothing here carries integrity semantics.
package backup

import (
	"context"
	"time"

	"github.com/haulmark/haulmark/internal/entity"
)

// Receipt reports where a record backup landed.
type Receipt struct {
	// ContentID is the CIDv1 (raw, sha2-256) of the stored bytes.
	ContentID string    `json:"content_id"`
	PinnedAt  time.Time `json:"pinned_at"`
}

// Service stores a snapshot of a record off-chain.
type Service interface {
	Store(ctx context.Context, rec *entity.Record) (*Receipt, error)
}
