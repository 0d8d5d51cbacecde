package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/haulmark/haulmark/internal/entity"
)

// LocalCAS is a filesystem-backed content-addressable backup store.
// Objects are written once, keyed strictly by CID; a re-store of
// identical bytes is a no-op that returns the same content id.
type LocalCAS struct {
	root string
	now  func() time.Time
}

// NewLocalCAS creates the backup directory if needed.
func NewLocalCAS(root string) (*LocalCAS, error) {
	if root == "" {
		return nil, errors.New("backup: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return &LocalCAS{root: root, now: time.Now}, nil
}

// Store serializes the full record (fields, hash, receipt) to JSON and
// writes it under its CID.
func (c *LocalCAS) Store(ctx context.Context, rec *entity.Record) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backup %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	id, err := cidV1RawSHA256(data)
	if err != nil {
		return nil, fmt.Errorf("backup %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	path := filepath.Join(c.root, id.String())
	if _, err := os.Stat(path); err == nil {
		// Identical bytes already pinned.
		return &Receipt{ContentID: id.String(), PinnedAt: c.now().UTC()}, nil
	}

	// Write via a temp file and rename so a crash never leaves a
	// partial object under a valid CID.
	tmp, err := os.CreateTemp(c.root, ".pin-*")
	if err != nil {
		return nil, fmt.Errorf("backup %s/%s: %w", rec.EntityType, rec.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("backup %s/%s: %w", rec.EntityType, rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("backup %s/%s: %w", rec.EntityType, rec.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("backup %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	return &Receipt{ContentID: id.String(), PinnedAt: c.now().UTC()}, nil
}

// Load reads a pinned object back by content id.
func (c *LocalCAS) Load(contentID string) ([]byte, error) {
	id, err := cid.Decode(contentID)
	if err != nil {
		return nil, fmt.Errorf("backup: invalid content id %q: %w", contentID, err)
	}
	return os.ReadFile(filepath.Join(c.root, id.String()))
}

// cidV1RawSHA256 returns a CIDv1 using the "raw" multicodec and a
// sha2-256 multihash.
func cidV1RawSHA256(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
