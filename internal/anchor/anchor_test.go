package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulmark/haulmark/internal/backup"
	"github.com/haulmark/haulmark/internal/canon"
	"github.com/haulmark/haulmark/internal/entity"
	"github.com/haulmark/haulmark/internal/ledger"
	"github.com/haulmark/haulmark/internal/ledger/ledgertest"
	"github.com/haulmark/haulmark/internal/schema"
	"github.com/haulmark/haulmark/internal/store"
)

var registry = schema.MustLoad()

// testClock is a settable time source for deterministic timestamps.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	orch  *Orchestrator
	fake  *ledgertest.Fake
	store *store.Store
	clock *testClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), registry)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := ledgertest.New()
	clock := newTestClock()

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	orch := New(registry, fake, st, opts...)
	t.Cleanup(orch.Wait)

	return &fixture{orch: orch, fake: fake, store: st, clock: clock}
}

func productInput() map[string]any {
	return map[string]any{
		"name":           "Widget",
		"categoryId":     "c1",
		"manufacturerId": "m1",
		"unitPrice":      json.Number("19.90"),
	}
}

func TestCreateHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)

	assert.Equal(t, StatePersisted, res.State)
	require.NotNil(t, res.Record)
	assert.Equal(t, string(res.Hash), res.Record.StoredHash)
	assert.Equal(t, res.Record.StoredHash, res.Record.Receipt.ConfirmedHash)

	// The ledger holds the same hash the store caches.
	anchored, ok := f.fake.Anchored("prod-1")
	require.True(t, ok)
	assert.Equal(t, res.Hash, anchored)

	stored, err := f.store.Get(ctx, entity.TypeProduct, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, res.Record.StoredHash, stored.StoredHash)
	assert.Equal(t, res.Record.Receipt.TxRef, stored.Receipt.TxRef)
	assert.Equal(t, entity.String("Widget"), stored.Fields["name"])
}

func TestCreateHashIsRecomputable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, entity.TypeProduct, "prod-1")
	require.NoError(t, err)

	spec, err := registry.Spec(entity.TypeProduct)
	require.NoError(t, err)
	payload, err := canon.Payload(spec, "prod-1", stored.Fields)
	require.NoError(t, err)
	assert.Equal(t, res.Hash, canon.Hash(payload))
}

func TestCreateValidationFailureMakesNoLedgerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", map[string]any{
		"name": "Widget", // required categoryId and manufacturerId missing
	})
	require.Error(t, err)

	assert.Equal(t, StateValidationFailed, res.State)
	assert.True(t, schema.IsValidation(err))
	assert.Equal(t, 0, f.fake.RegisterCalls)

	_, err = f.store.Get(ctx, entity.TypeProduct, "prod-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateUnknownEntityType(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Create(context.Background(), "warehouse", "w-1", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, StateValidationFailed, res.State)
	assert.True(t, schema.IsValidation(err))
}

func TestCreateEmptyID(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Create(context.Background(), entity.TypeProduct, "", productInput())
	require.Error(t, err)
	assert.Equal(t, StateValidationFailed, res.State)
	assert.True(t, schema.IsValidation(err))
}

func TestCreateTransientAnchorFailureLeavesNoLocalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.FailNextRegister(1, &ledger.TransientError{
		Op: "register", ID: "prod-1", Err: errors.New("ledger unreachable"),
	})

	res, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.Error(t, err)
	assert.Equal(t, StateAnchorFailed, res.State)
	assert.True(t, ledger.IsTransient(err))

	_, err = f.store.Get(ctx, entity.TypeProduct, "prod-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Nothing was anchored, so the same create can simply be retried.
	res, err = f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, res.State)
}

func TestCreateDuplicateIDRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)

	res, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.Error(t, err)
	assert.Equal(t, StateAnchorFailed, res.State)
	assert.True(t, ledger.IsRejection(err))
}

func TestCreateIntegrityFaultNotPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.ConfirmHash = "0xdeadbeef"

	res, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.Error(t, err)

	assert.Equal(t, StateHashMismatch, res.State)
	require.True(t, IsIntegrityFault(err))

	var fault *IntegrityFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, entity.TypeProduct, fault.EntityType)
	assert.Equal(t, "prod-1", fault.ID)
	assert.Equal(t, string(res.Hash), fault.LocalHash)
	assert.NotEqual(t, fault.LocalHash, canon.Normalize(fault.ConfirmedHash))
	assert.NotEmpty(t, fault.TxRef)

	// The conflicting record must not reach the store.
	_, err = f.store.Get(ctx, entity.TypeProduct, "prod-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreatePersistFailureThenRecover(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := store.Open(dbPath, registry)
	require.NoError(t, err)

	fake := ledgertest.New()
	orch := New(registry, fake, st, WithClock(newTestClock().Now))

	// Closing the store makes the persist step fail after the ledger
	// has already committed.
	require.NoError(t, st.Close())

	ctx := context.Background()
	res, err := orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.Error(t, err)

	assert.Equal(t, StatePersistFailed, res.State)
	require.True(t, IsPersistence(err))

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	require.NotNil(t, pe.Record)
	require.NotNil(t, pe.Record.Receipt)

	// The ledger is ahead of the store.
	anchored, ok := fake.Anchored("prod-1")
	require.True(t, ok)
	assert.Equal(t, canon.ContentHash(pe.Record.StoredHash), anchored)

	// Recovery replays the receipt into a working store.
	reopened, err := store.Open(dbPath, registry)
	require.NoError(t, err)
	defer reopened.Close()

	recovery := New(registry, fake, reopened)
	require.NoError(t, recovery.Recover(ctx, pe.Record))

	stored, err := reopened.Get(ctx, entity.TypeProduct, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, pe.Record.Receipt.TxRef, stored.Receipt.TxRef)

	// Replaying again is a no-op, not an error.
	require.NoError(t, recovery.Recover(ctx, pe.Record))
}

func TestRecoverRequiresReceipt(t *testing.T) {
	f := newFixture(t)

	err := f.orch.Recover(context.Background(), &entity.Record{
		EntityType: entity.TypeProduct, ID: "prod-1",
	})
	assert.Error(t, err)
	assert.Error(t, f.orch.Recover(context.Background(), nil))
}

func TestUpdateHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)

	updated, err := f.orch.Update(ctx, entity.TypeProduct, "prod-1", map[string]any{
		"description": "now with rounded corners",
	})
	require.NoError(t, err)

	assert.Equal(t, StatePersisted, updated.State)
	assert.NotEqual(t, created.Hash, updated.Hash)
	assert.NotEqual(t, created.Record.Receipt.TxRef, updated.Record.Receipt.TxRef)

	stored, err := f.store.Get(ctx, entity.TypeProduct, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, entity.String("now with rounded corners"), stored.Fields["description"])
	assert.Equal(t, entity.String("Widget"), stored.Fields["name"])

	// created_at survives; updated_at moves.
	assert.True(t, created.Record.CreatedAt.Equal(stored.CreatedAt))
	assert.True(t, stored.UpdatedAt.After(stored.CreatedAt))

	// The ledger now holds the updated hash.
	anchored, ok := f.fake.Anchored("prod-1")
	require.True(t, ok)
	assert.Equal(t, updated.Hash, anchored)
}

func TestUpdateNonexistentRecord(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Update(context.Background(), entity.TypeProduct, "ghost", map[string]any{
		"description": "x",
	})
	require.Error(t, err)
	assert.Equal(t, StateValidationFailed, res.State)
	assert.True(t, schema.IsValidation(err))
	assert.Equal(t, 0, f.fake.UpdateCalls)
}

func TestUpdateImmutableFieldRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)

	res, err := f.orch.Update(ctx, entity.TypeProduct, "prod-1", map[string]any{
		"manufacturerId": "m2",
	})
	require.Error(t, err)
	assert.Equal(t, StateValidationFailed, res.State)
	assert.True(t, schema.IsValidation(err))
	assert.Equal(t, 0, f.fake.UpdateCalls)

	// The stored record is untouched.
	stored, err := f.store.Get(ctx, entity.TypeProduct, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, entity.String("m1"), stored.Fields["manufacturerId"])
}

func TestUpdateCarriesImmutableFieldsWhenOmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)

	res, err := f.orch.Update(ctx, entity.TypeProduct, "prod-1", map[string]any{
		"discontinued": true,
	})
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, entity.TypeProduct, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, entity.String("m1"), stored.Fields["manufacturerId"])
	assert.Equal(t, entity.Bool(true), stored.Fields["discontinued"])

	// The anchored hash covers the carried-over identity fields.
	spec, err := registry.Spec(entity.TypeProduct)
	require.NoError(t, err)
	payload, err := canon.Payload(spec, "prod-1", stored.Fields)
	require.NoError(t, err)
	assert.Equal(t, res.Hash, canon.Hash(payload))
}

func TestCanceledContextFailsBeforeAnchoring(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.Error(t, err)
	assert.Equal(t, StateAnchorFailed, res.State)
	assert.True(t, ledger.IsTransient(err))
	assert.Equal(t, 0, f.fake.RegisterCalls)
}

func TestBackupRunsAfterPersist(t *testing.T) {
	dir := t.TempDir()
	cas, err := backup.NewLocalCAS(dir)
	require.NoError(t, err)

	f := newFixture(t, WithBackup(cas))
	ctx := context.Background()

	res, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, res.State)

	f.orch.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := cas.Load(entries[0].Name())
	require.NoError(t, err)

	var pinned entity.Record
	require.NoError(t, json.Unmarshal(data, &pinned))
	assert.Equal(t, res.Record.StoredHash, pinned.StoredHash)
}

func TestBackupFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t, WithBackup(failingBackup{}))

	res, err := f.orch.Create(context.Background(), entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, res.State)

	f.orch.Wait()
}

type failingBackup struct{}

func (failingBackup) Store(ctx context.Context, rec *entity.Record) (*backup.Receipt, error) {
	return nil, errors.New("backup target unavailable")
}

func TestConcurrentWritesSameIDSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, entity.TypeProduct, "prod-1", productInput())
	require.NoError(t, err)

	// Concurrent updates to one id must all complete; the per-id lock
	// serializes them so each merge sees a consistent base record.
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.Update(ctx, entity.TypeProduct, "prod-1", map[string]any{
				"description": "rev",
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	stored, err := f.store.Get(ctx, entity.TypeProduct, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, entity.String("rev"), stored.Fields["description"])
}
