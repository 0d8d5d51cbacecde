package devledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulmark/haulmark/internal/ledger"
)

func openTestLedger(t *testing.T, refs ...string) *Ledger {
	t.Helper()
	clock := func() time.Time {
		return time.Date(2026, 3, 14, 9, 30, 45, 0, time.UTC)
	}
	opts := []Option{WithClock(clock)}
	if len(refs) > 0 {
		opts = append(opts, WithTxRefGenerator(NewFixedGenerator(refs...)))
	}
	l, err := Open(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRegisterAndGet(t *testing.T) {
	l := openTestLedger(t, "tx-0001")
	ctx := context.Background()

	receipt, err := l.Register(ctx, "prod-1", "0xABC")
	require.NoError(t, err)
	assert.Equal(t, "tx-0001", receipt.TxRef)
	assert.Equal(t, "0xabc", receipt.ConfirmedHash)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 30, 45, 0, time.UTC), receipt.AnchoredAt)

	hash, err := l.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", string(hash))
}

func TestRegisterTwiceRejected(t *testing.T) {
	l := openTestLedger(t, "tx-0001", "tx-0002")
	ctx := context.Background()

	_, err := l.Register(ctx, "prod-1", "0xabc")
	require.NoError(t, err)

	_, err = l.Register(ctx, "prod-1", "0xdef")
	require.Error(t, err)
	assert.True(t, ledger.IsRejection(err))

	// The anchored hash is unchanged.
	hash, err := l.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", string(hash))
}

func TestUpdateRequiresRegistration(t *testing.T) {
	l := openTestLedger(t, "tx-0001")

	_, err := l.Update(context.Background(), "prod-1", "0xabc")
	require.Error(t, err)
	assert.True(t, ledger.IsRejection(err))
}

func TestUpdateOverwritesCurrentHash(t *testing.T) {
	l := openTestLedger(t, "tx-0001", "tx-0002")
	ctx := context.Background()

	_, err := l.Register(ctx, "prod-1", "0xabc")
	require.NoError(t, err)

	receipt, err := l.Update(ctx, "prod-1", "0xdef")
	require.NoError(t, err)
	assert.Equal(t, "tx-0002", receipt.TxRef)

	hash, err := l.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "0xdef", string(hash))
}

func TestGetUnknownID(t *testing.T) {
	l := openTestLedger(t)

	_, err := l.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRejectsEmptyIDAndHash(t *testing.T) {
	l := openTestLedger(t, "tx-0001")
	ctx := context.Background()

	_, err := l.Register(ctx, "", "0xabc")
	assert.True(t, ledger.IsRejection(err))

	_, err = l.Register(ctx, "prod-1", "")
	assert.True(t, ledger.IsRejection(err))

	_, err = l.Register(ctx, "prod-1", "0x")
	assert.True(t, ledger.IsRejection(err))
}

func TestHistoryAppendOnly(t *testing.T) {
	l := openTestLedger(t, "tx-0001", "tx-0002", "tx-0003")
	ctx := context.Background()

	_, err := l.Register(ctx, "prod-1", "0xaaa")
	require.NoError(t, err)
	_, err = l.Update(ctx, "prod-1", "0xbbb")
	require.NoError(t, err)
	_, err = l.Update(ctx, "prod-1", "0xccc")
	require.NoError(t, err)

	history, err := l.History(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "0xaaa", history[0].ConfirmedHash)
	assert.Equal(t, "0xbbb", history[1].ConfirmedHash)
	assert.Equal(t, "0xccc", history[2].ConfirmedHash)
}

func TestHistoryIsolatedPerID(t *testing.T) {
	l := openTestLedger(t, "tx-0001", "tx-0002")
	ctx := context.Background()

	_, err := l.Register(ctx, "prod-1", "0xaaa")
	require.NoError(t, err)
	_, err = l.Register(ctx, "prod-10", "0xbbb")
	require.NoError(t, err)

	history, err := l.History(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "0xaaa", history[0].ConfirmedHash)
}

func TestCanceledContextIsTransient(t *testing.T) {
	l := openTestLedger(t, "tx-0001")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Register(ctx, "prod-1", "0xabc")
	require.Error(t, err)
	assert.True(t, ledger.IsTransient(err))
}

func TestReopenKeepsAnchors(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, WithTxRefGenerator(NewFixedGenerator("tx-0001")))
	require.NoError(t, err)
	_, err = l.Register(context.Background(), "prod-1", "0xabc")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	hash, err := reopened.Get(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", string(hash))
}
