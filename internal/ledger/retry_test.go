package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulmark/haulmark/internal/ledger"
	"github.com/haulmark/haulmark/internal/ledger/ledgertest"
)

func fastPolicy() ledger.RetryPolicy {
	return ledger.RetryPolicy{
		CallTimeout:    time.Second,
		MaxElapsed:     2 * time.Second,
		InitialBackoff: time.Millisecond,
	}
}

func TestRetryTransientUntilSuccess(t *testing.T) {
	fake := ledgertest.New()
	fake.SetAnchor("prod-1", "0xabc")
	fake.FailNextGet(2, &ledger.TransientError{Op: "get", ID: "prod-1", Err: errors.New("connection reset")})

	client := ledger.WithRetry(fake, fastPolicy())

	hash, err := client.Get(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", string(hash))
	assert.Equal(t, 3, fake.GetCalls)
}

func TestRetryRegisterTransient(t *testing.T) {
	fake := ledgertest.New()
	fake.FailNextRegister(1, &ledger.TransientError{Op: "register", ID: "prod-1", Err: errors.New("timeout")})

	client := ledger.WithRetry(fake, fastPolicy())

	receipt, err := client.Register(context.Background(), "prod-1", "0xabc")
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxRef)
	assert.Equal(t, 2, fake.RegisterCalls)
}

func TestRejectionNotRetried(t *testing.T) {
	fake := ledgertest.New()
	fake.SetAnchor("prod-1", "0xabc")

	client := ledger.WithRetry(fake, fastPolicy())

	_, err := client.Register(context.Background(), "prod-1", "0xdef")
	require.Error(t, err)
	assert.True(t, ledger.IsRejection(err))
	assert.Equal(t, 1, fake.RegisterCalls)
}

func TestNotFoundNotRetried(t *testing.T) {
	fake := ledgertest.New()

	client := ledger.WithRetry(fake, fastPolicy())

	_, err := client.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, 1, fake.GetCalls)
}

func TestRetryGivesUpAfterMaxElapsed(t *testing.T) {
	fake := ledgertest.New()
	fake.SetAnchor("prod-1", "0xabc")
	fake.FailNextUpdate(1_000_000, &ledger.TransientError{Op: "update", ID: "prod-1", Err: errors.New("down")})

	policy := fastPolicy()
	policy.MaxElapsed = 20 * time.Millisecond

	client := ledger.WithRetry(fake, policy)

	_, err := client.Update(context.Background(), "prod-1", "0xdef")
	require.Error(t, err)
	assert.True(t, ledger.IsTransient(err))
	assert.Greater(t, fake.UpdateCalls, 1)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	fake := ledgertest.New()
	fake.FailNextRegister(1_000_000, &ledger.TransientError{Op: "register", ID: "prod-1", Err: errors.New("down")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := ledger.WithRetry(fake, fastPolicy())

	_, err := client.Register(ctx, "prod-1", "0xabc")
	require.Error(t, err)
}
