package ledger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/haulmark/haulmark/internal/canon"
	"github.com/haulmark/haulmark/internal/entity"
)

// RetryPolicy bounds the retry behavior of a RetryingClient.
type RetryPolicy struct {
	// CallTimeout bounds each individual ledger call. No call may
	// block indefinitely.
	CallTimeout time.Duration
	// MaxElapsed bounds the total time spent retrying one operation,
	// including backoff waits.
	MaxElapsed time.Duration
	// InitialBackoff is the first retry delay; subsequent delays grow
	// exponentially with jitter.
	InitialBackoff time.Duration
}

// DefaultRetryPolicy is a conservative bound for interactive use.
var DefaultRetryPolicy = RetryPolicy{
	CallTimeout:    5 * time.Second,
	MaxElapsed:     30 * time.Second,
	InitialBackoff: 200 * time.Millisecond,
}

// RetryingClient wraps a Client with per-call timeouts and bounded
// exponential backoff for transient failures.
//
// Only *TransientError is retried. Rejections and anything else pass
// through immediately - in particular, nothing downstream of a
// confirmed-hash mismatch is ever retried here, because that check
// happens above this layer and its failure is not a ledger error.
type RetryingClient struct {
	inner  Client
	policy RetryPolicy
}

// WithRetry wraps client with the given policy. Zero policy fields fall
// back to DefaultRetryPolicy values.
func WithRetry(client Client, policy RetryPolicy) *RetryingClient {
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = DefaultRetryPolicy.CallTimeout
	}
	if policy.MaxElapsed <= 0 {
		policy.MaxElapsed = DefaultRetryPolicy.MaxElapsed
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = DefaultRetryPolicy.InitialBackoff
	}
	return &RetryingClient{inner: client, policy: policy}
}

func (c *RetryingClient) Register(ctx context.Context, id string, hash canon.ContentHash) (*entity.AnchorReceipt, error) {
	return c.retryReceipt(ctx, func(callCtx context.Context) (*entity.AnchorReceipt, error) {
		return c.inner.Register(callCtx, id, hash)
	})
}

func (c *RetryingClient) Update(ctx context.Context, id string, hash canon.ContentHash) (*entity.AnchorReceipt, error) {
	return c.retryReceipt(ctx, func(callCtx context.Context) (*entity.AnchorReceipt, error) {
		return c.inner.Update(callCtx, id, hash)
	})
}

func (c *RetryingClient) Get(ctx context.Context, id string) (canon.ContentHash, error) {
	var hash canon.ContentHash
	err := c.retry(ctx, func(callCtx context.Context) error {
		var err error
		hash, err = c.inner.Get(callCtx, id)
		return err
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (c *RetryingClient) retryReceipt(ctx context.Context, call func(context.Context) (*entity.AnchorReceipt, error)) (*entity.AnchorReceipt, error) {
	var receipt *entity.AnchorReceipt
	err := c.retry(ctx, func(callCtx context.Context) error {
		var err error
		receipt, err = call(callCtx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *RetryingClient) retry(ctx context.Context, call func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.policy.InitialBackoff
	b.MaxElapsedTime = c.policy.MaxElapsed

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.policy.CallTimeout)
		defer cancel()

		err := call(callCtx)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
