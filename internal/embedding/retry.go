package embedding

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultMaxAttempts = 3

// permanent marks an error as non-retryable: bad credentials, invalid
// requests and dimension mismatches surface immediately.
func permanent(err error) error {
	return backoff.Permanent(err)
}

// retryProvider decorates a Provider with bounded exponential backoff for
// transient failures.
type retryProvider struct {
	inner       Provider
	maxAttempts uint64
}

// WithRetry wraps a provider so transient errors are retried up to
// maxAttempts times with exponential backoff. Errors marked permanent by the
// backend are not retried.
func WithRetry(p Provider, maxAttempts int) Provider {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &retryProvider{inner: p, maxAttempts: uint64(maxAttempts)}
}

func (r *retryProvider) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, r.maxAttempts-1), ctx)
}

func (r *retryProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	op := func() error {
		var err error
		vec, err = r.inner.Embed(ctx, text)
		return err
	}
	if err := backoff.Retry(op, r.policy(ctx)); err != nil {
		return nil, err
	}
	return vec, nil
}

func (r *retryProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	op := func() error {
		var err error
		vecs, err = r.inner.EmbedBatch(ctx, texts)
		return err
	}
	if err := backoff.Retry(op, r.policy(ctx)); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (r *retryProvider) Dimension() int {
	return r.inner.Dimension()
}

func (r *retryProvider) Name() string {
	return r.inner.Name()
}
