package finrag

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryEmbedder wraps an EmbeddingProvider and automatically retries
// transient HTTP errors (status 429 Too Many Requests and 503 Service
// Unavailable) with exponential backoff.
type retryEmbedder struct {
	inner       EmbeddingProvider
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryOption configures a retry wrapper.
type RetryOption func(*retryEmbedder)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryEmbedder) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles. Non-positive values are
// ignored.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryEmbedder) {
		if d > 0 {
			r.baseDelay = d
		}
	}
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN and final failures at ERROR. Default discards.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryEmbedder) { r.logger = l }
}

// WithRetry wraps p with automatic retry on transient HTTP errors (429, 503)
// using exponential backoff with jitter:
//
//	embedder = finrag.WithRetry(provider)
//	embedder = finrag.WithRetry(provider, finrag.RetryMaxAttempts(5))
func WithRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	r := &retryEmbedder{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Embed implements EmbeddingProvider with retry.
func (r *retryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for i := 0; i < r.maxAttempts; i++ {
		vecs, err := r.inner.Embed(ctx, texts)
		if err == nil || !isTransient(err) {
			return vecs, err
		}
		lastErr = err
		r.logger.Warn("retrying transient embed error",
			"attempt", i+1, "max_attempts", r.maxAttempts, "error", err)
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(retryDelay(r.baseDelay, i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.logger.Error("all embed retry attempts exhausted",
		"attempts", r.maxAttempts, "error", lastErr)
	return nil, lastErr
}

// isTransient reports whether err is a retryable HTTP error (429 or 503).
func isTransient(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && e.retryable()
}

// retryDelay computes the backoff for the given attempt: baseDelay doubled
// per attempt, plus up to 25% jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
