package common

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// BackoffConfig generalizes azcopy's NetworkRetryConfig (common/retryUtils.go)
// beyond network errors: the upload engine's chunk retries, the store's
// quota-cleanup retry and the CDN connector's invalidation retry all share
// this shape, only the predicate for "is this retryable" differs per call
// site.
type BackoffConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultBackoff mirrors azcopy's DefaultNetworkRetryConfig defaults.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (b BackoffConfig) delay(attempt int) time.Duration {
	d := time.Duration(float64(b.InitialDelay) * math.Pow(b.BackoffMultiplier, float64(attempt)))
	if d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Retryable is satisfied by call sites that know whether a given failure
// is worth retrying; *Error already implements it via its Retryable field.
type Retryable interface {
	error
	IsRetryable() bool
}

func (e *Error) IsRetryable() bool { return e.Retryable }

// WithBackoff runs fn up to cfg.MaxRetries+1 times, sleeping with
// exponential backoff between attempts, stopping early if ctx is
// cancelled (reported as the CANCELLED code per spec §7: "CANCELLED:
// never retried") or if fn's error satisfies Retryable with
// IsRetryable()==false. Errors that do not themselves implement Retryable
// (wrapped errors included) are retried. Grounded on common/retryUtils.go's
// WithNetworkRetry[T], generalized to an arbitrary retryability predicate.
func WithBackoff[T any](ctx context.Context, logger ILogger, operation string, cfg BackoffConfig, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, NewError(ECode.Cancelled(), "operation cancelled: "+operation, err)
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 0 && logger != nil {
				logger.Log(LogInfo, fmt.Sprintf("%s succeeded after %d retries", operation, attempt))
			}
			return result, nil
		}
		lastErr = err

		retryable := true
		if r, ok := err.(Retryable); ok {
			retryable = r.IsRetryable()
		}
		if !retryable || attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.delay(attempt)
		if logger != nil {
			logger.Log(LogWarning, fmt.Sprintf("%s attempt %d/%d failed: %v; retrying in %v", operation, attempt+1, cfg.MaxRetries+1, err, delay))
		}

		select {
		case <-ctx.Done():
			return zero, NewError(ECode.Cancelled(), "operation cancelled during backoff: "+operation, ctx.Err())
		case <-time.After(delay):
		}
	}

	return zero, fmt.Errorf("%s exhausted after %d attempts: %w", operation, cfg.MaxRetries+1, lastErr)
}

// FanOut runs each of fns concurrently under one cancellation scope via
// golang.org/x/sync/errgroup, the same primitive azcopy and desync use for
// bounded concurrent fan-out. limit <= 0 means unbounded.
func FanOut(ctx context.Context, limit int, fns ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}
