package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2}
}

func TestWithBackoffSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	result, err := WithBackoff(context.Background(), NullLogger{}, "test-op", fastBackoff(), func(ctx context.Context, attempt int) (string, error) {
		attempts++
		if attempts < 3 {
			return "", NewError(ECode.Network(), "transient", nil)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	_, err := WithBackoff(context.Background(), NullLogger{}, "test-op", fastBackoff(), func(ctx context.Context, attempt int) (string, error) {
		attempts++
		return "", NewError(ECode.Server(), "4xx plan reject", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithBackoffExhaustsRetries(t *testing.T) {
	attempts := 0
	_, err := WithBackoff(context.Background(), NullLogger{}, "test-op", fastBackoff(), func(ctx context.Context, attempt int) (string, error) {
		attempts++
		return "", NewError(ECode.Network(), "always fails", nil)
	})
	require.Error(t, err)
	assert.Equal(t, fastBackoff().MaxRetries+1, attempts)
}

func TestWithBackoffRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithBackoff(ctx, NullLogger{}, "test-op", fastBackoff(), func(ctx context.Context, attempt int) (string, error) {
		t.Fatal("fn should not run once context is already cancelled")
		return "", nil
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ECode.Cancelled()))
}

func TestFanOutRunsAllAndPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := FanOut(context.Background(), 2,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error { return nil },
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
