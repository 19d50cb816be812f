package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConstantBackoffPolicy(t *testing.T) {
	t.Parallel()

	policy := NewConstantBackoffPolicy(100 * time.Millisecond)
	for retry := 0; retry < 5; retry++ {
		interval, err := policy.ComputeNextInterval(retry, 0, nil)
		require.NoError(t, err)
		require.Equal(t, 100*time.Millisecond, interval)
	}

	policy.MaxRetries = 3
	_, err := policy.ComputeNextInterval(3, 0, nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestExponentialBackoffPolicy(t *testing.T) {
	t.Parallel()

	policy := &ExponentialBackoffPolicy{
		InitialInterval: 100 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     500 * time.Millisecond,
		MaxRetries:      4,
	}

	wants := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond, // capped
	}
	for retry, want := range wants {
		interval, err := policy.ComputeNextInterval(retry, 0, nil)
		require.NoError(t, err)
		require.Equal(t, want, interval)
	}

	_, err := policy.ComputeNextInterval(4, 0, nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestRetrierReset(t *testing.T) {
	t.Parallel()

	retrier := NewRetrier(&ExponentialBackoffPolicy{
		InitialInterval: time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     time.Second,
	})

	errTest := errors.New("test")
	first, err := retrier.Next(errTest)
	require.NoError(t, err)
	second, err := retrier.Next(errTest)
	require.NoError(t, err)
	require.Greater(t, second, first)

	retrier.Reset()
	again, err := retrier.Next(errTest)
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, NewConstantBackoffPolicy(time.Millisecond), nil)

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetriable(t *testing.T) {
	t.Parallel()

	fatal := errors.New("fatal")
	calls := 0
	err := Retry(context.Background(), func(_ context.Context) error {
		calls++
		return fatal
	}, NewConstantBackoffPolicy(time.Millisecond), func(err error) bool {
		return !errors.Is(err, fatal)
	})

	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestRetryReturnsOperationErrorWhenExhausted(t *testing.T) {
	t.Parallel()

	opErr := errors.New("still broken")
	policy := NewConstantBackoffPolicy(time.Millisecond)
	policy.MaxRetries = 2

	calls := 0
	err := Retry(context.Background(), func(_ context.Context) error {
		calls++
		return opErr
	}, policy, nil)

	require.ErrorIs(t, err, opErr)
	require.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, func(_ context.Context) error {
		return errors.New("never reached")
	}, NewConstantBackoffPolicy(time.Hour), nil)

	require.ErrorIs(t, err, context.Canceled)
}
