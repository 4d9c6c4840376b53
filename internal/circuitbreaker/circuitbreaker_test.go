package circuitbreaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcpbox/control-plane/internal/circuitbreaker"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	reg := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: 2, SuccessThreshold: 1, Timeout: 50 * time.Millisecond,
	})

	boom := errors.New("boom")
	require.ErrorIs(t, reg.Call("svc", func() error { return boom }), boom)
	require.ErrorIs(t, reg.Call("svc", func() error { return boom }), boom)

	err := reg.Call("svc", func() error { return nil })
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestBreakerHalfOpensAfterTimeoutAndCloses(t *testing.T) {
	reg := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond,
	})
	boom := errors.New("boom")
	require.ErrorIs(t, reg.Call("svc", func() error { return boom }), boom)
	require.Equal(t, circuitbreaker.StateOpen, reg.Get("svc").State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, reg.Call("svc", func() error { return nil }))
	require.Equal(t, circuitbreaker.StateClosed, reg.Get("svc").State())
}

func TestRetryNeverRetriesOpenBreaker(t *testing.T) {
	calls := 0
	err := circuitbreaker.Retry(context.Background(), circuitbreaker.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() error {
		calls++
		return circuitbreaker.ErrOpen
	})
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	require.Equal(t, 1, calls)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := circuitbreaker.Retry(context.Background(), circuitbreaker.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}
