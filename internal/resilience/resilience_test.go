package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	config := DefaultRetryConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	return config
}

func TestRetry(t *testing.T) {
	networkErr := apperrors.NewNetworkError("connection refused", nil)
	validationErr := apperrors.NewValidationError("bad input")

	tests := []struct {
		name      string
		errs      []error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{name: "first try succeeds", errs: []error{nil}, attempts: 3, wantCalls: 1},
		{name: "recovers after transient failure", errs: []error{networkErr, nil}, attempts: 3, wantCalls: 2},
		{name: "gives up after max attempts", errs: []error{networkErr, networkErr, networkErr}, attempts: 3, wantCalls: 3, wantErr: networkErr},
		{name: "does not retry validation errors", errs: []error{validationErr, nil}, attempts: 3, wantCalls: 1, wantErr: validationErr},
		{name: "zero attempts still calls once", errs: []error{nil}, attempts: 0, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), fastRetry(tt.attempts), func(context.Context) error {
				err := tt.errs[calls]
				calls++
				return err
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, fastRetry(3), func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestCalculateDelay(t *testing.T) {
	config := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(config, 0))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(config, 2))
	assert.Equal(t, time.Second, calculateDelay(config, 10))

	config.JitterEnabled = true
	for i := 0; i < 20; i++ {
		d := calculateDelay(config, 0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 110*time.Millisecond)
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsRetryableHTTPStatus(code), "status %d", code)
	}
	assert.False(t, IsRetryableHTTPStatus(http.StatusNotImplemented))
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("github", CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
	})
	cb.now = func() time.Time { return now }

	ctx := context.Background()
	fail := func(context.Context) error { return apperrors.NewNetworkError("down", nil) }
	ok := func(context.Context) error { return nil }

	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateClosed, cb.State())
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called, "open circuit must not call through")
	assert.True(t, apperrors.Is(err, apperrors.CategoryNetwork))

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("github", CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 2})
	cb.now = func() time.Time { return now }
	ctx := context.Background()
	fail := func(context.Context) error { return apperrors.NewTimeoutError("slow", nil) }

	require.Error(t, cb.Execute(ctx, fail))
	now = now.Add(2 * time.Minute)
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "open", cb.Stats()["state"])
}

func TestCircuitBreakerIgnoresCallerErrors(t *testing.T) {
	cb := NewCircuitBreaker("github", CircuitBreakerConfig{FailureThreshold: 1})
	notFound := apperrors.NewNotFoundError("repository", "a/b")

	err := cb.Execute(context.Background(), func(context.Context) error { return notFound })
	assert.True(t, errors.Is(err, notFound))
	assert.Equal(t, StateClosed, cb.State())

	cb.Reset()
	assert.Equal(t, "closed", cb.Stats()["state"])
}
