package llmgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newInstantRetry returns an executor whose sleeps are recorded, not slept.
func newInstantRetry(maxRetries int, baseDelay time.Duration) (*RetryExecutor, *[]time.Duration) {
	r := NewRetryExecutor(maxRetries, baseDelay)
	delays := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return r, delays
}

func TestRetry_SuccessFirstAttempt(t *testing.T) {
	r, delays := newInstantRetry(3, 100*time.Millisecond)

	calls := 0
	text, cerr := r.Execute(context.Background(), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.Nil(t, cerr)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestRetry_BackoffDoublesPerAttempt(t *testing.T) {
	r, delays := newInstantRetry(3, 100*time.Millisecond)

	calls := 0
	text, cerr := r.Execute(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 4 {
			return "", &ProviderError{Status: 503, Message: "Service overloaded"}
		}
		return "recovered", nil
	})

	require.Nil(t, cerr)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, *delays)
}

func TestRetry_RetryAfterHintWinsOverBackoff(t *testing.T) {
	r, delays := newInstantRetry(2, 100*time.Millisecond)

	calls := 0
	_, cerr := r.Execute(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", &ProviderError{Status: 429, Message: "Rate limit exceeded", RetryAfter: 5 * time.Second}
	})

	require.NotNil(t, cerr)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, *delays)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	r, delays := newInstantRetry(3, time.Millisecond)

	calls := 0
	_, cerr := r.Execute(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", &ProviderError{Status: 401, Message: "Invalid API key"}
	})

	require.NotNil(t, cerr)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
	assert.Equal(t, KindAuthInvalid, cerr.Kind)
	assert.Equal(t, "Invalid API key", cerr.Error())
}

func TestRetry_ExhaustionReturnsLastClassifiedError(t *testing.T) {
	r, _ := newInstantRetry(3, time.Millisecond)

	calls := 0
	_, cerr := r.Execute(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", &ProviderError{Status: 429, Message: "Rate limit exceeded"}
	})

	require.NotNil(t, cerr)
	assert.Equal(t, 4, calls) // maxRetries+1
	assert.Equal(t, KindRateLimited, cerr.Kind)
	assert.True(t, cerr.FallbackEligible)
	assert.Equal(t, "Rate limit exceeded", cerr.Error())
}

func TestRetry_CancelInterruptsBackoff(t *testing.T) {
	r := NewRetryExecutor(3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	start := time.Now()
	_, cerr := r.Execute(ctx, func(context.Context) (string, error) {
		calls++
		return "", &ProviderError{Status: 503, Message: "Service overloaded"}
	})

	require.NotNil(t, cerr)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, cerr.FallbackEligible)
	assert.ErrorIs(t, cerr, context.Canceled)
}

func TestRetry_DeadlineBecomesServiceUnavailable(t *testing.T) {
	r := NewRetryExecutor(5, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, cerr := r.Execute(ctx, func(context.Context) (string, error) {
		return "", &ProviderError{Status: 503, Message: "Service overloaded"}
	})

	require.NotNil(t, cerr)
	assert.Equal(t, KindServiceUnavailable, cerr.Kind)
	assert.True(t, cerr.FallbackEligible)
	assert.ErrorIs(t, cerr, context.DeadlineExceeded)
}

func TestRetry_NegativeMaxRetriesTreatedAsZero(t *testing.T) {
	r, _ := newInstantRetry(-1, time.Millisecond)

	calls := 0
	_, cerr := r.Execute(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", errors.New("boom")
	})

	require.NotNil(t, cerr)
	assert.Equal(t, 1, calls)
}
