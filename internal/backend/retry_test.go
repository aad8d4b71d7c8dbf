package backend

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Backoff_ExponentialGrowth(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
}

func TestRetryPolicy_Backoff_CappedAtMax(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Second,
		Multiplier:     10,
	}
	assert.Equal(t, 2*time.Second, p.Backoff(5))
}

func TestRetryPolicy_Backoff_JitterStaysInBand(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
		Jitter:         0.1,
	}
	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}

func TestRetryPolicy_Wait_HonorsCancellation(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{InitialBackoff: time.Minute, MaxBackoff: time.Minute, Multiplier: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Wait(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_RetryableStatus(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	assert.True(t, p.RetryableStatus(http.StatusInternalServerError))
	assert.True(t, p.RetryableStatus(http.StatusTooManyRequests))
	assert.True(t, p.RetryableStatus(http.StatusServiceUnavailable))
	assert.False(t, p.RetryableStatus(http.StatusBadRequest))
	assert.False(t, p.RetryableStatus(http.StatusNotFound))
	assert.False(t, p.RetryableStatus(http.StatusConflict))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestRetryPolicy_RetryableError(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	assert.True(t, p.RetryableError(timeoutError{}))
	// Cancellation is the caller's decision, never retried.
	assert.False(t, p.RetryableError(context.Canceled))
	assert.False(t, p.RetryableError(context.DeadlineExceeded))
	assert.False(t, p.RetryableError(errors.New("plain failure")))
}
