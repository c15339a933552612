package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowLimiter_QuotaExhaustion(t *testing.T) {
	l := NewSlidingWindowLimiter("test", 3, time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Reserve())
	}
	assert.Equal(t, 3, l.InWindow())

	err := l.Reserve()
	require.Error(t, err)

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "test", rle.Service)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, rle.RetryAfter, time.Hour)

	// The rejected call must not have been recorded.
	assert.Equal(t, 3, l.InWindow())
}

func TestSlidingWindowLimiter_OldCallsAgeOut(t *testing.T) {
	l := NewSlidingWindowLimiter("test", 2, 80*time.Millisecond)

	require.NoError(t, l.Reserve())
	require.NoError(t, l.Reserve())
	require.Error(t, l.Reserve())

	time.Sleep(100 * time.Millisecond)

	// Window has rolled past the first two calls.
	require.NoError(t, l.Reserve())
	assert.Equal(t, 1, l.InWindow())
}

func TestSlidingWindowLimiter_RetryAfterReflectsOldestCall(t *testing.T) {
	l := NewSlidingWindowLimiter("test", 1, time.Minute)

	require.NoError(t, l.Reserve())
	err := l.Reserve()

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	// Oldest call just happened, so the wait should be close to the full period.
	assert.Greater(t, rle.RetryAfter, 55*time.Second)
}

func TestSlidingWindowLimiter_DisabledWhenZero(t *testing.T) {
	l := NewSlidingWindowLimiter("test", 0, time.Minute)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Reserve())
	}
}
