package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(cooldown time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         cooldown,
	})
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, StateClosed, cb.State())
	}

	require.NoError(t, cb.Allow())
	cb.RecordFailure() // third consecutive failure
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_FailsFastWhileOpen(t *testing.T) {
	cb := newTestBreaker(time.Hour)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	}
	assert.Equal(t, int64(5), cb.Rejected())
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := newTestBreaker(50 * time.Millisecond)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(70 * time.Millisecond)

	// First call after the cooldown is allowed as a probe.
	require.NoError(t, cb.Allow())

	// Two consecutive successes close the breaker.
	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(50 * time.Millisecond)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	time.Sleep(70 * time.Millisecond)
	require.NoError(t, cb.Allow())

	cb.RecordSuccess()
	cb.RecordFailure() // single failure in half-open

	// Reopened, and the cooldown clock restarted with this failure.
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}
