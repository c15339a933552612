package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPool_RoundRobin(t *testing.T) {
	kp := NewKeyPool([]string{"k1", "k2", "k3"})

	var got []string
	for i := 0; i < 6; i++ {
		k, err := kp.Next()
		require.NoError(t, err)
		got = append(got, k)
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k1", "k2", "k3"}, got)
}

func TestKeyPool_SkipsRateLimitedKeys(t *testing.T) {
	kp := NewKeyPool([]string{"k1", "k2"})
	kp.MarkRateLimited("k1", time.Now().Add(time.Hour))

	for i := 0; i < 3; i++ {
		k, err := kp.Next()
		require.NoError(t, err)
		assert.Equal(t, "k2", k)
	}
}

func TestKeyPool_AllKeysExhausted(t *testing.T) {
	kp := NewKeyPool([]string{"k1"})
	kp.MarkRateLimited("k1", time.Now().Add(time.Hour))

	_, err := kp.Next()
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestKeyPool_KeyRecoversAfterReset(t *testing.T) {
	kp := NewKeyPool([]string{"k1"})
	kp.MarkRateLimited("k1", time.Now().Add(20*time.Millisecond))

	_, err := kp.Next()
	require.Error(t, err)

	time.Sleep(40 * time.Millisecond)

	k, err := kp.Next()
	require.NoError(t, err)
	assert.Equal(t, "k1", k)
}
