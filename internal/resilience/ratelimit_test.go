package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterSet_AcquireWithinBurst(t *testing.T) {
	s := NewLimiterSet()
	s.Configure("openai", 5, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The full burst is available immediately.
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Acquire(ctx, "openai"))
	}
	assert.False(t, s.Available("openai"), "bucket exhausted after burst")
}

func TestLimiterSet_AcquireBlocksWhenExhausted(t *testing.T) {
	s := NewLimiterSet()
	s.Configure("slow", 1, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Acquire(ctx, "slow"))

	// Next token is an hour away; a short deadline must expire waiting.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	err := s.Acquire(shortCtx, "slow")
	require.Error(t, err)
}

func TestLimiterSet_Available(t *testing.T) {
	s := NewLimiterSet()
	s.Configure("openai", 2, time.Minute)

	assert.True(t, s.Available("openai"))

	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx, "openai"))
	require.NoError(t, s.Acquire(ctx, "openai"))

	assert.False(t, s.Available("openai"))
}

func TestLimiterSet_ProvidersAreIndependent(t *testing.T) {
	s := NewLimiterSet()
	s.Configure("a", 1, time.Hour)
	s.Configure("b", 1, time.Hour)

	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx, "a"))

	assert.False(t, s.Available("a"))
	assert.True(t, s.Available("b"), "draining one provider must not affect another")
}

func TestLimiterSet_UnconfiguredProviderGetsDefault(t *testing.T) {
	s := NewLimiterSet()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Acquire(ctx, "unknown"))
	assert.True(t, s.Available("unknown"))
}

func TestLimiterSet_ConfigureReplacesBucket(t *testing.T) {
	s := NewLimiterSet()
	s.Configure("openai", 1, time.Hour)

	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx, "openai"))
	assert.False(t, s.Available("openai"))

	// Reconfiguring installs a fresh, full bucket.
	s.Configure("openai", 3, time.Minute)
	assert.True(t, s.Available("openai"))
}
