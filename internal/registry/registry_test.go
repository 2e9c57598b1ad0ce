package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consensus-crawler/internal/resilience"
)

func testProvider(name string, tier Tier) ProviderConfig {
	return ProviderConfig{
		Name:                name,
		Model:               name + "-model",
		Family:              name,
		Tier:                tier,
		Weight:              1.0,
		RequestsPerInterval: 10,
		Interval:            time.Minute,
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New(NewKeyring(), resilience.NewLimiterSet())

	require.NoError(t, r.Register(testProvider("openai", TierFast)))

	cfg, ok := r.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "openai-model", cfg.Model)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_Register_DuplicateReplacesAndReports(t *testing.T) {
	r := New(NewKeyring(), resilience.NewLimiterSet())
	require.NoError(t, r.Register(testProvider("openai", TierFast)))

	replacement := testProvider("openai", TierFast)
	replacement.Model = "gpt-4o-mini"
	err := r.Register(replacement)

	assert.ErrorIs(t, err, ErrDuplicateProvider)
	cfg, ok := r.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", cfg.Model, "last write wins")
}

func TestRegistry_List_SortedByName(t *testing.T) {
	r := New(NewKeyring(), resilience.NewLimiterSet())
	require.NoError(t, r.Register(testProvider("xai", TierSlow)))
	require.NoError(t, r.Register(testProvider("anthropic", TierFast)))
	require.NoError(t, r.Register(testProvider("mistral", TierMedium)))

	names := make([]string, 0, 3)
	for _, cfg := range r.List() {
		names = append(names, cfg.Name)
	}
	assert.Equal(t, []string{"anthropic", "mistral", "xai"}, names)
}

func TestRegistry_ListByTier(t *testing.T) {
	r := New(NewKeyring(), resilience.NewLimiterSet())
	require.NoError(t, r.Register(testProvider("openai", TierFast)))
	require.NoError(t, r.Register(testProvider("anthropic", TierFast)))
	require.NoError(t, r.Register(testProvider("groq", TierSlow)))

	fast := r.ListByTier(TierFast)
	require.Len(t, fast, 2)
	assert.Equal(t, "anthropic", fast[0].Name)
	assert.Equal(t, "openai", fast[1].Name)

	assert.Empty(t, r.ListByTier(TierMedium))
}

func TestRegistry_ListAvailable_ExcludesNoCredentials(t *testing.T) {
	keys := NewKeyring()
	r := New(keys, resilience.NewLimiterSet())
	require.NoError(t, r.Register(testProvider("openai", TierFast)))
	require.NoError(t, r.Register(testProvider("groq", TierSlow)))

	keys.SetKeys("openai", []string{"k1"})

	available := r.ListAvailable()
	require.Len(t, available, 1)
	assert.Equal(t, "openai", available[0].Name)
}

func TestRegistry_ListAvailable_ExcludesQuarantined(t *testing.T) {
	keys := NewKeyring()
	r := New(keys, resilience.NewLimiterSet())
	require.NoError(t, r.Register(testProvider("openai", TierFast)))
	keys.SetKeys("openai", []string{"k1"})

	keys.MarkFailed("openai", "k1")
	assert.Empty(t, r.ListAvailable())

	keys.ResetFailed("openai")
	assert.Len(t, r.ListAvailable(), 1)
}

func TestRegistry_ListAvailable_ExcludesRateLimited(t *testing.T) {
	keys := NewKeyring()
	limiters := resilience.NewLimiterSet()
	r := New(keys, limiters)

	cfg := testProvider("groq", TierSlow)
	cfg.RequestsPerInterval = 1
	cfg.Interval = time.Hour
	require.NoError(t, r.Register(cfg))
	keys.SetKeys("groq", []string{"k1"})

	require.Len(t, r.ListAvailable(), 1)

	// Drain the single token; the provider drops out of the available set.
	require.NoError(t, limiters.Acquire(context.Background(), "groq"))
	assert.Empty(t, r.ListAvailable())
}
