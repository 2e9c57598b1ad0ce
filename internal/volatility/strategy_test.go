package volatility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consensus-crawler/internal/registry"
)

// testFleet mirrors the default fleet's shape: two premium fast providers,
// two medium, four slow, one family each.
func testFleet() []registry.ProviderConfig {
	return []registry.ProviderConfig{
		{Name: "openai", Family: "openai", Tier: registry.TierFast, Premium: true, Weight: 1.0},
		{Name: "anthropic", Family: "anthropic", Tier: registry.TierFast, Premium: true, Weight: 1.0},
		{Name: "deepseek", Family: "deepseek", Tier: registry.TierMedium, Weight: 0.8},
		{Name: "mistral", Family: "mistral", Tier: registry.TierMedium, Weight: 0.8},
		{Name: "xai", Family: "xai", Tier: registry.TierSlow, Weight: 0.7},
		{Name: "together", Family: "together", Tier: registry.TierSlow, Weight: 0.6},
		{Name: "perplexity", Family: "perplexity", Tier: registry.TierSlow, Weight: 0.7},
		{Name: "groq", Family: "groq", Tier: registry.TierSlow, Weight: 0.6},
	}
}

func names(fleet []registry.ProviderConfig) []string {
	out := make([]string, len(fleet))
	for i, cfg := range fleet {
		out[i] = cfg.Name
	}
	return out
}

func TestSelectProviders_Maximum_UsesWholeFleet(t *testing.T) {
	got := SelectProviders(TierMaximum, testFleet())
	assert.Equal(t, []string{
		"anthropic", "deepseek", "groq", "mistral",
		"openai", "perplexity", "together", "xai",
	}, names(got))
}

func TestSelectProviders_High_PremiumPlusFastPerFamily(t *testing.T) {
	got := SelectProviders(TierHigh, testFleet())

	// With one provider per family, the premium and fast picks collapse to
	// the premium fast entries plus nothing extra for non-premium families.
	assert.Equal(t, []string{"anthropic", "openai"}, names(got))
}

func TestSelectProviders_High_MultiEntryFamily(t *testing.T) {
	fleet := []registry.ProviderConfig{
		{Name: "claude-opus", Family: "anthropic", Tier: registry.TierSlow, Premium: true, Weight: 1.0},
		{Name: "claude-haiku", Family: "anthropic", Tier: registry.TierFast, Weight: 0.6},
		{Name: "groq", Family: "groq", Tier: registry.TierSlow, Weight: 0.6},
	}

	got := SelectProviders(TierHigh, fleet)

	// One premium and one fast from the anthropic family; groq has neither.
	assert.Equal(t, []string{"claude-haiku", "claude-opus"}, names(got))
}

func TestSelectProviders_Balanced_OnePerFamily(t *testing.T) {
	got := SelectProviders(TierBalanced, testFleet())
	require.Len(t, got, 8, "default fleet is one provider per family")
	assert.Equal(t, []string{
		"anthropic", "deepseek", "groq", "mistral",
		"openai", "perplexity", "together", "xai",
	}, names(got))
}

func TestSelectProviders_Balanced_PicksHighestWeight(t *testing.T) {
	fleet := []registry.ProviderConfig{
		{Name: "claude-opus", Family: "anthropic", Tier: registry.TierSlow, Weight: 1.0},
		{Name: "claude-haiku", Family: "anthropic", Tier: registry.TierFast, Weight: 0.6},
	}

	got := SelectProviders(TierBalanced, fleet)
	require.Len(t, got, 1)
	assert.Equal(t, "claude-opus", got[0].Name)
}

func TestSelectProviders_Balanced_TiesBreakByName(t *testing.T) {
	fleet := []registry.ProviderConfig{
		{Name: "beta", Family: "f", Weight: 0.5},
		{Name: "alpha", Family: "f", Weight: 0.5},
	}

	got := SelectProviders(TierBalanced, fleet)
	require.Len(t, got, 1)
	assert.Equal(t, "alpha", got[0].Name)
}

func TestSelectProviders_Efficient_FastOnly(t *testing.T) {
	got := SelectProviders(TierEfficient, testFleet())
	assert.Equal(t, []string{"anthropic", "openai"}, names(got))
}

func TestSelectProviders_Deterministic(t *testing.T) {
	fleet := testFleet()
	for _, tier := range []Tier{TierMaximum, TierHigh, TierBalanced, TierEfficient} {
		first := names(SelectProviders(tier, fleet))
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, names(SelectProviders(tier, fleet)), "tier %s", tier)
		}
	}
}

func TestSelectProviders_EmptyFleet(t *testing.T) {
	for _, tier := range []Tier{TierMaximum, TierHigh, TierBalanced, TierEfficient} {
		assert.Empty(t, SelectProviders(tier, nil), "tier %s", tier)
	}
}
