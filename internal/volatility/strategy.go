package volatility

import (
	"sort"

	"github.com/sells-group/consensus-crawler/internal/registry"
)

// Tier is the coarse allocation bucket controlling how many providers a
// subject is sent to.
type Tier string

const (
	TierMaximum   Tier = "MAXIMUM"
	TierHigh      Tier = "HIGH"
	TierBalanced  Tier = "BALANCED"
	TierEfficient Tier = "EFFICIENT"
)

// ScoreToTier maps an aggregate volatility score to a processing tier.
// Thresholds are inclusive lower bounds.
func ScoreToTier(score float64) Tier {
	switch {
	case score >= 0.9:
		return TierMaximum
	case score >= 0.7:
		return TierHigh
	case score >= 0.5:
		return TierBalanced
	default:
		return TierEfficient
	}
}

// SelectProviders expands a tier into the provider list to query. It is a
// pure function of (tier, fleet snapshot): the same inputs always yield the
// same list, in name order.
//
//	MAXIMUM   — every provider in the snapshot
//	HIGH      — per family, one premium entry plus one fast entry
//	BALANCED  — one provider per family (highest weight, ties by name)
//	EFFICIENT — fast-tier providers only
func SelectProviders(tier Tier, fleet []registry.ProviderConfig) []registry.ProviderConfig {
	sorted := append([]registry.ProviderConfig(nil), fleet...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	switch tier {
	case TierMaximum:
		return sorted

	case TierHigh:
		picked := make(map[string]bool)
		var out []registry.ProviderConfig
		for _, family := range families(sorted) {
			if p, ok := pickFrom(sorted, family, func(c registry.ProviderConfig) bool { return c.Premium }); ok && !picked[p.Name] {
				picked[p.Name] = true
				out = append(out, p)
			}
			if p, ok := pickFrom(sorted, family, func(c registry.ProviderConfig) bool { return c.Tier == registry.TierFast }); ok && !picked[p.Name] {
				picked[p.Name] = true
				out = append(out, p)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out

	case TierBalanced:
		var out []registry.ProviderConfig
		for _, family := range families(sorted) {
			if p, ok := pickFrom(sorted, family, func(registry.ProviderConfig) bool { return true }); ok {
				out = append(out, p)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out

	default: // EFFICIENT
		var out []registry.ProviderConfig
		for _, cfg := range sorted {
			if cfg.Tier == registry.TierFast {
				out = append(out, cfg)
			}
		}
		return out
	}
}

// families returns the distinct family names in name order.
func families(fleet []registry.ProviderConfig) []string {
	seen := make(map[string]bool)
	var out []string
	for _, cfg := range fleet {
		f := cfg.Family
		if f == "" {
			f = cfg.Name
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// pickFrom returns the highest-weight provider in a family matching the
// predicate, ties broken by name.
func pickFrom(fleet []registry.ProviderConfig, family string, match func(registry.ProviderConfig) bool) (registry.ProviderConfig, bool) {
	var best registry.ProviderConfig
	found := false
	for _, cfg := range fleet {
		f := cfg.Family
		if f == "" {
			f = cfg.Name
		}
		if f != family || !match(cfg) {
			continue
		}
		if !found || cfg.Weight > best.Weight || (cfg.Weight == best.Weight && cfg.Name < best.Name) {
			best = cfg
			found = true
		}
	}
	return best, found
}
