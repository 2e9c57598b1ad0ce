package registry

import (
	"errors"
	"os"
	"time"

	"go.uber.org/zap"
)

// DefaultFleet returns the standard provider fleet: eight chat providers
// grouped into speed tiers with per-minute rate limits matching each
// vendor's published quotas.
func DefaultFleet() []ProviderConfig {
	minute := time.Minute
	return []ProviderConfig{
		{Name: "openai", Family: "openai", Model: "gpt-4o", Tier: TierFast, Premium: true, Weight: 1.0,
			RequestsPerInterval: 500, Interval: minute, Timeout: 30 * time.Second,
			BaseURL: "https://api.openai.com/v1", KeyEnvs: []string{"OPENAI_API_KEY"}},
		{Name: "anthropic", Family: "anthropic", Model: "claude-sonnet-4-5-20250929", Tier: TierFast, Premium: true, Weight: 1.0,
			RequestsPerInterval: 300, Interval: minute, Timeout: 30 * time.Second,
			KeyEnvs: []string{"ANTHROPIC_API_KEY"}},
		{Name: "deepseek", Family: "deepseek", Model: "deepseek-chat", Tier: TierMedium, Weight: 0.8,
			RequestsPerInterval: 200, Interval: minute, Timeout: 45 * time.Second,
			BaseURL: "https://api.deepseek.com/v1", KeyEnvs: []string{"DEEPSEEK_API_KEY"}},
		{Name: "mistral", Family: "mistral", Model: "mistral-large-latest", Tier: TierMedium, Weight: 0.8,
			RequestsPerInterval: 250, Interval: minute, Timeout: 45 * time.Second,
			BaseURL: "https://api.mistral.ai/v1", KeyEnvs: []string{"MISTRAL_API_KEY"}},
		{Name: "xai", Family: "xai", Model: "grok-2-1212", Tier: TierSlow, Weight: 0.7,
			RequestsPerInterval: 100, Interval: minute, Timeout: 60 * time.Second,
			BaseURL: "https://api.x.ai/v1", KeyEnvs: []string{"XAI_API_KEY"}},
		{Name: "together", Family: "together", Model: "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo", Tier: TierSlow, Weight: 0.6,
			RequestsPerInterval: 120, Interval: minute, Timeout: 60 * time.Second,
			BaseURL: "https://api.together.xyz/v1", KeyEnvs: []string{"TOGETHER_API_KEY"}},
		{Name: "perplexity", Family: "perplexity", Model: "sonar-pro", Tier: TierSlow, Weight: 0.7,
			RequestsPerInterval: 150, Interval: minute, Timeout: 60 * time.Second,
			BaseURL: "https://api.perplexity.ai", KeyEnvs: []string{"PERPLEXITY_API_KEY"}},
		{Name: "groq", Family: "groq", Model: "llama-3.3-70b-versatile", Tier: TierSlow, Weight: 0.6,
			RequestsPerInterval: 60, Interval: minute, Timeout: 60 * time.Second,
			BaseURL: "https://api.groq.com/openai/v1", KeyEnvs: []string{"GROQ_API_KEY"}},
	}
}

// LoadFleet registers each provider whose credential envs resolve to at
// least one key, installing the keys into the keyring. Providers with no
// credentials are skipped and logged, not failed — a partially configured
// fleet still crawls.
func LoadFleet(reg *Registry, keys *Keyring, fleet []ProviderConfig) error {
	for _, cfg := range fleet {
		var creds []string
		for _, env := range cfg.KeyEnvs {
			if v := os.Getenv(env); v != "" {
				creds = append(creds, v)
			}
		}
		if len(creds) == 0 {
			zap.L().Info("provider skipped, no credentials",
				zap.String("provider", cfg.Name),
				zap.Strings("key_envs", cfg.KeyEnvs),
			)
			continue
		}
		keys.SetKeys(cfg.Name, creds)
		if err := reg.Register(cfg); err != nil && !errors.Is(err, ErrDuplicateProvider) {
			return err
		}
	}
	return nil
}
