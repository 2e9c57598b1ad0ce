// Package registry manages the provider fleet: static provider configuration,
// credential rotation, and availability checks.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/consensus-crawler/internal/resilience"
)

// ErrDuplicateProvider is returned when registering over an active name.
// The registration still takes effect — last write wins.
var ErrDuplicateProvider = eris.New("registry: duplicate provider")

// Tier is a provider's speed class, used for tiered allocation.
type Tier string

const (
	TierFast   Tier = "fast"
	TierMedium Tier = "medium"
	TierSlow   Tier = "slow"
)

// ProviderConfig describes one provider entry. Immutable at runtime.
type ProviderConfig struct {
	Name                string        `yaml:"name" mapstructure:"name"`
	Model               string        `yaml:"model" mapstructure:"model"`
	Family              string        `yaml:"family" mapstructure:"family"`
	Tier                Tier          `yaml:"tier" mapstructure:"tier"`
	Premium             bool          `yaml:"premium" mapstructure:"premium"`
	Weight              float64       `yaml:"weight" mapstructure:"weight"`
	RequestsPerInterval int           `yaml:"requests_per_interval" mapstructure:"requests_per_interval"`
	Interval            time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout             time.Duration `yaml:"timeout" mapstructure:"timeout"`
	BaseURL             string        `yaml:"base_url" mapstructure:"base_url"`
	KeyEnvs             []string      `yaml:"key_envs" mapstructure:"key_envs"`
}

// Registry holds the provider fleet. Availability consults the injected
// keyring and limiter set; the registry itself mutates nothing but its map.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderConfig
	keys      *Keyring
	limiters  *resilience.LimiterSet
}

// New creates a Registry wired to the given keyring and limiter set.
func New(keys *Keyring, limiters *resilience.LimiterSet) *Registry {
	return &Registry{
		providers: make(map[string]ProviderConfig),
		keys:      keys,
		limiters:  limiters,
	}
}

// Register adds a provider and configures its rate limiter. Re-registering
// an active name replaces the config (last write wins) and returns
// ErrDuplicateProvider so callers can log the collision.
func (r *Registry) Register(cfg ProviderConfig) error {
	r.mu.Lock()
	_, exists := r.providers[cfg.Name]
	r.providers[cfg.Name] = cfg
	r.mu.Unlock()

	if r.limiters != nil {
		r.limiters.Configure(cfg.Name, cfg.RequestsPerInterval, cfg.Interval)
	}

	if exists {
		zap.L().Warn("provider re-registered, config replaced",
			zap.String("provider", cfg.Name),
			zap.String("model", cfg.Model),
		)
		return eris.Wrapf(ErrDuplicateProvider, "%s", cfg.Name)
	}
	return nil
}

// Get returns the config for a provider name.
func (r *Registry) Get(name string) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.providers[name]
	return cfg, ok
}

// List returns all registered providers sorted by name.
func (r *Registry) List() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderConfig, 0, len(r.providers))
	for _, cfg := range r.providers {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListByTier returns providers in the given speed tier, sorted by name.
func (r *Registry) ListByTier(tier Tier) []ProviderConfig {
	var out []ProviderConfig
	for _, cfg := range r.List() {
		if cfg.Tier == tier {
			out = append(out, cfg)
		}
	}
	return out
}

// ListAvailable returns providers that have at least one active credential
// and whose rate-limiter bucket is not currently exhausted.
func (r *Registry) ListAvailable() []ProviderConfig {
	var out []ProviderConfig
	for _, cfg := range r.List() {
		if r.keys != nil && !r.keys.HasActive(cfg.Name) {
			continue
		}
		if r.limiters != nil && !r.limiters.Available(cfg.Name) {
			continue
		}
		out = append(out, cfg)
	}
	return out
}
