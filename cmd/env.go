package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/consensus-crawler/internal/llm"
	"github.com/sells-group/consensus-crawler/internal/registry"
	"github.com/sells-group/consensus-crawler/internal/resilience"
	"github.com/sells-group/consensus-crawler/internal/runner"
	"github.com/sells-group/consensus-crawler/internal/store"
	"github.com/sells-group/consensus-crawler/internal/volatility"
)

// env bundles the wired collaborators shared by the commands.
type env struct {
	Store    store.Store
	Registry *registry.Registry
	Keys     *registry.Keyring
	Limiters *resilience.LimiterSet
	Clients  llm.ClientSet
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	keys := registry.NewKeyring()
	limiters := resilience.NewLimiterSet()
	reg := registry.New(keys, limiters)

	fleet, err := cfg.Fleet()
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "resolve provider fleet")
	}
	if err := registry.LoadFleet(reg, keys, fleet); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load provider fleet")
	}

	clients, err := llm.BuildClients(fleet)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "build provider clients")
	}

	return &env{
		Store:    st,
		Registry: reg,
		Keys:     keys,
		Limiters: limiters,
		Clients:  clients,
	}, nil
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "consensus.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func retryPolicy() resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	if cfg.Retry.MaxRetries > 0 {
		p.MaxRetries = cfg.Retry.MaxRetries
	}
	if cfg.Retry.BaseDelayMS > 0 {
		p.BaseDelay = cfg.Retry.BaseDelay()
	}
	if cfg.Retry.MaxDelayMS > 0 {
		p.MaxDelay = cfg.Retry.MaxDelay()
	}
	if cfg.Retry.JitterFraction > 0 {
		p.JitterFraction = cfg.Retry.JitterFraction
	}
	return p
}

// storedTier resolves a subject's tier from its persisted volatility score.
// Subjects without one run balanced: broad enough to seed a first score
// without paying for the full fleet.
func storedTier(st store.Store) runner.TierFunc {
	return func(ctx context.Context, subject string) volatility.Tier {
		score, err := st.GetVolatility(ctx, subject)
		if err != nil {
			zap.L().Warn("volatility lookup failed",
				zap.String("subject", subject),
				zap.Error(err),
			)
			return volatility.TierBalanced
		}
		if score == nil {
			return volatility.TierBalanced
		}
		return score.Tier
	}
}
