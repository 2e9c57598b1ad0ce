// Package config loads application configuration from file and environment
// and wires the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/consensus-crawler/internal/registry"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig               `yaml:"store" mapstructure:"store"`
	Providers     []registry.ProviderConfig `yaml:"providers" mapstructure:"providers"`
	ProvidersFile string                    `yaml:"providers_file" mapstructure:"providers_file"`
	Batch         BatchConfig               `yaml:"batch" mapstructure:"batch"`
	Retry         RetryConfig               `yaml:"retry" mapstructure:"retry"`
	Consensus     ConsensusConfig           `yaml:"consensus" mapstructure:"consensus"`
	Log           LogConfig                 `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// BatchConfig configures the crawl runner.
type BatchConfig struct {
	Concurrency       int    `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
	GlobalTimeoutSecs int    `yaml:"global_timeout_secs" mapstructure:"global_timeout_secs"`
	InterCallDelayMS  int    `yaml:"inter_call_delay_ms" mapstructure:"inter_call_delay_ms"`
	CheckpointName    string `yaml:"checkpoint_name" mapstructure:"checkpoint_name"`
}

// RetryConfig configures the backoff policy for provider calls.
type RetryConfig struct {
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMS    int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMS     int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ConsensusConfig configures the aggregation step.
type ConsensusConfig struct {
	FreshnessHours int     `yaml:"freshness_hours" mapstructure:"freshness_hours"`
	MinProviders   int     `yaml:"min_providers" mapstructure:"min_providers"`
	OutlierZ       float64 `yaml:"outlier_z" mapstructure:"outlier_z"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// GlobalTimeout returns the batch deadline as a duration, 0 when unset.
func (b BatchConfig) GlobalTimeout() time.Duration {
	return time.Duration(b.GlobalTimeoutSecs) * time.Second
}

// InterCallDelay returns the per-subject politeness pause as a duration.
func (b BatchConfig) InterCallDelay() time.Duration {
	return time.Duration(b.InterCallDelayMS) * time.Millisecond
}

// BaseDelay returns the first backoff step as a duration.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff ceiling as a duration.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

// Freshness returns the consensus lookback window as a duration.
func (c ConsensusConfig) Freshness() time.Duration {
	return time.Duration(c.FreshnessHours) * time.Hour
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONSENSUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "consensus.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("batch.batch_size", 25)
	v.SetDefault("batch.inter_call_delay_ms", 250)
	v.SetDefault("batch.checkpoint_name", "crawl")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("consensus.freshness_hours", 168)
	v.SetDefault("consensus.min_providers", 3)
	v.SetDefault("consensus.outlier_z", 2.5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Fleet returns the configured providers: the inline list when present,
// else the dedicated fleet file, else the built-in fleet.
func (c *Config) Fleet() ([]registry.ProviderConfig, error) {
	if len(c.Providers) > 0 {
		return c.Providers, nil
	}
	if c.ProvidersFile != "" {
		return registry.LoadFleetFile(c.ProvidersFile)
	}
	return registry.DefaultFleet(), nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
