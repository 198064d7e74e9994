// Package config loads engine configuration from file and environment and
// owns global logger setup.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gavelhound/sourcing-cli/internal/decision"
	"github.com/gavelhound/sourcing-cli/internal/ledger"
	"github.com/gavelhound/sourcing-cli/internal/scan"
	"github.com/gavelhound/sourcing-cli/internal/scorer"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig         `yaml:"store" mapstructure:"store"`
	Scan     scan.Config         `yaml:"scan" mapstructure:"scan"`
	Scoring  scorer.Weights      `yaml:"scoring" mapstructure:"scoring"`
	Decision decision.Thresholds `yaml:"decision" mapstructure:"decision"`
	Alerts   AlertsConfig        `yaml:"alerts" mapstructure:"alerts"`
	Sources  SourcesConfig       `yaml:"sources" mapstructure:"sources"`
	Ladder   LadderConfig        `yaml:"ladder" mapstructure:"ladder"`
	Cache    CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Server   ServerConfig        `yaml:"server" mapstructure:"server"`
	Log      LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the ledger backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string            `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        ledger.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AlertsConfig configures human-facing alert delivery.
type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// SourceConfig holds one external collaborator's endpoint and pacing.
type SourceConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Key              string  `yaml:"key" mapstructure:"key"`
	RPS              float64 `yaml:"rps" mapstructure:"rps"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	PageSize         int     `yaml:"page_size" mapstructure:"page_size"`
	RetryMaxAttempts int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMs   int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// ListingSourceConfig adds the circuit breaker knobs only the listing
// collaborator carries.
type ListingSourceConfig struct {
	SourceConfig     `yaml:",inline" mapstructure:",squash"`
	BreakerFailures  int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// SourcesConfig holds the two external collaborators.
type SourcesConfig struct {
	Fingerprints SourceConfig        `yaml:"fingerprints" mapstructure:"fingerprints"`
	Listings     ListingSourceConfig `yaml:"listings" mapstructure:"listings"`
}

// LadderConfig points at an optional trim ladder override file.
type LadderConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CacheConfig sizes the fingerprint cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SOURCING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "sourcing.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cache.max_entries", 500)
	v.SetDefault("cache.ttl", 15*time.Minute)
	v.SetDefault("sources.fingerprints.rps", 10.0)
	v.SetDefault("sources.fingerprints.burst", 20)
	v.SetDefault("sources.fingerprints.page_size", 100)
	v.SetDefault("sources.fingerprints.retry_max_attempts", 3)
	v.SetDefault("sources.fingerprints.retry_backoff_ms", 500)
	v.SetDefault("sources.listings.rps", 5.0)
	v.SetDefault("sources.listings.burst", 10)
	v.SetDefault("sources.listings.page_size", 50)
	v.SetDefault("sources.listings.retry_max_attempts", 3)
	v.SetDefault("sources.listings.retry_backoff_ms", 500)
	v.SetDefault("sources.listings.breaker_failures", 5)
	v.SetDefault("sources.listings.breaker_reset_secs", 30)

	scanDefaults := scan.DefaultConfig()
	v.SetDefault("scan.batch_size", scanDefaults.BatchSize)
	v.SetDefault("scan.concurrency", scanDefaults.Concurrency)
	v.SetDefault("scan.time_budget", scanDefaults.TimeBudget)
	v.SetDefault("scan.alert_cool_down", scanDefaults.AlertCoolDown)

	w := scorer.DefaultWeights()
	v.SetDefault("scoring.make_model", w.MakeModel)
	v.SetDefault("scoring.trim_exact", w.TrimExact)
	v.SetDefault("scoring.trim_upgrade", w.TrimUpgrade)
	v.SetDefault("scoring.trim_downgrade", w.TrimDowngrade)
	v.SetDefault("scoring.odometer", w.Odometer)
	v.SetDefault("scoring.price_target", w.PriceTarget)
	v.SetDefault("scoring.price_ceiling", w.PriceCeiling)
	v.SetDefault("scoring.year", w.Year)
	v.SetDefault("scoring.drivetrain", w.Drivetrain)
	v.SetDefault("scoring.fuel", w.Fuel)
	v.SetDefault("scoring.transmission", w.Transmission)
	v.SetDefault("scoring.band_fraction", w.BandFraction)
	v.SetDefault("scoring.band_floor_km", w.BandFloorKm)
	v.SetDefault("scoring.source_tier", map[string]float64{
		"auction": 5, "dealer_direct": 3, "classifieds": 0,
	})

	th := decision.DefaultThresholds()
	v.SetDefault("decision.buy_score", th.BuyScore)
	v.SetDefault("decision.watch_score", th.WatchScore)
	v.SetDefault("decision.buy_max_age", th.BuyMaxAge)
	v.SetDefault("decision.watch_max_age", th.WatchMaxAge)
	v.SetDefault("decision.buy_gap_abs", th.BuyGapAbs)
	v.SetDefault("decision.buy_gap_pct", th.BuyGapPct)
	v.SetDefault("decision.watch_gap_abs", th.WatchGapAbs)
	v.SetDefault("decision.watch_gap_pct", th.WatchGapPct)
	v.SetDefault("decision.confidence_high", th.ConfidenceHigh)
	v.SetDefault("decision.confidence_medium", th.ConfidenceMedium)
	v.SetDefault("decision.buy_disallowed_sources", []string{"classifieds"})

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

// Validate checks the parts of the configuration that must be coherent
// before the engine claims any work.
func (c *Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if err := c.Decision.Validate(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url required for postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return eris.New("config: store.sqlite_path required for sqlite driver")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	return nil
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
