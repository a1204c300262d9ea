// Package config loads the toml-and-environment configuration surface
// LedgerTxnRoot and its backing store are opened from, via
// github.com/spf13/viper, grounded on goXRPLd's internal/config
// loader.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StoreConfig configures the Postgres connection LedgerTxnRoot's
// backing store opens against.
type StoreConfig struct {
	// Driver names the database/sql driver to open against. Only
	// "postgres" is registered (via the blank import of
	// github.com/lib/pq in store/postgres.go); the field exists so a
	// future driver can be registered and selected without another
	// config surface change.
	Driver          string        `toml:"driver" mapstructure:"driver"`
	DSN             string        `toml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// Config is the full configuration surface: cache sizing, the backing
// store, and logging.
type Config struct {
	EntryCacheSize      int `toml:"entry_cache_size" mapstructure:"entry_cache_size"`
	BestOffersCacheSize int `toml:"best_offers_cache_size" mapstructure:"best_offers_cache_size"`

	Store StoreConfig `toml:"store" mapstructure:"store"`

	LogLevel string `toml:"log_level" mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("entry_cache_size", 4096)
	v.SetDefault("best_offers_cache_size", 256)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_open_conns", 16)
	v.SetDefault("store.max_idle_conns", 4)
	v.SetDefault("store.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("log_level", "info")
}

// Load reads configPath (toml), falling back to defaults for anything
// unset, and layering LEDGERTXN_-prefixed environment variables over
// both.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	v.SetEnvPrefix("LEDGERTXN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects a configuration that would misbehave rather than
// fail fast: negative cache sizes, an unset DSN, an inverted connection
// pool.
func Validate(cfg *Config) error {
	if cfg.EntryCacheSize < 0 {
		return fmt.Errorf("entry_cache_size must be non-negative, got %d", cfg.EntryCacheSize)
	}
	if cfg.BestOffersCacheSize < 0 {
		return fmt.Errorf("best_offers_cache_size must be non-negative, got %d", cfg.BestOffersCacheSize)
	}
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("unsupported store.driver: %s (only \"postgres\" is registered)", cfg.Store.Driver)
	}
	if cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if cfg.Store.MaxOpenConns <= 0 {
		return fmt.Errorf("store.max_open_conns must be positive, got %d", cfg.Store.MaxOpenConns)
	}
	if cfg.Store.MaxIdleConns < 0 {
		return fmt.Errorf("store.max_idle_conns must be non-negative, got %d", cfg.Store.MaxIdleConns)
	}
	if cfg.Store.MaxIdleConns > cfg.Store.MaxOpenConns {
		return fmt.Errorf("store.max_idle_conns (%d) cannot exceed store.max_open_conns (%d)", cfg.Store.MaxIdleConns, cfg.Store.MaxOpenConns)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s (valid options: debug, info, warn, error)", cfg.LogLevel)
	}
	return nil
}
