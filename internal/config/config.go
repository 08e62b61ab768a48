// Package config defines the swap engine configuration. Values come from a
// TOML file merged over built-in defaults, then AMM_* environment variables
// override individual fields so operators can inject connection strings at
// deploy time without touching the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Engine   EngineConfig   `toml:"engine"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty URL
// selects the in-memory store (development only).
type DatabaseConfig struct {
	URL          string `toml:"url"`
	PoolMaxConns int    `toml:"pool_max_conns"`
}

// RedisConfig holds the optional read-through cache parameters. An empty
// URL disables the cache.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL Duration `toml:"cache_ttl"`
}

// EngineConfig holds swap executor tuning parameters.
type EngineConfig struct {
	// MaxAttempts bounds the optimistic-lock retry loop per swap.
	MaxAttempts int `toml:"max_attempts"`
	// RetryBackoff is the initial backoff between attempts; it doubles on
	// each subsequent conflict.
	RetryBackoff Duration `toml:"retry_backoff"`
	// MinTradeUsdc is the smallest accepted trade input, in USDC for buys
	// and shares for sells.
	MinTradeUsdc string `toml:"min_trade_usdc"`
}

// Duration wraps time.Duration so TOML files can use strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration, suitable for local
// development against the in-memory store.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			RequestTimeout:  Duration{30 * time.Second},
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Database: DatabaseConfig{
			PoolMaxConns: 10,
		},
		Redis: RedisConfig{
			CacheTTL: Duration{30 * time.Second},
		},
		Engine: EngineConfig{
			MaxAttempts:  3,
			RetryBackoff: Duration{50 * time.Millisecond},
			MinTradeUsdc: "1",
		},
	}
}

// Load reads the TOML file at path (if path is non-empty), merges it over
// the defaults, applies AMM_* environment overrides, and validates the
// result. A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	// Load .env if present; silently ignore if missing.
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("config: engine max_attempts must be at least 1, got %d", c.Engine.MaxAttempts)
	}
	if c.Engine.RetryBackoff.Duration < 0 {
		return fmt.Errorf("config: engine retry_backoff must not be negative")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "AMM_SERVER_PORT")
	if v := os.Getenv("PORT"); v != "" { // conventional PaaS override
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	setStr(&cfg.Database.URL, "AMM_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setInt(&cfg.Database.PoolMaxConns, "AMM_DATABASE_POOL_MAX_CONNS")

	setStr(&cfg.Redis.URL, "AMM_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "AMM_REDIS_CACHE_TTL")

	setInt(&cfg.Engine.MaxAttempts, "AMM_ENGINE_MAX_ATTEMPTS")
	setDuration(&cfg.Engine.RetryBackoff, "AMM_ENGINE_RETRY_BACKOFF")
	setStr(&cfg.Engine.MinTradeUsdc, "AMM_ENGINE_MIN_TRADE_USDC")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
