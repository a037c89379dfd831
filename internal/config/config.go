// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Also the shared counting store target for the rate limiter.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AccessTokenSecret signs access tokens (HS256). Must be distinct from any other secret; required.
	AccessTokenSecret string `mapstructure:"ACCESS_TOKEN_SECRET"`
	// AccessTokenTTLRaw is the access token lifetime (e.g. "300s"). Short, seconds-scale.
	AccessTokenTTLRaw string `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTLRaw is the refresh token lifetime (e.g. "720h").
	RefreshTokenTTLRaw string `mapstructure:"REFRESH_TOKEN_TTL"`
	// LinkTokenTTLRaw is the account link token lifetime (e.g. "10m"). Short, minutes-scale.
	LinkTokenTTLRaw string `mapstructure:"LINK_TOKEN_TTL"`
	// GoogleClientID is the OAuth client id used as the ID-token audience. Empty disables the Google provider.
	GoogleClientID string `mapstructure:"GOOGLE_CLIENT_ID"`
	// TelegramBotToken is the shared secret for signed launch payload verification. Empty disables the Telegram provider.
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	// TelegramAuthMaxAge is the max age in seconds of a Telegram launch payload (auth_date freshness).
	TelegramAuthMaxAge int64 `mapstructure:"TELEGRAM_AUTH_MAX_AGE"`
	// RateLimitEnabled toggles the rate limiter. When false, Assert is a no-op.
	RateLimitEnabled bool `mapstructure:"RATE_LIMIT_ENABLED"`
	// ArgonMemory is the argon2id memory parameter in KiB (default 65536).
	ArgonMemory uint32 `mapstructure:"ARGON_MEMORY"`
	// ArgonTime is the argon2id time (iterations) parameter (default 3).
	ArgonTime uint32 `mapstructure:"ARGON_TIME"`
	// ArgonParallelism is the argon2id parallelism parameter (default 2).
	ArgonParallelism uint8 `mapstructure:"ARGON_PARALLELISM"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ACCESS_TOKEN_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL", "300s")
	v.SetDefault("REFRESH_TOKEN_TTL", "720h") // 30d
	v.SetDefault("LINK_TOKEN_TTL", "10m")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_AUTH_MAX_AGE", 86400)
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("ARGON_MEMORY", 65536)
	v.SetDefault("ARGON_TIME", 3)
	v.SetDefault("ARGON_PARALLELISM", 2)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.AccessTokenSecret == "" {
		return nil, errors.New("config: ACCESS_TOKEN_SECRET must be set")
	}
	if cfg.TelegramAuthMaxAge <= 0 {
		return nil, errors.New("config: TELEGRAM_AUTH_MAX_AGE must be positive")
	}

	return &cfg, nil
}

// AccessTokenTTL parses AccessTokenTTLRaw as a time.Duration. Returns 300s if unset or invalid.
func (c *Config) AccessTokenTTL() time.Duration {
	d, err := time.ParseDuration(c.AccessTokenTTLRaw)
	if err != nil || d <= 0 {
		return 300 * time.Second
	}
	return d
}

// RefreshTokenTTL parses RefreshTokenTTLRaw as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTokenTTL() time.Duration {
	d, err := time.ParseDuration(c.RefreshTokenTTLRaw)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// LinkTokenTTL parses LinkTokenTTLRaw as a time.Duration. Returns 10m if unset or invalid.
func (c *Config) LinkTokenTTL() time.Duration {
	d, err := time.ParseDuration(c.LinkTokenTTLRaw)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}
