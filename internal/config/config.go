// Package config defines the top-level configuration for the wagering ledger
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by WAGERD_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Chain    ChainConfig    `toml:"chain"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Bank     BankConfig     `toml:"bank"`

	// StateBackend selects where ledger state lives: "memory" or "postgres".
	StateBackend string `toml:"state_backend"`
	Mode         string `toml:"mode"`
	LogLevel     string `toml:"log_level"`
}

// ServerConfig holds the HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps mutating requests per caller per RateWindow. It takes
	// effect only when Redis is enabled; zero disables the limit.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// AuthConfig holds identity and operator credentials.
type AuthConfig struct {
	// JWTSecret signs and verifies participant tokens (HS256). When empty,
	// identity falls back to the X-Participant header.
	JWTSecret string `toml:"jwt_secret"`
	// OperatorKey guards operator routes. When empty they are disabled.
	OperatorKey string `toml:"operator_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: with
// Enabled false the daemon runs without the cache, lock, and event bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig holds block height parameters.
type ChainConfig struct {
	// TickEnabled runs the internal ticker that advances the height.
	TickEnabled bool `toml:"tick_enabled"`
	// TickInterval is the wall-clock duration of one block.
	TickInterval duration `toml:"tick_interval"`
}

// ArchiveConfig holds the settlement archiver parameters.
type ArchiveConfig struct {
	Enabled   bool   `toml:"enabled"`
	Cron      string `toml:"cron"`
	BatchSize int    `toml:"batch_size"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// BankConfig holds the internal ledger bank parameters.
type BankConfig struct {
	// CustodyAccount holds all staked value between staking and settlement.
	CustodyAccount string `toml:"custody_account"`
}

// duration wraps time.Duration for TOML decoding of strings like "2s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the built-in configuration. Load layers the TOML file and
// environment overrides on top of these values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  20,
			RateWindow: duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wagerd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerd-settlements",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			TickEnabled:  true,
			TickInterval: duration{2 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Cron:      "*/15 * * * *",
			BatchSize: 50,
		},
		Bank: BankConfig{
			CustodyAccount: "custody",
		},
		StateBackend: "memory",
		Mode:         "serve",
		LogLevel:     "info",
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"migrate": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// Validate checks the configuration for internal consistency. It collects
// every problem it finds and reports them together.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validBackends[strings.ToLower(c.StateBackend)] {
		errs = append(errs, fmt.Sprintf("unknown state_backend %q (valid: memory, postgres)", c.StateBackend))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Sprintf("server: rate_limit %d must not be negative", c.Server.RateLimit))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be positive when rate_limit is set")
	}

	needsPostgres := strings.ToLower(c.StateBackend) == "postgres" || strings.ToLower(c.Mode) == "migrate"
	if needsPostgres && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port %d out of range", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
		if c.Postgres.User == "" {
			errs = append(errs, "postgres: user must not be empty")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when redis is enabled")
	}

	if c.Archive.Enabled {
		if strings.ToLower(c.StateBackend) != "postgres" {
			errs = append(errs, "archive: requires state_backend = \"postgres\"")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty when archiving is enabled")
		}
		if c.Archive.BatchSize <= 0 {
			errs = append(errs, fmt.Sprintf("archive: batch_size must be positive, got %d", c.Archive.BatchSize))
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving is enabled")
		}
	}

	if c.Chain.TickEnabled && c.Chain.TickInterval.Duration <= 0 {
		errs = append(errs, "chain: tick_interval must be positive when the ticker is enabled")
	}

	if (c.Notify.TelegramToken != "") != (c.Notify.TelegramChatID != "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if strings.TrimSpace(c.Bank.CustodyAccount) == "" {
		errs = append(errs, "bank: custody_account must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
