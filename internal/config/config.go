// Package config defines the polkawar service configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLKAWAR_* environment variables.
type Config struct {
	Registry RegistryConfig `toml:"registry"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RegistryConfig fixes the principals and payout rate of the registry. The
// administrator is either given directly or derived from its key.
type RegistryConfig struct {
	Administrator    string `toml:"administrator"`
	AdminPrivateKey  string `toml:"admin_private_key"`
	AdminKeyPath     string `toml:"admin_key_path"`
	AdminKeyPassword string `toml:"admin_key_password"`
	EscrowAccount    string `toml:"escrow_account"`
	RewardMultiplier int    `toml:"reward_multiplier"`
}

// LedgerConfig selects the token ledger backend.
type LedgerConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
	// GenesisHolder receives InitialSupply when the ledger is first created.
	// Defaults to the administrator.
	GenesisHolder string `toml:"genesis_holder"`
	InitialSupply string `toml:"initial_supply"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// LockTTL is the lifetime of the single-writer registry lock between
	// keep-alive extensions.
	LockTTL duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls settlement archiving to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// Cutoff returns the instant before which settlements are archived.
func (a ArchiveConfig) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -a.RetentionDays)
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// SignatureMaxSkew bounds how far a signed request timestamp may be from
	// the server clock.
	SignatureMaxSkew duration `toml:"signature_max_skew"`
	// RateLimit is the number of requests a client may make per RateWindow.
	// Zero disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Registry: RegistryConfig{
			RewardMultiplier: 90,
		},
		Ledger: LedgerConfig{
			Backend:       "memory",
			InitialSupply: "100000",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polkawar",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			LockTTL:    duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polkawar-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"outcome_recorded", "pool_settled"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// Run modes.
const (
	// ModeServer serves the HTTP and websocket API.
	ModeServer = "server"
	// ModeArchive runs one settlement archive pass and exits.
	ModeArchive = "archive"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeServer:  true,
	ModeArchive: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Registry
	hasKey := c.Registry.AdminPrivateKey != "" || c.Registry.AdminKeyPath != ""
	if c.Registry.Administrator == "" && !hasKey {
		errs = append(errs, "registry: administrator or an admin key must be set")
	}
	if c.Registry.Administrator != "" && !common.IsHexAddress(c.Registry.Administrator) {
		errs = append(errs, fmt.Sprintf("registry: administrator %q is not a hex address", c.Registry.Administrator))
	}
	if c.Registry.AdminKeyPath != "" && c.Registry.AdminKeyPassword == "" {
		errs = append(errs, "registry: admin_key_password is required when admin_key_path is set")
	}
	switch {
	case c.Registry.EscrowAccount == "":
		errs = append(errs, "registry: escrow_account must be set")
	case !common.IsHexAddress(c.Registry.EscrowAccount):
		errs = append(errs, fmt.Sprintf("registry: escrow_account %q is not a hex address", c.Registry.EscrowAccount))
	case common.HexToAddress(c.Registry.EscrowAccount) == (common.Address{}):
		errs = append(errs, "registry: escrow_account must not be the zero address")
	case c.Registry.Administrator != "" && common.HexToAddress(c.Registry.EscrowAccount) == common.HexToAddress(c.Registry.Administrator):
		errs = append(errs, "registry: escrow_account must differ from administrator")
	}
	if c.Registry.RewardMultiplier < 0 || c.Registry.RewardMultiplier > 100 {
		errs = append(errs, fmt.Sprintf("registry: reward_multiplier must be 0-100, got %d", c.Registry.RewardMultiplier))
	}

	// Ledger
	switch strings.ToLower(c.Ledger.Backend) {
	case "memory":
	case "postgres":
		if !c.Postgres.Enabled {
			errs = append(errs, "ledger: backend postgres requires postgres.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: memory, postgres)", c.Ledger.Backend))
	}
	if c.Ledger.GenesisHolder != "" && !common.IsHexAddress(c.Ledger.GenesisHolder) {
		errs = append(errs, fmt.Sprintf("ledger: genesis_holder %q is not a hex address", c.Ledger.GenesisHolder))
	}
	if c.Ledger.InitialSupply != "" {
		if _, err := uint256.FromDecimal(c.Ledger.InitialSupply); err != nil {
			errs = append(errs, fmt.Sprintf("ledger: initial_supply %q is not a decimal amount", c.Ledger.InitialSupply))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
		}
	}

	// Archive
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: settlement history requires postgres.enabled")
		}
	}
	if c.Archive.Enabled && c.Archive.Interval.Duration <= 0 {
		errs = append(errs, "archive: interval must be > 0 when enabled")
	}

	// Server
	if mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be > 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
