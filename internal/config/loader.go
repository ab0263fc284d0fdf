package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLKAWAR_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLKAWAR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Registry ──
	setStr(&cfg.Registry.Administrator, "POLKAWAR_REGISTRY_ADMINISTRATOR")
	setStr(&cfg.Registry.AdminPrivateKey, "POLKAWAR_REGISTRY_ADMIN_PRIVATE_KEY")
	setStr(&cfg.Registry.AdminKeyPath, "POLKAWAR_REGISTRY_ADMIN_KEY_PATH")
	setStr(&cfg.Registry.AdminKeyPassword, "POLKAWAR_REGISTRY_ADMIN_KEY_PASSWORD")
	setStr(&cfg.Registry.EscrowAccount, "POLKAWAR_REGISTRY_ESCROW_ACCOUNT")
	setInt(&cfg.Registry.RewardMultiplier, "POLKAWAR_REGISTRY_REWARD_MULTIPLIER")

	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "POLKAWAR_LEDGER_BACKEND")
	setStr(&cfg.Ledger.GenesisHolder, "POLKAWAR_LEDGER_GENESIS_HOLDER")
	setStr(&cfg.Ledger.InitialSupply, "POLKAWAR_LEDGER_INITIAL_SUPPLY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POLKAWAR_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POLKAWAR_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLKAWAR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLKAWAR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLKAWAR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLKAWAR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLKAWAR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLKAWAR_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLKAWAR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLKAWAR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLKAWAR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLKAWAR_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLKAWAR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLKAWAR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLKAWAR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLKAWAR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLKAWAR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLKAWAR_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "POLKAWAR_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLKAWAR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLKAWAR_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLKAWAR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLKAWAR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLKAWAR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLKAWAR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLKAWAR_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLKAWAR_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "POLKAWAR_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "POLKAWAR_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "POLKAWAR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLKAWAR_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.SignatureMaxSkew, "POLKAWAR_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "POLKAWAR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLKAWAR_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLKAWAR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLKAWAR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLKAWAR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLKAWAR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLKAWAR_MODE")
	setStr(&cfg.LogLevel, "POLKAWAR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
