package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	s3blob "github.com/alanyoungcy/polkawar/internal/blob/s3"
	"github.com/alanyoungcy/polkawar/internal/cache/redis"
	"github.com/alanyoungcy/polkawar/internal/config"
	"github.com/alanyoungcy/polkawar/internal/crypto"
	"github.com/alanyoungcy/polkawar/internal/domain"
	"github.com/alanyoungcy/polkawar/internal/escrow"
	"github.com/alanyoungcy/polkawar/internal/ledger"
	"github.com/alanyoungcy/polkawar/internal/metrics"
	"github.com/alanyoungcy/polkawar/internal/notify"
	"github.com/alanyoungcy/polkawar/internal/server/handler"
	"github.com/alanyoungcy/polkawar/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional dependencies are left nil when their backend is
// disabled.
type Dependencies struct {
	// Registry principals, resolved from the registry config section.
	Registry escrow.Config

	// Stores
	RegistryStore   domain.RegistryStore
	SettlementStore domain.SettlementStore
	AuditStore      domain.AuditStore

	// Token ledger
	Ledger domain.TokenLedger

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	ReplayGuard domain.ReplayGuard

	// Blob storage
	Archiver *s3blob.SettlementArchiver

	// Notifications
	Notifier *notify.Notifier

	// Instrumentation
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler

	// HealthChecks probes every wired backend.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	admin, escrowAccount, err := registryPrincipals(cfg.Registry)
	if err != nil {
		return fail(fmt.Errorf("wire: registry: %w", err))
	}
	deps := &Dependencies{
		Registry: escrow.Config{
			Administrator:    admin,
			EscrowAccount:    escrowAccount,
			RewardMultiplier: uint64(cfg.Registry.RewardMultiplier),
		},
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	// --- PostgreSQL ---
	var (
		pgLedger    *postgres.Ledger
		pgCommitter *postgres.PoolCommitter
	)
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.RegistryStore = postgres.NewRegistryStore(pool)
		deps.SettlementStore = postgres.NewSettlementStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		pgLedger = postgres.NewLedger(pool)
		pgCommitter = postgres.NewPoolCommitter(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Token ledger ---
	holder, supply, err := genesis(cfg.Ledger, admin)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger: %w", err))
	}
	switch strings.ToLower(cfg.Ledger.Backend) {
	case "postgres":
		if pgLedger == nil {
			return fail(fmt.Errorf("wire: ledger: postgres backend requires postgres.enabled"))
		}
		minted, err := pgLedger.Genesis(ctx, holder, supply)
		if err != nil {
			return fail(fmt.Errorf("wire: ledger: %w", err))
		}
		if minted {
			logger.InfoContext(ctx, "wire: ledger genesis",
				slog.String("holder", holder.Hex()),
				slog.String("supply", supply.Dec()),
			)
		}
		deps.Ledger = pgLedger
		deps.Registry.Committer = pgCommitter
	default:
		mem := ledger.NewMemory(holder, supply, ledger.WithTransferHook(
			func(ctx context.Context, from, to common.Address, amount uint256.Int) {
				logger.DebugContext(ctx, "wire: ledger transfer",
					slog.String("from", from.Hex()),
					slog.String("to", to.Hex()),
					slog.String("amount", amount.Dec()),
				)
			}))
		deps.Ledger = mem
		if deps.RegistryStore != nil {
			deps.Registry.Committer = ledger.NewPoolCommitter(mem, deps.RegistryStore)
		}
	}
	deps.Registry.Ledger = deps.Ledger

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 settlement archive ---
	if cfg.Archive.Enabled || strings.ToLower(cfg.Mode) == config.ModeArchive {
		if deps.SettlementStore == nil || deps.AuditStore == nil {
			return fail(fmt.Errorf("wire: archive requires postgres"))
		}
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.SettlementStore,
			deps.AuditStore,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Metrics ---
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(promReg)
	deps.MetricsHandler = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// registryPrincipals resolves the administrator and escrow account. The
// administrator comes from its address, its key, or both as long as they
// agree.
func registryPrincipals(rc config.RegistryConfig) (admin, escrowAccount common.Address, err error) {
	if rc.Administrator != "" {
		if !common.IsHexAddress(rc.Administrator) {
			return admin, escrowAccount, fmt.Errorf("administrator %q is not an address", rc.Administrator)
		}
		admin = common.HexToAddress(rc.Administrator)
	}

	key := crypto.KeyConfig{
		RawPrivateKey:    rc.AdminPrivateKey,
		EncryptedKeyPath: rc.AdminKeyPath,
		KeyPassword:      rc.AdminKeyPassword,
	}
	if key.Configured() {
		fromKey, err := crypto.AddressFromKey(key)
		if err != nil {
			return admin, escrowAccount, fmt.Errorf("administrator key: %w", err)
		}
		if admin != (common.Address{}) && admin != fromKey {
			return admin, escrowAccount, fmt.Errorf("administrator %s does not match key address %s", admin.Hex(), fromKey.Hex())
		}
		admin = fromKey
	}

	if !common.IsHexAddress(rc.EscrowAccount) {
		return admin, escrowAccount, fmt.Errorf("escrow account %q is not an address", rc.EscrowAccount)
	}
	return admin, common.HexToAddress(rc.EscrowAccount), nil
}

// genesis returns the initial supply holder and amount; the holder defaults
// to the administrator.
func genesis(lc config.LedgerConfig, admin common.Address) (common.Address, *uint256.Int, error) {
	holder := admin
	if lc.GenesisHolder != "" {
		if !common.IsHexAddress(lc.GenesisHolder) {
			return common.Address{}, nil, fmt.Errorf("genesis holder %q is not an address", lc.GenesisHolder)
		}
		holder = common.HexToAddress(lc.GenesisHolder)
	}
	supply := new(uint256.Int)
	if lc.InitialSupply != "" {
		var err error
		if supply, err = uint256.FromDecimal(lc.InitialSupply); err != nil {
			return common.Address{}, nil, fmt.Errorf("initial supply %q: %w", lc.InitialSupply, err)
		}
	}
	return holder, supply, nil
}
