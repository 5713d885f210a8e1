package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/copybot/internal/cache/redis"
	"github.com/alanyoungcy/copybot/internal/config"
	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/notify"
	"github.com/alanyoungcy/copybot/internal/platform/polygon"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
	"github.com/alanyoungcy/copybot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Dedup is Redis-backed when redis.addr is configured, in-memory
	// otherwise. MemDedup is non-nil only for the in-memory fallback so
	// modes can run its expiry sweep.
	Dedup    domain.DedupStore
	MemDedup *executor.Dedup

	// Balances and Submitter are wired only for order-placing modes.
	Balances  domain.BalanceProvider
	Submitter domain.OrderSubmitter

	// Checkpoints is non-nil when postgres is enabled.
	Checkpoints domain.LedgerCheckpointStore

	DataClient *polymarket.DataClient
	Notifier   *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. trading selects whether the
// signer, CLOB client and balance reader are built.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger, trading bool) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		DataClient: polymarket.NewDataClient(cfg.Polymarket.DataHost, cfg.RequestTimeout()),
	}

	// --- Redis (optional; in-memory dedup fallback when not configured) ---
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		redisClient = rc
		deps.Dedup = redis.NewDedupStore(rc, cfg.Redis.DedupTTL.Duration)
	} else {
		mem := executor.NewDedup(cfg.Redis.DedupTTL.Duration)
		deps.MemDedup = mem
		deps.Dedup = mem
	}

	// --- PostgreSQL checkpoint store (optional) ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Checkpoints = postgres.NewLedgerStore(pgClient.Pool())
	}

	// --- Signer, CLOB client and balance reader (order-placing modes) ---
	if trading {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load key: %w", err)
		}

		signer, err := crypto.NewSigner(keyHex, cfg.Polymarket.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}

		clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, cfg.Wallet.ProxyAddress, cfg.RequestTimeout())
		if err := clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}
		deps.Submitter = clob

		// Collateral sits on the proxy wallet when one is configured.
		wallet := cfg.Wallet.ProxyAddress
		if wallet == "" {
			wallet = signer.Address().Hex()
		}
		balances, err := polygon.NewBalanceReader(ctx, cfg.Polygon.RPCURL, cfg.Polygon.USDCContract, wallet)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: balance reader: %w", err)
		}
		closers = append(closers, balances.Close)

		deps.Balances = balances
		if redisClient != nil && cfg.Redis.BalanceTTL.Duration > 0 {
			deps.Balances = redis.NewBalanceCache(redisClient, balances, cfg.Redis.BalanceTTL.Duration)
		}
	}

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
