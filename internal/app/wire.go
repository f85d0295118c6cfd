package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/spacedatabank/marketd/internal/blob/s3"
	"github.com/spacedatabank/marketd/internal/bus/membus"
	"github.com/spacedatabank/marketd/internal/cache/redis"
	"github.com/spacedatabank/marketd/internal/config"
	"github.com/spacedatabank/marketd/internal/domain"
	"github.com/spacedatabank/marketd/internal/keystore"
	"github.com/spacedatabank/marketd/internal/notify"
	"github.com/spacedatabank/marketd/internal/registry/eth"
	"github.com/spacedatabank/marketd/internal/server/handler"
	"github.com/spacedatabank/marketd/internal/store/memory"
	"github.com/spacedatabank/marketd/internal/store/postgres"
	"github.com/spacedatabank/marketd/internal/treasury"
)

// Dependencies bundles the concrete collaborators the modes need. Wire
// constructs it; the returned cleanup function tears it down.
type Dependencies struct {
	// Marketplace core
	ItemStore domain.ItemStore
	Treasury  domain.Treasury
	Registry  domain.TokenRegistry
	Watcher   domain.TransferWatcher
	Operator  common.Address

	// Eventing
	Bus domain.EventBus

	// Optional Redis-backed collaborators; nil when Redis is disabled.
	ItemCache   domain.ItemCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Optional archival; nil unless configured.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health probes for the API, keyed by display name.
	Pingers map[string]handler.Pinger
}

// Wire constructs every dependency from the configuration. The cleanup
// function must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pingers: make(map[string]handler.Pinger),
	}

	// Operator key and registry client.
	key, err := keystore.Load(keystore.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: operator key: %w", err)
	}
	deps.Operator = ethcrypto.PubkeyToAddress(key.PublicKey)

	registry, err := eth.Dial(ctx, eth.Config{
		RPCURL:         cfg.Registry.RPCURL,
		ChainID:        cfg.Registry.ChainID,
		ReceiptTimeout: cfg.Registry.ReceiptTimeout.Duration,
	}, key)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: registry: %w", err)
	}
	closers = append(closers, registry.Close)
	deps.Registry = registry
	deps.Watcher = registry

	// Item store and settlement accounts.
	switch cfg.Ledger.Store {
	case "postgres":
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

		pool := pgClient.Pool()
		deps.ItemStore = postgres.NewItemStore(pool)
		deps.Treasury = postgres.NewAccountStore(pool)
		deps.Pingers["postgres"] = pgClient
	case "memory":
		deps.ItemStore = memory.NewItemStore()
		deps.Treasury = treasury.NewBook()
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown store backend %q", cfg.Ledger.Store)
	}

	// Redis: event bus, item cache, per-item locks, rate limiter. Without
	// Redis the in-process bus keeps single-node deployments working.
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewEventBus(redisClient)
		deps.ItemCache = redis.NewItemCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Pingers["redis"] = redisClient
	} else {
		deps.Bus = membus.New()
	}

	// S3 archival.
	if cfg.Archive.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.ItemStore, deps.Bus)
	}

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
