// Package config defines the marketplace daemon configuration and its
// validation rules.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Registry RegistryConfig `toml:"registry"`
	Operator OperatorConfig `toml:"operator"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the marketplace fee policy and settlement behavior.
type LedgerConfig struct {
	// ListingFee is the upfront fee in wei, as a base-10 string.
	ListingFee string `toml:"listing_fee"`

	// PayoutAddress receives captured listing fees.
	PayoutAddress string `toml:"payout_address"`

	// RequireApprovalOnDelist re-checks marketplace transfer approval
	// before a seller may withdraw a listing.
	RequireApprovalOnDelist bool `toml:"require_approval_on_delist"`

	// Store selects the item store backend: "postgres" or "memory".
	Store string `toml:"store"`
}

// RegistryConfig holds token registry (chain) connection parameters.
type RegistryConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"`
	ReceiptTimeout duration `toml:"receipt_timeout"`

	// WatchContracts are the asset contracts the transfer watcher follows.
	WatchContracts []string `toml:"watch_contracts"`
}

// OperatorConfig holds the marketplace operator key material. Either a raw
// hex private key or an encrypted keyfile plus password.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
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

// RedisConfig holds Redis connection parameters. Redis backs the event bus,
// the item cache, per-item locks, and API rate limiting.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
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

// ArchiveConfig controls the settled-item archival loop.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`

	// MinAge is how long an item must have been settled before it is
	// eligible for archival.
	MinAge duration `toml:"min_age"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit requests per RateLimitWindow per client IP; 0 disables.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML string decoding ("30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with the values from config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			ListingFee:              "25000000000000000", // 0.025 ether
			RequireApprovalOnDelist: true,
			Store:                   "memory",
		},
		Registry: RegistryConfig{
			ChainID:        1,
			ReceiptTimeout: duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketd-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{6 * time.Hour},
			MinAge:   duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			RateLimit:       0,
			RateLimitWindow: duration{time.Second},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// ListingFeeWei parses the configured listing fee.
func (c LedgerConfig) ListingFeeWei() (*big.Int, error) {
	fee, ok := new(big.Int).SetString(strings.TrimSpace(c.ListingFee), 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("config: listing_fee %q is not a non-negative integer", c.ListingFee)
	}
	return fee, nil
}

// ConnString builds a pgx connection string, preferring an explicit DSN.
func (c PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode, c.PoolMaxConns, c.PoolMinConns,
	)
}

// Validate checks the configuration for internal consistency. It returns the
// first problem found.
func (c *Config) Validate() error {
	switch c.Mode {
	case "serve", "watch":
	default:
		return fmt.Errorf("config: unknown mode %q (expected serve or watch)", c.Mode)
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}

	if _, err := c.Ledger.ListingFeeWei(); err != nil {
		return err
	}
	if !common.IsHexAddress(c.Ledger.PayoutAddress) {
		return fmt.Errorf("config: ledger.payout_address %q is not a valid address", c.Ledger.PayoutAddress)
	}

	switch c.Ledger.Store {
	case "memory":
	case "postgres":
		if c.Postgres.ConnString() == "" {
			return fmt.Errorf("config: ledger.store is postgres but no postgres connection is configured")
		}
	default:
		return fmt.Errorf("config: unknown ledger.store %q (expected postgres or memory)", c.Ledger.Store)
	}

	if c.Registry.RPCURL == "" {
		return fmt.Errorf("config: registry.rpc_url is required")
	}
	if c.Registry.ChainID <= 0 {
		return fmt.Errorf("config: registry.chain_id must be positive")
	}
	for _, addr := range c.Registry.WatchContracts {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: registry.watch_contracts entry %q is not a valid address", addr)
		}
	}

	if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
		return fmt.Errorf("config: operator key is required (private_key or encrypted_key_path)")
	}
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" && c.Operator.PrivateKey == "" {
		return fmt.Errorf("config: operator.key_password is required with encrypted_key_path")
	}

	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
		}
		if c.Server.RateLimit > 0 {
			if !c.Redis.Enabled {
				return fmt.Errorf("config: server.rate_limit requires redis to be enabled")
			}
			if c.Server.RateLimitWindow.Duration <= 0 {
				return fmt.Errorf("config: server.rate_limit_window must be positive")
			}
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("config: archive requires s3.bucket")
		}
		if c.Archive.Interval.Duration <= 0 {
			return fmt.Errorf("config: archive.interval must be positive")
		}
	}

	return nil
}
