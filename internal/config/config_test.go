package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
mode = "serve"

[ledger]
listing_fee = "1000"
payout_address = "0x00000000000000000000000000000000000000FE"
store = "memory"

[registry]
rpc_url = "ws://localhost:8546"
chain_id = 31337

[operator]
private_key = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"
`

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Values from the file.
	assert.Equal(t, "1000", cfg.Ledger.ListingFee)
	assert.Equal(t, int64(31337), cfg.Registry.ChainID)
	assert.Equal(t, "memory", cfg.Ledger.Store)

	// Untouched defaults survive the merge.
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Registry.ReceiptTimeout.Duration)
	assert.True(t, cfg.Ledger.RequireApprovalOnDelist)

	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETD_LEDGER_LISTING_FEE", "42")
	t.Setenv("MARKETD_SERVER_PORT", "9999")
	t.Setenv("MARKETD_REDIS_ENABLED", "true")
	t.Setenv("MARKETD_NOTIFY_EVENTS", "item_sold, item_created")

	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "42", cfg.Ledger.ListingFee)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"item_sold", "item_created"}, cfg.Notify.Events)
}

func TestListingFeeWei(t *testing.T) {
	lc := LedgerConfig{ListingFee: "25000000000000000"}
	fee, err := lc.ListingFeeWei()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(25_000_000_000_000_000), fee)

	for _, bad := range []string{"", "abc", "-5", "1.5"} {
		lc.ListingFee = bad
		_, err := lc.ListingFeeWei()
		assert.Error(t, err, "fee %q should be rejected", bad)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := func() Config {
		cfg := Defaults()
		cfg.Ledger.PayoutAddress = "0x00000000000000000000000000000000000000FE"
		cfg.Registry.RPCURL = "ws://localhost:8546"
		cfg.Operator.PrivateKey = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"
		return cfg
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "backtest" }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"bad payout address", func(c *Config) { c.Ledger.PayoutAddress = "not-an-address" }},
		{"bad fee", func(c *Config) { c.Ledger.ListingFee = "-1" }},
		{"unknown store", func(c *Config) { c.Ledger.Store = "sqlite" }},
		{"missing rpc url", func(c *Config) { c.Registry.RPCURL = "" }},
		{"bad watch contract", func(c *Config) { c.Registry.WatchContracts = []string{"0x123"} }},
		{"missing operator key", func(c *Config) { c.Operator.PrivateKey = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"rate limit without redis", func(c *Config) { c.Server.RateLimit = 10 }},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
