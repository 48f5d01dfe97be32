package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paperTOML = `
mode = "paper"

[scan]
interval = "2s"
max_hops = 2

[[tokens]]
symbol = "WETH"
address = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
decimals = 18

[[tokens]]
symbol = "USDC"
address = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
decimals = 6

[[venues]]
id = "paper-a"
kind = "paper"
fee_bps = 30

[[venues]]
id = "paper-b"
kind = "paper"
fee_bps = 30

[[pairs]]
base = "WETH"
quote = "USDC"
amount_in = "1.5"

[[paper.pools]]
venue = "paper-a"
token_a = "WETH"
token_b = "USDC"
reserve_a = 1000
reserve_b = 2500000

[price.static]
WETH = "2500"
USDC = 1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, paperTOML))
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.Scan.Interval.Duration)
	assert.Equal(t, 2, cfg.Scan.MaxHops)
	// untouched sections keep their defaults
	assert.Equal(t, 15*time.Second, cfg.Scan.GasInterval.Duration)
	assert.Equal(t, 20, cfg.Execution.MaxPerHour)

	require.Len(t, cfg.Pairs, 1)
	assert.True(t, cfg.Pairs[0].AmountIn.Equal(decimal.RequireFromString("1.5")))
	require.Len(t, cfg.Paper.Pools, 1)
	assert.True(t, cfg.Paper.Pools[0].ReserveB.Equal(decimal.NewFromInt(2_500_000)))
	assert.True(t, cfg.Price.Static["WETH"].Equal(decimal.NewFromInt(2500)))
	assert.True(t, cfg.Price.Static["USDC"].Equal(decimal.NewFromInt(1)))

	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLASHARB_MODE", "monitor")
	t.Setenv("FLASHARB_CHAIN_RPC_URL", "https://rpc.example")
	t.Setenv("FLASHARB_EXECUTION_MAX_PER_HOUR", "7")
	t.Setenv("FLASHARB_RISK_MIN_PROFIT_USD", "12.5")
	t.Setenv("FLASHARB_KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("FLASHARB_SERVER_PORT", "not-a-number")

	cfg, err := Load(writeConfig(t, paperTOML))
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "https://rpc.example", cfg.Chain.RPCURL)
	assert.Equal(t, 7, cfg.Execution.MaxPerHour)
	assert.True(t, cfg.Risk.MinProfitUSD.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	// unparsable values are ignored
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: decode")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.LogLevel = "loud"
	cfg.Scan.MaxHops = 4
	cfg.Tokens = []TokenConfig{{Symbol: "A", Address: "nope", Decimals: 18}}
	cfg.Venues = []VenueConfig{{ID: "x", Kind: "v3", Factory: "0x1f98431c8ad98523631ae4a59f267346ea31f984"}}
	cfg.Pairs = []PairConfig{{Base: "A", Quote: "B", AmountIn: decimal.Zero}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown log_level "loud"`,
		"chain: rpc_url is required",
		"wallet: either private_key or encrypted_key_path",
		"unit: address",
		"scan: max_hops must be 2 or 3",
		"tokens[0] A: address",
		"v3 needs quoter and factory",
		"v3 needs at least one fee tier",
		"at least two venues",
		"pairs[0]: unknown token in A/B",
		"amount_in must be > 0",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidatePaperVenueOutsidePaperMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Chain.RPCURL = "https://rpc.example"
	cfg.Venues = []VenueConfig{{ID: "p", Kind: "paper"}, {ID: "q", Kind: "paper"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paper venues are only valid in paper mode")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Chain.RPCURL = "https://mainnet.example/v3/key"
	cfg.Server.APIKey = "secret"
	cfg.Notify.Events = []string{"a"}
	cfg.Price.Static["WETH"] = decimal.NewFromInt(1)

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Chain.RPCURL)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Wallet.KeyPassword)

	out.Notify.Events[0] = "b"
	out.Price.Static["WETH"] = decimal.NewFromInt(2)
	assert.Equal(t, "a", cfg.Notify.Events[0])
	assert.True(t, cfg.Price.Static["WETH"].Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
}
