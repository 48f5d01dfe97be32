// Package config loads the flasharb configuration from a TOML file, applies
// FLASHARB_* environment overrides and validates the result.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the top-level configuration. Every field can be set from the TOML
// file; the secrets and connection strings can also come from FLASHARB_* env
// vars (see loader.go).
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Wallet    WalletConfig    `toml:"wallet"`
	Unit      UnitConfig      `toml:"unit"`
	Scan      ScanConfig      `toml:"scan"`
	Execution ExecutionConfig `toml:"execution"`
	Relay     RelayConfig     `toml:"relay"`
	Risk      RiskConfig      `toml:"risk"`
	Price     PriceConfig     `toml:"price"`
	Venues    []VenueConfig   `toml:"venues"`
	Tokens    []TokenConfig   `toml:"tokens"`
	Pairs     []PairConfig    `toml:"pairs"`
	Paper     PaperConfig     `toml:"paper"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig describes the network the unit is deployed on.
type ChainConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	ChainID            int64    `toml:"chain_id"`
	WrappedNative      string   `toml:"wrapped_native"`
	BlockTime          duration `toml:"block_time"`
	GasLimit           uint64   `toml:"gas_limit"`
	PriorityMultiplier float64  `toml:"priority_multiplier"`
	ReceiptTimeout     duration `toml:"receipt_timeout"`
	PollInterval       duration `toml:"poll_interval"`
}

// WalletConfig holds the controller key. Set either PrivateKey or
// EncryptedKeyPath + KeyPassword.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// UnitConfig holds the deployed unit's address and its owner parameters.
type UnitConfig struct {
	Address            string          `toml:"address"`
	Beneficiary        string          `toml:"beneficiary"`
	MinProfitBps       int64           `toml:"min_profit_bps"`
	MaxGasPriceGwei    decimal.Decimal `toml:"max_gas_price_gwei"`
	MinReserveRatioBps int64           `toml:"min_reserve_ratio_bps"`
	SlippageBps        int64           `toml:"slippage_bps"`
	FreshnessWindow    duration        `toml:"freshness_window"`
	// LenderPremiumBps is the flash-loan premium the unit's lender charges.
	// The simulator deducts it from every estimate.
	LenderPremiumBps int64 `toml:"lender_premium_bps"`
}

// ScanConfig holds loop cadence and route search bounds.
type ScanConfig struct {
	Interval          duration `toml:"interval"`
	GasInterval       duration `toml:"gas_interval"`
	LiquidityInterval duration `toml:"liquidity_interval"`
	DiscoveryInterval duration `toml:"discovery_interval"`
	MaxHops           int      `toml:"max_hops"`
	MaxIntermediates  int      `toml:"max_intermediates"`
	// MinLiquidity is the smallest base-token reserve, in whole tokens.
	MinLiquidity decimal.Decimal `toml:"min_liquidity"`
}

// ExecutionConfig holds the orchestrator's execution gates.
type ExecutionConfig struct {
	MaxPerHour    int      `toml:"max_per_hour"`
	Cooldown      duration `toml:"cooldown"`
	MEVProtection bool     `toml:"mev_protection"`
	DryRun        bool     `toml:"dry_run"`
	LeaseKey      string   `toml:"lease_key"`
	LeaseTTL      duration `toml:"lease_ttl"`
	RestartDelay  duration `toml:"restart_delay"`
}

// RelayConfig lists the private bundle relays.
type RelayConfig struct {
	URLs         []string `toml:"urls"`
	Targets      int      `toml:"targets"`
	PollInterval duration `toml:"poll_interval"`
	// RateLimit caps eth_sendBundle calls per relay per RateWindow.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// RiskConfig tunes the calibrator and the default thresholds.
type RiskConfig struct {
	Tolerance         float64         `toml:"tolerance"`
	Critical          float64         `toml:"critical"`
	Volatility        float64         `toml:"volatility"`
	MinSamples        int             `toml:"min_samples"`
	LevelWindow       int             `toml:"level_window"`
	History           int             `toml:"history"`
	FrontRunFactor    float64         `toml:"front_run_factor"`
	MinProfitUSD      decimal.Decimal `toml:"min_profit_usd"`
	MinProfitPct      float64         `toml:"min_profit_pct"`
	SlippageBps       int64           `toml:"slippage_bps"`
	MinProfitMultiple float64         `toml:"min_profit_multiple"`
}

// PriceConfig configures USD pricing. Keys are token symbols.
type PriceConfig struct {
	// ChainlinkFeeds maps a token symbol to its USD aggregator address.
	ChainlinkFeeds map[string]string `toml:"chainlink_feeds"`
	MaxAge         duration          `toml:"max_age"`
	CacheTTL       duration          `toml:"cache_ttl"`
	// Static is the fallback (and the only source in paper mode).
	Static map[string]decimal.Decimal `toml:"static"`
}

// VenueConfig describes one DEX deployment.
type VenueConfig struct {
	ID string `toml:"id"`
	// Kind is "v2" (router + factory), "v3" (quoter + factory) or "paper".
	Kind     string   `toml:"kind"`
	Router   string   `toml:"router"`
	Factory  string   `toml:"factory"`
	Quoter   string   `toml:"quoter"`
	FeeTiers []uint32 `toml:"fee_tiers"`
	// FeeBps applies to paper venues only.
	FeeBps int64 `toml:"fee_bps"`
}

// TokenConfig declares a token by symbol.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals int    `toml:"decimals"`
}

// PairConfig is a watched pair, referenced by token symbols.
type PairConfig struct {
	Base  string `toml:"base"`
	Quote string `toml:"quote"`
	// AmountIn is the loan size in whole Base tokens.
	AmountIn  decimal.Decimal `toml:"amount_in"`
	UseNative bool            `toml:"use_native"`
}

// PaperConfig seeds the in-process unit used by paper mode.
type PaperConfig struct {
	LenderPremiumBps int64 `toml:"lender_premium_bps"`
	// LenderLiquidity is minted to the lending pool for every pair base
	// token, in whole tokens.
	LenderLiquidity decimal.Decimal `toml:"lender_liquidity"`
	GasPriceGwei    decimal.Decimal `toml:"gas_price_gwei"`
	Pools           []PoolConfig    `toml:"pools"`
}

// PoolConfig seeds a constant-product pool on a paper venue. Reserves are in
// whole tokens.
type PoolConfig struct {
	Venue    string          `toml:"venue"`
	TokenA   string          `toml:"token_a"`
	TokenB   string          `toml:"token_b"`
	ReserveA decimal.Decimal `toml:"reserve_a"`
	ReserveB decimal.Decimal `toml:"reserve_b"`
}

// PostgresConfig holds the execution log connection. Without Enabled the
// log lives in memory.
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

// SQLiteConfig holds the local state file.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds connection parameters for the shared cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds object storage settings for archives and token lists.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	TokenListPath  string   `toml:"token_list_path"`
	ArchiveAfter   duration `toml:"archive_after"`
	ArchiveEvery   duration `toml:"archive_every"`
}

// KafkaConfig holds the durable event topics.
type KafkaConfig struct {
	Enabled         bool     `toml:"enabled"`
	Brokers         []string `toml:"brokers"`
	ExecutionsTopic string   `toml:"executions_topic"`
	CandidatesTopic string   `toml:"candidates_topic"`
	Partitions      int      `toml:"partitions"`
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client IP. 0 disables.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Throttle          duration `toml:"throttle"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:            1,
			BlockTime:          duration{12 * time.Second},
			GasLimit:           600_000,
			PriorityMultiplier: 1.2,
			ReceiptTimeout:     duration{2 * time.Minute},
			PollInterval:       duration{2 * time.Second},
		},
		Unit: UnitConfig{
			MinProfitBps:       10,
			MaxGasPriceGwei:    decimal.NewFromInt(200),
			MinReserveRatioBps: 20_000,
			SlippageBps:        50,
			FreshnessWindow:    duration{5 * time.Minute},
			LenderPremiumBps:   9,
		},
		Scan: ScanConfig{
			Interval:          duration{time.Second},
			GasInterval:       duration{15 * time.Second},
			LiquidityInterval: duration{5 * time.Minute},
			DiscoveryInterval: duration{time.Hour},
			MaxHops:           3,
			MaxIntermediates:  8,
			MinLiquidity:      decimal.NewFromInt(10),
		},
		Execution: ExecutionConfig{
			MaxPerHour:    20,
			Cooldown:      duration{time.Minute},
			MEVProtection: true,
			LeaseKey:      "controller",
			LeaseTTL:      duration{30 * time.Second},
			RestartDelay:  duration{5 * time.Second},
		},
		Relay: RelayConfig{
			URLs:         []string{"https://relay.flashbots.net"},
			Targets:      3,
			PollInterval: duration{2 * time.Second},
			RateLimit:    30,
			RateWindow:   duration{time.Minute},
		},
		Risk: RiskConfig{
			Tolerance:         0.10,
			Critical:          0.30,
			Volatility:        0.15,
			MinSamples:        5,
			LevelWindow:       20,
			History:           500,
			FrontRunFactor:    1.5,
			MinProfitUSD:      decimal.NewFromInt(5),
			MinProfitPct:      0.1,
			SlippageBps:       50,
			MinProfitMultiple: 1.0,
		},
		Price: PriceConfig{
			ChainlinkFeeds: map[string]string{},
			MaxAge:         duration{time.Hour},
			CacheTTL:       duration{30 * time.Second},
			Static:         map[string]decimal.Decimal{},
		},
		Paper: PaperConfig{
			LenderPremiumBps: 9,
			LenderLiquidity:  decimal.NewFromInt(1_000_000),
			GasPriceGwei:     decimal.NewFromInt(20),
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "data/flasharb.db",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "flasharb",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb-data",
			ForcePathStyle: true,
			TokenListPath:  "tokens/tokenlist.json",
			ArchiveAfter:   duration{90 * 24 * time.Hour},
			ArchiveEvery:   duration{24 * time.Hour},
		},
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			ExecutionsTopic: "flasharb.executions",
			CandidatesTopic: "flasharb.candidates",
			Partitions:      3,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events:   []string{"execution_failed", "repayment_shortfall", "front_run_suspected", "risk_high", "loop_restart"},
			Throttle: duration{time.Minute},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{
	"v2":    true,
	"v3":    true,
	"paper": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	addf := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		addf("unknown mode %q (valid: live, paper, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		addf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	onChain := mode == "live" || mode == "monitor"

	// Chain
	if onChain && c.Chain.RPCURL == "" {
		addf("chain: rpc_url is required for mode %s", c.Mode)
	}
	if c.Chain.ChainID <= 0 {
		addf("chain: chain_id must be positive")
	}
	if c.Chain.WrappedNative != "" && !common.IsHexAddress(c.Chain.WrappedNative) {
		addf("chain: wrapped_native %q is not an address", c.Chain.WrappedNative)
	}
	if c.Chain.GasLimit == 0 {
		addf("chain: gas_limit must be > 0")
	}

	// Wallet and unit are only needed when transactions are sent.
	if mode == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			addf("wallet: either private_key or encrypted_key_path must be set for mode live")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			addf("wallet: key_password is required when encrypted_key_path is set")
		}
		if !common.IsHexAddress(c.Unit.Address) {
			addf("unit: address %q is not an address", c.Unit.Address)
		}
	}
	if c.Unit.Beneficiary != "" && !common.IsHexAddress(c.Unit.Beneficiary) {
		addf("unit: beneficiary %q is not an address", c.Unit.Beneficiary)
	}
	if c.Unit.MinProfitBps < 0 {
		addf("unit: min_profit_bps must be >= 0")
	}
	if c.Unit.SlippageBps < 0 || c.Unit.SlippageBps >= 10_000 {
		addf("unit: slippage_bps must be in [0, 10000), got %d", c.Unit.SlippageBps)
	}
	if c.Unit.LenderPremiumBps < 0 || c.Unit.LenderPremiumBps >= 10_000 {
		addf("unit: lender_premium_bps must be in [0, 10000), got %d", c.Unit.LenderPremiumBps)
	}
	if c.Unit.MinReserveRatioBps < 0 {
		addf("unit: min_reserve_ratio_bps must be >= 0")
	}
	if c.Unit.FreshnessWindow.Duration <= 0 {
		addf("unit: freshness_window must be > 0")
	}
	if c.Unit.MaxGasPriceGwei.IsNegative() {
		addf("unit: max_gas_price_gwei must be >= 0")
	}

	// Scan
	if c.Scan.Interval.Duration <= 0 {
		addf("scan: interval must be > 0")
	}
	if c.Scan.MaxHops != 2 && c.Scan.MaxHops != 3 {
		addf("scan: max_hops must be 2 or 3, got %d", c.Scan.MaxHops)
	}
	if c.Scan.MinLiquidity.IsNegative() {
		addf("scan: min_liquidity must be >= 0")
	}

	// Execution
	if c.Execution.MaxPerHour < 1 {
		addf("execution: max_per_hour must be >= 1")
	}
	if c.Execution.Cooldown.Duration < 0 {
		addf("execution: cooldown must be >= 0")
	}
	if c.Redis.Enabled && c.Execution.LeaseTTL.Duration <= 0 {
		addf("execution: lease_ttl must be > 0 when redis is enabled")
	}

	// Relay
	if mode == "live" && c.Execution.MEVProtection && len(c.Relay.URLs) == 0 {
		addf("relay: at least one url is required when mev_protection is on")
	}
	if c.Relay.Targets < 1 {
		addf("relay: targets must be >= 1")
	}

	// Risk
	if c.Risk.Tolerance <= 0 || c.Risk.Critical <= c.Risk.Tolerance {
		addf("risk: need 0 < tolerance < critical, got %g and %g", c.Risk.Tolerance, c.Risk.Critical)
	}
	if c.Risk.MinSamples < 1 {
		addf("risk: min_samples must be >= 1")
	}
	if c.Risk.History < c.Risk.LevelWindow {
		addf("risk: history (%d) must be >= level_window (%d)", c.Risk.History, c.Risk.LevelWindow)
	}

	// Tokens, venues, pairs
	symbols := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		if t.Symbol == "" {
			addf("tokens[%d]: symbol must not be empty", i)
		}
		if symbols[t.Symbol] {
			addf("tokens[%d]: duplicate symbol %q", i, t.Symbol)
		}
		symbols[t.Symbol] = true
		if !common.IsHexAddress(t.Address) {
			addf("tokens[%d] %s: address %q is not an address", i, t.Symbol, t.Address)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			addf("tokens[%d] %s: decimals must be in [0, 36]", i, t.Symbol)
		}
	}

	venueIDs := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.ID == "" {
			addf("venues[%d]: id must not be empty", i)
		}
		if venueIDs[v.ID] {
			addf("venues[%d]: duplicate id %q", i, v.ID)
		}
		venueIDs[v.ID] = true
		if !validVenueKinds[v.Kind] {
			addf("venues[%d] %s: unknown kind %q (valid: v2, v3, paper)", i, v.ID, v.Kind)
			continue
		}
		switch v.Kind {
		case "v2":
			if !common.IsHexAddress(v.Router) || !common.IsHexAddress(v.Factory) {
				addf("venues[%d] %s: v2 needs router and factory addresses", i, v.ID)
			}
		case "v3":
			if !common.IsHexAddress(v.Quoter) || !common.IsHexAddress(v.Factory) {
				addf("venues[%d] %s: v3 needs quoter and factory addresses", i, v.ID)
			}
			if len(v.FeeTiers) == 0 {
				addf("venues[%d] %s: v3 needs at least one fee tier", i, v.ID)
			}
		case "paper":
			if mode != "paper" {
				addf("venues[%d] %s: paper venues are only valid in paper mode", i, v.ID)
			}
		}
	}
	if len(c.Venues) < 2 {
		addf("venues: at least two venues are needed to form a loop")
	}

	if len(c.Pairs) == 0 {
		addf("pairs: at least one pair must be watched")
	}
	for i, p := range c.Pairs {
		if !symbols[p.Base] || !symbols[p.Quote] {
			addf("pairs[%d]: unknown token in %s/%s", i, p.Base, p.Quote)
		}
		if p.Base == p.Quote {
			addf("pairs[%d]: base and quote must differ", i)
		}
		if !p.AmountIn.IsPositive() {
			addf("pairs[%d] %s/%s: amount_in must be > 0", i, p.Base, p.Quote)
		}
	}

	if mode == "paper" {
		for i, pool := range c.Paper.Pools {
			if !venueIDs[pool.Venue] {
				addf("paper.pools[%d]: unknown venue %q", i, pool.Venue)
			}
			if !symbols[pool.TokenA] || !symbols[pool.TokenB] {
				addf("paper.pools[%d]: unknown token in %s/%s", i, pool.TokenA, pool.TokenB)
			}
			if !pool.ReserveA.IsPositive() || !pool.ReserveB.IsPositive() {
				addf("paper.pools[%d]: reserves must be > 0", i)
			}
		}
		if c.Paper.LenderPremiumBps < 0 {
			addf("paper: lender_premium_bps must be >= 0")
		}
	}

	for sym, feed := range c.Price.ChainlinkFeeds {
		if !symbols[sym] {
			addf("price: chainlink feed for unknown token %q", sym)
		}
		if !common.IsHexAddress(feed) {
			addf("price: chainlink feed %q for %s is not an address", feed, sym)
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				addf("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				addf("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				addf("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			addf("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			addf("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.SQLite.Path == "" {
		addf("sqlite: path must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			addf("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			addf("redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			addf("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			addf("s3: region must not be empty")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			addf("kafka: at least one broker is required")
		}
		if c.Kafka.ExecutionsTopic == "" || c.Kafka.CandidatesTopic == "" {
			addf("kafka: executions_topic and candidates_topic must be set")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			addf("server: port must be 1-65535, got %d", c.Server.Port)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TokenBySymbol returns the configured token with the given symbol.
func (c *Config) TokenBySymbol(symbol string) (TokenConfig, bool) {
	for _, t := range c.Tokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return TokenConfig{}, false
}
