package app

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
)

const (
	wethAddr = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdcAddr = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

func paperConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "paper"
	cfg.Chain.WrappedNative = wethAddr
	cfg.Tokens = []config.TokenConfig{
		{Symbol: "WETH", Address: wethAddr, Decimals: 18},
		{Symbol: "USDC", Address: usdcAddr, Decimals: 6},
	}
	cfg.Venues = []config.VenueConfig{
		{ID: "paper-a", Kind: "paper", FeeBps: 30},
		{ID: "paper-b", Kind: "paper", FeeBps: 30},
	}
	cfg.Pairs = []config.PairConfig{
		{Base: "WETH", Quote: "USDC", AmountIn: decimal.NewFromInt(2), UseNative: true},
	}
	cfg.Paper.LenderLiquidity = decimal.NewFromInt(1000)
	cfg.Paper.GasPriceGwei = decimal.NewFromInt(20)
	cfg.Paper.Pools = []config.PoolConfig{
		{Venue: "paper-a", TokenA: "WETH", TokenB: "USDC", ReserveA: decimal.NewFromInt(100), ReserveB: decimal.NewFromInt(250_000)},
		{Venue: "paper-b", TokenA: "WETH", TokenB: "USDC", ReserveA: decimal.NewFromInt(100), ReserveB: decimal.NewFromInt(260_000)},
	}
	cfg.Price.Static = map[string]decimal.Decimal{"WETH": decimal.NewFromInt(2500), "USDC": decimal.NewFromInt(1)}
	return &cfg
}

func testApp(cfg *config.Config) *App {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestToUnits(t *testing.T) {
	assert.Equal(t, "1500000", toUnits(decimal.RequireFromString("1.5"), 6).String())
	// dust below the smallest unit is truncated
	assert.Equal(t, "1", toUnits(decimal.RequireFromString("1.0000009"), 6).String())
	assert.Equal(t, "20000000000", gweiToWei(decimal.NewFromInt(20)).String())
	assert.Nil(t, gweiToWei(decimal.Zero))
}

func TestWatchList(t *testing.T) {
	cfg := paperConfig()
	bySymbol, tokens := tokenSet(cfg)
	require.Len(t, tokens, 2)

	watches, err := watchList(cfg, bySymbol)
	require.NoError(t, err)
	require.Len(t, watches, 1)
	assert.Equal(t, "WETH", watches[0].Pair.Base.Symbol)
	assert.Equal(t, 0, watches[0].AmountIn.Cmp(new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))))
	assert.True(t, watches[0].UseNative)

	cfg.Pairs[0] = config.PairConfig{Base: "USDC", Quote: "WETH", AmountIn: decimal.NewFromInt(1), UseNative: true}
	_, err = watchList(cfg, bySymbol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use_native")

	cfg.Pairs[0] = config.PairConfig{Base: "DAI", Quote: "WETH", AmountIn: decimal.NewFromInt(1)}
	_, err = watchList(cfg, bySymbol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown base token")
}

func TestBuildPaperSeedsVenues(t *testing.T) {
	cfg := paperConfig()
	a := testApp(cfg)
	bySymbol, _ := tokenSet(cfg)
	deps := &Dependencies{SignalBus: memory.NewSignalBus(16)}

	st, err := a.buildPaper(deps, bySymbol)
	require.NoError(t, err)
	require.Len(t, st.quoters, 2)
	require.NotNil(t, st.local)
	require.NotNil(t, st.pauser)
	assert.Nil(t, st.public)
	assert.Len(t, st.venues.Venues(), 2)

	ctx := context.Background()
	oneETH := big.NewInt(1e18)
	outA, err := st.quoters[0].Quote(ctx, bySymbol["WETH"].Address, bySymbol["USDC"].Address, oneETH)
	require.NoError(t, err)
	outB, err := st.quoters[1].Quote(ctx, bySymbol["WETH"].Address, bySymbol["USDC"].Address, oneETH)
	require.NoError(t, err)
	// paper-b prices WETH higher
	assert.Equal(t, 1, outB.Cmp(outA))

	q, err := st.gas.Quote(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20000000000", q.FeePerGas.String())

	p, err := st.prices[0].PriceUSD(ctx, bySymbol["WETH"].Address)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(2500)))
}

func TestBuildPaperUnknownPoolVenue(t *testing.T) {
	cfg := paperConfig()
	cfg.Paper.Pools = append(cfg.Paper.Pools, config.PoolConfig{Venue: "nowhere", TokenA: "WETH", TokenB: "USDC"})
	bySymbol, _ := tokenSet(cfg)

	_, err := testApp(cfg).buildPaper(&Dependencies{SignalBus: memory.NewSignalBus(16)}, bySymbol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown venue "nowhere"`)
}
