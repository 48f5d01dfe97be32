package price

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	feed = common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
)

type feedCaller struct {
	answer    *big.Int
	updatedAt int64
	calls     int
}

func (f *feedCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	method, err := aggregatorABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(uint8(8))
	case "latestRoundData":
		return method.Outputs.Pack(big.NewInt(1), f.answer, big.NewInt(f.updatedAt), big.NewInt(f.updatedAt), big.NewInt(1))
	}
	return nil, errors.New("unknown method")
}

func TestChainlinkPrice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	caller := &feedCaller{answer: big.NewInt(2_500_12345678), updatedAt: now.Unix() - 60}
	c := NewChainlink(caller, map[common.Address]common.Address{weth: feed}, time.Hour)
	c.now = func() time.Time { return now }

	p, err := c.PriceUSD(context.Background(), weth)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2500.12345678").Equal(p))

	// decimals is cached after the first call.
	_, err = c.PriceUSD(context.Background(), weth)
	require.NoError(t, err)
	assert.Equal(t, 3, caller.calls)

	caller.updatedAt = now.Unix() - 7200
	_, err = c.PriceUSD(context.Background(), weth)
	assert.ErrorContains(t, err, "stale")

	_, err = c.PriceUSD(context.Background(), common.HexToAddress("0x01"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type memCache struct {
	price float64
	ts    time.Time
	ok    bool
	sets  int
}

func (m *memCache) SetPrice(_ context.Context, _ string, p float64, ts time.Time) error {
	m.price, m.ts, m.ok = p, ts, true
	m.sets++
	return nil
}

func (m *memCache) GetPrice(context.Context, string) (float64, time.Time, error) {
	if !m.ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return m.price, m.ts, nil
}

func TestCachedReadThrough(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := &memCache{}
	static := NewStatic(map[common.Address]decimal.Decimal{weth: decimal.NewFromInt(3000)})
	c := NewCached(static, cache, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return now }

	p, err := c.PriceUSD(context.Background(), weth)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, 1, cache.sets)

	cache.price = 3100
	p, err = c.PriceUSD(context.Background(), weth)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(3100)))
	assert.Equal(t, 1, cache.sets)

	now = now.Add(2 * time.Minute)
	p, err = c.PriceUSD(context.Background(), weth)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, 2, cache.sets)
}

func TestChainFallsThrough(t *testing.T) {
	empty := NewStatic(nil)
	full := NewStatic(map[common.Address]decimal.Decimal{weth: decimal.NewFromInt(1)})

	p, err := Chain{empty, full}.PriceUSD(context.Background(), weth)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(1)))

	_, err = Chain{empty}.PriceUSD(context.Background(), weth)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
