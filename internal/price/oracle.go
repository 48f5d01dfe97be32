// Package price converts token amounts to USD for profitability checks.
package price

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Oracle returns the USD price of one whole token.
type Oracle interface {
	PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

// Static serves fixed prices from config.
type Static struct {
	prices map[common.Address]decimal.Decimal
}

// NewStatic creates a Static oracle.
func NewStatic(prices map[common.Address]decimal.Decimal) *Static {
	return &Static{prices: prices}
}

// PriceUSD implements Oracle.
func (s *Static) PriceUSD(_ context.Context, token common.Address) (decimal.Decimal, error) {
	p, ok := s.prices[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("price: %s: %w", token.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

const aggregatorABIJSON = `[
	{"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],
	 "outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint8"}]}
]`

var aggregatorABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("price: parse aggregator abi: " + err.Error())
	}
	return parsed
}()

// ContractCaller is the eth_call slice of ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Chainlink reads USD prices from Chainlink aggregator feeds.
type Chainlink struct {
	caller ContractCaller
	feeds  map[common.Address]common.Address
	maxAge time.Duration
	now    func() time.Time

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

// NewChainlink creates an oracle. feeds maps token -> aggregator. Answers
// older than maxAge are rejected; 0 disables the check.
func NewChainlink(caller ContractCaller, feeds map[common.Address]common.Address, maxAge time.Duration) *Chainlink {
	return &Chainlink{
		caller:   caller,
		feeds:    feeds,
		maxAge:   maxAge,
		now:      time.Now,
		decimals: make(map[common.Address]uint8),
	}
}

// PriceUSD implements Oracle.
func (c *Chainlink) PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	feed, ok := c.feeds[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("price: no feed for %s: %w", token.Hex(), domain.ErrNotFound)
	}
	dec, err := c.feedDecimals(ctx, feed)
	if err != nil {
		return decimal.Zero, err
	}

	out, err := c.call(ctx, feed, "latestRoundData")
	if err != nil {
		return decimal.Zero, err
	}
	answer, _ := out[1].(*big.Int)
	updatedAt, _ := out[3].(*big.Int)
	if answer == nil || answer.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price: feed %s: non-positive answer", feed.Hex())
	}
	if c.maxAge > 0 && updatedAt != nil {
		if age := c.now().Sub(time.Unix(updatedAt.Int64(), 0)); age > c.maxAge {
			return decimal.Zero, fmt.Errorf("price: feed %s: stale by %s", feed.Hex(), age.Truncate(time.Second))
		}
	}
	return decimal.NewFromBigInt(answer, -int32(dec)), nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, feed common.Address) (uint8, error) {
	c.mu.Lock()
	d, ok := c.decimals[feed]
	c.mu.Unlock()
	if ok {
		return d, nil
	}
	out, err := c.call(ctx, feed, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok = out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("price: feed %s: unexpected decimals %T", feed.Hex(), out[0])
	}
	c.mu.Lock()
	c.decimals[feed] = d
	c.mu.Unlock()
	return d, nil
}

func (c *Chainlink) call(ctx context.Context, feed common.Address, method string) ([]any, error) {
	data, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("price: pack %s: %w", method, err)
	}
	raw, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("price: call %s on %s: %w", method, feed.Hex(), err)
	}
	out, err := aggregatorABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("price: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("price: unpack %s: empty result", method)
	}
	return out, nil
}

// Cached fronts another oracle with a PriceCache (redis in production).
type Cached struct {
	inner  Oracle
	cache  domain.PriceCache
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCached creates a read-through cache. Entries older than ttl are refetched.
func NewCached(inner Oracle, cache domain.PriceCache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "price_cache")),
		now:    time.Now,
	}
}

// PriceUSD implements Oracle.
func (c *Cached) PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	key := strings.ToLower(token.Hex())
	if p, ts, err := c.cache.GetPrice(ctx, key); err == nil && c.now().Sub(ts) <= c.ttl {
		return decimal.NewFromFloat(p), nil
	}

	p, err := c.inner.PriceUSD(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	f, _ := p.Float64()
	if err := c.cache.SetPrice(ctx, key, f, c.now()); err != nil {
		c.logger.WarnContext(ctx, "price cache write failed", slog.String("token", key), slog.String("error", err.Error()))
	}
	return p, nil
}

// Chain tries each oracle in order and returns the first price found.
type Chain []Oracle

// PriceUSD implements Oracle.
func (c Chain) PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	var lastErr error = fmt.Errorf("price: %s: %w", token.Hex(), domain.ErrNotFound)
	for _, o := range c {
		p, err := o.PriceUSD(ctx, token)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return decimal.Zero, lastErr
}

var (
	_ Oracle = (*Static)(nil)
	_ Oracle = (*Chainlink)(nil)
	_ Oracle = (*Cached)(nil)
	_ Oracle = Chain(nil)
)
