package venue

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// DefaultFeeTiers are the UniswapV3 fee tiers in hundredths of a bip.
var DefaultFeeTiers = []uint32{100, 500, 3000, 10000}

// quoteExactInputSingleParams mirrors IQuoterV2.QuoteExactInputSingleParams.
type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// Concentrated quotes a UniswapV3-style deployment via QuoterV2, trying every
// configured fee tier and keeping the best output.
type Concentrated struct {
	id       domain.VenueID
	quoter   common.Address
	factory  common.Address
	feeTiers []uint32
	caller   ContractCaller
}

// NewConcentrated creates a quoter. An empty feeTiers uses DefaultFeeTiers.
func NewConcentrated(id domain.VenueID, quoter, factory common.Address, feeTiers []uint32, caller ContractCaller) *Concentrated {
	if len(feeTiers) == 0 {
		feeTiers = DefaultFeeTiers
	}
	return &Concentrated{id: id, quoter: quoter, factory: factory, feeTiers: feeTiers, caller: caller}
}

// ID implements Quoter.
func (c *Concentrated) ID() domain.VenueID { return c.id }

// Quote implements Quoter.
func (c *Concentrated) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	var (
		best    *big.Int
		lastErr error
	)
	for _, fee := range c.feeTiers {
		params := quoteExactInputSingleParams{
			TokenIn:           tokenIn,
			TokenOut:          tokenOut,
			AmountIn:          amountIn,
			Fee:               new(big.Int).SetUint64(uint64(fee)),
			SqrtPriceLimitX96: new(big.Int),
		}
		out, err := call(ctx, c.caller, quoterV2ABI, c.quoter, "quoteExactInputSingle", params)
		if err != nil {
			lastErr = err
			continue
		}
		amountOut, ok := out[0].(*big.Int)
		if !ok || amountOut.Sign() <= 0 {
			continue
		}
		if best == nil || amountOut.Cmp(best) > 0 {
			best = amountOut
		}
	}
	if best == nil {
		return nil, unavailable(c.id, "quoteExactInputSingle", lastErr)
	}
	return best, nil
}

// Pool implements Quoter by returning the first fee tier with a deployed pool.
func (c *Concentrated) Pool(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	for _, fee := range c.feeTiers {
		out, err := call(ctx, c.caller, factoryV3ABI, c.factory, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
		if err != nil {
			continue
		}
		if pool, _ := out[0].(common.Address); pool != (common.Address{}) {
			return pool, nil
		}
	}
	return common.Address{}, unavailable(c.id, "getPool", fmt.Errorf("no pool in %d fee tiers", len(c.feeTiers)))
}

var _ Quoter = (*Concentrated)(nil)
