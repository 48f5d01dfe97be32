package venue

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/ledger"
)

const bpsDenominator = 10_000

// ConstantProduct is an in-process x*y=k venue. Pool reserves are ledger
// balances held by a deterministic pool address, so swaps participate in
// ledger snapshots like every other transfer.
type ConstantProduct struct {
	id     domain.VenueID
	ledger *ledger.Ledger
	feeBps int64

	mu    sync.RWMutex
	pools map[domain.PairKey]common.Address
}

// NewConstantProduct creates an empty venue charging feeBps on input.
func NewConstantProduct(id domain.VenueID, l *ledger.Ledger, feeBps int64) *ConstantProduct {
	return &ConstantProduct{
		id:     id,
		ledger: l,
		feeBps: feeBps,
		pools:  make(map[domain.PairKey]common.Address),
	}
}

// ID implements Quoter.
func (c *ConstantProduct) ID() domain.VenueID { return c.id }

// PoolAddress derives the pool address for (a, b) on this venue.
func (c *ConstantProduct) PoolAddress(a, b common.Address) common.Address {
	k := domain.NewPairKey(a, b)
	h := ethcrypto.Keccak256([]byte(c.id), k.Lo.Bytes(), k.Hi.Bytes())
	return common.BytesToAddress(h[12:])
}

// Seed creates the pool for (a, b) if needed and mints the given reserves
// into it. Seeding is setup work: a mint made while a unit execution is in
// flight is rolled back with that execution if it fails.
func (c *ConstantProduct) Seed(a, b common.Address, reserveA, reserveB *big.Int) error {
	pool := c.PoolAddress(a, b)
	c.mu.Lock()
	c.pools[domain.NewPairKey(a, b)] = pool
	c.mu.Unlock()

	if err := c.ledger.Mint(a, pool, reserveA); err != nil {
		return fmt.Errorf("venue %s: seed: %w", c.id, err)
	}
	if err := c.ledger.Mint(b, pool, reserveB); err != nil {
		return fmt.Errorf("venue %s: seed: %w", c.id, err)
	}
	return nil
}

// Pool implements Quoter.
func (c *ConstantProduct) Pool(_ context.Context, a, b common.Address) (common.Address, error) {
	c.mu.RLock()
	pool, ok := c.pools[domain.NewPairKey(a, b)]
	c.mu.RUnlock()
	if !ok {
		return common.Address{}, unavailable(c.id, "pool", nil)
	}
	return pool, nil
}

// Reserves implements ReserveReader.
func (c *ConstantProduct) Reserves(ctx context.Context, a, b common.Address) (*big.Int, *big.Int, error) {
	pool, err := c.Pool(ctx, a, b)
	if err != nil {
		return nil, nil, err
	}
	return c.ledger.BalanceOf(a, pool), c.ledger.BalanceOf(b, pool), nil
}

// Quote implements Quoter.
func (c *ConstantProduct) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	rIn, rOut, err := c.Reserves(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if rIn.Sign() == 0 || rOut.Sign() == 0 {
		return nil, unavailable(c.id, "quote", fmt.Errorf("empty reserves"))
	}
	return GetAmountOut(amountIn, rIn, rOut, c.feeBps), nil
}

// Swap implements Venue. The output is priced on reserves before the input
// lands in the pool.
func (c *ConstantProduct) Swap(ctx context.Context, req SwapRequest) (*big.Int, error) {
	pool, err := c.Pool(ctx, req.TokenIn, req.TokenOut)
	if err != nil {
		return nil, err
	}
	out, err := c.Quote(ctx, req.TokenIn, req.TokenOut, req.AmountIn)
	if err != nil {
		return nil, err
	}
	if req.MinOut != nil && out.Cmp(req.MinOut) < 0 {
		return nil, fmt.Errorf("venue %s: swap: got %s want >= %s: %w", c.id, out, req.MinOut, domain.ErrSlippage)
	}
	if err := c.ledger.Transfer(req.TokenIn, req.Payer, pool, req.AmountIn); err != nil {
		return nil, fmt.Errorf("venue %s: swap pay in: %w", c.id, err)
	}
	if err := c.ledger.Transfer(req.TokenOut, pool, req.Recipient, out); err != nil {
		return nil, fmt.Errorf("venue %s: swap pay out: %w", c.id, err)
	}
	return out, nil
}

// GetAmountOut is the constant-product output for amountIn with the fee
// taken from the input side.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(bpsDenominator-feeBps))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenominator))
	den.Add(den, inWithFee)
	return num.Quo(num, den)
}

var (
	_ Venue         = (*ConstantProduct)(nil)
	_ ReserveReader = (*ConstantProduct)(nil)
)
