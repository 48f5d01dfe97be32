// Package venue is the quote gateway: one capability interface over every
// liquidity venue family (constant product pools, UniswapV2-style routers,
// concentrated-liquidity quoters). The route enumerator depends on Quoter,
// the execution unit on Venue.
package venue

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Quoter prices swaps on a single venue. Quote returns an error wrapping
// domain.ErrVenueUnavailable when the venue has no pool for the pair.
type Quoter interface {
	ID() domain.VenueID
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	Pool(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error)
}

// SwapRequest describes one swap. The venue must deliver at least MinOut to
// Recipient or fail without moving funds.
type SwapRequest struct {
	Payer     common.Address
	Recipient common.Address
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	MinOut    *big.Int
}

// Venue is a Quoter that can also execute swaps.
type Venue interface {
	Quoter
	Swap(ctx context.Context, req SwapRequest) (*big.Int, error)
}

// ReserveReader is implemented by venues that can report pool depth.
type ReserveReader interface {
	Reserves(ctx context.Context, tokenA, tokenB common.Address) (reserveA, reserveB *big.Int, err error)
}

// BestQuote asks every quoter for tokenIn -> tokenOut and returns the one with
// the highest output. Venues that cannot quote the pair are skipped. It
// returns domain.ErrVenueUnavailable when nobody can.
func BestQuote[Q Quoter](ctx context.Context, quoters []Q, tokenIn, tokenOut common.Address, amountIn *big.Int) (Q, *big.Int, error) {
	var (
		best    Q
		bestOut *big.Int
	)
	for _, q := range quoters {
		out, err := q.Quote(ctx, tokenIn, tokenOut, amountIn)
		if err != nil || out == nil || out.Sign() <= 0 {
			continue
		}
		if bestOut == nil || out.Cmp(bestOut) > 0 {
			best, bestOut = q, out
		}
	}
	if bestOut == nil {
		var zero Q
		return zero, nil, fmt.Errorf("venue: best quote %s->%s: %w", tokenIn.Hex(), tokenOut.Hex(), domain.ErrVenueUnavailable)
	}
	return best, bestOut, nil
}

// Unavailable reports whether err means "skip this venue for this pair".
func Unavailable(err error) bool {
	return errors.Is(err, domain.ErrVenueUnavailable)
}

func unavailable(id domain.VenueID, op string, err error) error {
	if err == nil {
		return fmt.Errorf("venue %s: %s: %w", id, op, domain.ErrVenueUnavailable)
	}
	return fmt.Errorf("venue %s: %s: %w: %v", id, op, domain.ErrVenueUnavailable, err)
}
