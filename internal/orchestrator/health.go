package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/venue"
)

// CheckLiquidity marks a watched pair unhealthy when no reserve-reporting
// venue holds at least MinLiquidity of its base token. Pairs whose venues
// cannot report reserves at all are left healthy.
func (o *Orchestrator) CheckLiquidity(ctx context.Context) {
	if o.cfg.MinLiquidity.Sign() <= 0 {
		return
	}
	for _, w := range o.state.Watches() {
		if ctx.Err() != nil {
			return
		}
		min := decimal.NewFromBigInt(big.NewInt(1), int32(w.Pair.Base.Decimals)).Mul(o.cfg.MinLiquidity).BigInt()
		reason := o.liquidityReason(ctx, w, min)
		key := w.Pair.Key()
		was := o.state.Healthy(key)
		o.state.SetHealth(key, reason)
		switch {
		case reason != "" && was:
			o.logger.WarnContext(ctx, "pair unhealthy",
				slog.String("pair", w.Pair.Label()),
				slog.String("reason", reason),
			)
		case reason == "" && !was:
			o.logger.InfoContext(ctx, "pair healthy again", slog.String("pair", w.Pair.Label()))
		}
	}
}

func (o *Orchestrator) liquidityReason(ctx context.Context, w Watch, min *big.Int) string {
	readers := 0
	best := new(big.Int)
	for _, q := range o.activeQuoters() {
		rr, ok := q.(venue.ReserveReader)
		if !ok {
			continue
		}
		base, _, err := rr.Reserves(ctx, w.Pair.Base.Address, w.Pair.Quote.Address)
		if err != nil {
			continue
		}
		readers++
		if base.Cmp(best) > 0 {
			best = base
		}
	}
	if readers == 0 {
		return ""
	}
	if best.Cmp(min) < 0 {
		return fmt.Sprintf("base reserve %s below %s", best, min)
	}
	return ""
}

// Discover pulls the token list, adds unseen tokens as intermediates and
// saves them to the registry.
func (o *Orchestrator) Discover(ctx context.Context) {
	if o.deps.Discovery == nil {
		return
	}
	tokens, err := o.deps.Discovery.Tokens(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "token discovery failed", slog.String("error", err.Error()))
		return
	}
	added := o.state.AddTokens(tokens)
	if len(added) == 0 {
		return
	}
	o.logger.InfoContext(ctx, "discovered tokens", slog.Int("count", len(added)))
	if o.deps.Registry != nil {
		if err := o.deps.Registry.Save(ctx, added); err != nil {
			o.logger.WarnContext(ctx, "token registry save failed", slog.String("error", err.Error()))
		}
	}
}
