// Package route discovers arbitrage loops across venues and decides whether
// they are worth executing after gas.
package route

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// EnumeratorConfig bounds the search.
type EnumeratorConfig struct {
	// MaxHops is 2 or 3. 3 enables triangular routes through intermediates.
	MaxHops int
	// MaxIntermediates caps how many intermediate tokens a 3-hop pass tries.
	MaxIntermediates int
}

// Enumerator builds candidate loops for a watched pair.
type Enumerator struct {
	cfg    EnumeratorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewEnumerator creates an Enumerator.
func NewEnumerator(cfg EnumeratorConfig, logger *slog.Logger) *Enumerator {
	if cfg.MaxHops < 2 {
		cfg.MaxHops = 2
	}
	return &Enumerator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "enumerator")),
		now:    time.Now,
	}
}

// Enumerate prices every 2-hop loop A->B->A over ordered pairs of distinct
// venues and, when enabled, every 3-hop loop A->C->B->A. Only loops that
// return more than amountIn are kept, ranked by profit percentage.
func (e *Enumerator) Enumerate(ctx context.Context, quoters []venue.Quoter, pair domain.WatchedPair, amountIn *big.Int, intermediates []common.Address) []domain.Candidate {
	a, b := pair.Base.Address, pair.Quote.Address
	now := e.now()
	var out []domain.Candidate

	// A -> B on every venue, reused across the second leg.
	firstLeg := make([]*big.Int, len(quoters))
	for i, q := range quoters {
		firstLeg[i] = e.quote(ctx, q, a, b, amountIn)
	}

	for i, v1 := range quoters {
		if firstLeg[i] == nil {
			continue
		}
		for j, v2 := range quoters {
			if i == j {
				continue
			}
			if ctx.Err() != nil {
				return rank(out)
			}
			back := e.quote(ctx, v2, b, a, firstLeg[i])
			if back == nil || back.Cmp(amountIn) <= 0 {
				continue
			}
			out = append(out, newCandidate(pair, amountIn, back, now,
				[]common.Address{a, b, a},
				[]domain.VenueID{v1.ID(), v2.ID()}))
		}
	}

	if e.cfg.MaxHops >= 3 {
		out = append(out, e.triangular(ctx, quoters, pair, amountIn, intermediates, now)...)
	}
	return rank(out)
}

func (e *Enumerator) triangular(ctx context.Context, quoters []venue.Quoter, pair domain.WatchedPair, amountIn *big.Int, intermediates []common.Address, now time.Time) []domain.Candidate {
	a, b := pair.Base.Address, pair.Quote.Address
	var out []domain.Candidate

	tried := 0
	for _, c := range intermediates {
		if c == a || c == b {
			continue
		}
		if e.cfg.MaxIntermediates > 0 && tried >= e.cfg.MaxIntermediates {
			break
		}
		tried++

		for _, v1 := range quoters {
			if ctx.Err() != nil {
				return out
			}
			toC := e.quote(ctx, v1, a, c, amountIn)
			if toC == nil {
				continue
			}
			for _, v2 := range quoters {
				toB := e.quote(ctx, v2, c, b, toC)
				if toB == nil {
					continue
				}
				for _, v3 := range quoters {
					back := e.quote(ctx, v3, b, a, toB)
					if back == nil || back.Cmp(amountIn) <= 0 {
						continue
					}
					out = append(out, newCandidate(pair, amountIn, back, now,
						[]common.Address{a, c, b, a},
						[]domain.VenueID{v1.ID(), v2.ID(), v3.ID()}))
				}
			}
		}
	}
	return out
}

// quote returns nil when the venue cannot price the hop.
func (e *Enumerator) quote(ctx context.Context, q venue.Quoter, in, out common.Address, amount *big.Int) *big.Int {
	got, err := q.Quote(ctx, in, out, amount)
	if err != nil {
		if !venue.Unavailable(err) {
			e.logger.DebugContext(ctx, "quote failed",
				slog.String("venue", string(q.ID())),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	if got == nil || got.Sign() <= 0 {
		return nil
	}
	return got
}

func newCandidate(pair domain.WatchedPair, amountIn, amountOut *big.Int, now time.Time, path []common.Address, venues []domain.VenueID) domain.Candidate {
	gross := new(big.Int).Sub(amountOut, amountIn)
	return domain.Candidate{
		Pair: pair,
		Route: domain.Route{
			Path:           path,
			Venues:         venues,
			ExpectedProfit: new(big.Int).Set(gross),
			CreatedAt:      now,
		},
		AmountIn:    new(big.Int).Set(amountIn),
		AmountOut:   amountOut,
		GrossProfit: gross,
		ProfitPct:   Percent(gross, amountIn),
	}
}

// Percent returns part/whole*100.
func Percent(part, whole *big.Int) float64 {
	if whole == nil || whole.Sign() == 0 || part == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(part), new(big.Float).SetInt(whole))
	pct, _ := f.Mul(f, big.NewFloat(100)).Float64()
	return pct
}

func rank(cands []domain.Candidate) []domain.Candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].ProfitPct > cands[j].ProfitPct
	})
	return cands
}

// Best returns the highest ranked candidate for each pair, preserving rank
// order between pairs.
func Best(cands []domain.Candidate) []domain.Candidate {
	seen := make(map[domain.PairKey]bool)
	var out []domain.Candidate
	for _, c := range rank(append([]domain.Candidate(nil), cands...)) {
		k := c.Pair.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
