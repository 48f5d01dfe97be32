package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Route is an ordered swap path. Venues[i] executes the hop Path[i] -> Path[i+1].
// A route is immutable once built and consumed by exactly one execution attempt.
type Route struct {
	Path           []common.Address `json:"path"`
	Venues         []VenueID        `json:"venues"`
	ExpectedProfit *big.Int         `json:"expected_profit"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Validate checks the structural invariants of the route.
func (r Route) Validate() error {
	if len(r.Path) < 2 {
		return fmt.Errorf("%w: path length %d < 2", ErrInvalidRoute, len(r.Path))
	}
	if len(r.Venues) != len(r.Path)-1 {
		return fmt.Errorf("%w: %d venues for %d tokens", ErrInvalidRoute, len(r.Venues), len(r.Path))
	}
	return nil
}

// IsLoop reports whether the path starts and ends on the same token.
func (r Route) IsLoop() bool {
	return len(r.Path) >= 2 && r.Path[0] == r.Path[len(r.Path)-1]
}

// Hops returns the number of swaps described by the route.
func (r Route) Hops() int {
	return len(r.Venues)
}

// Stamped returns a copy of the route with CreatedAt set to ts.
func (r Route) Stamped(ts time.Time) Route {
	out := r
	out.Path = append([]common.Address(nil), r.Path...)
	out.Venues = append([]VenueID(nil), r.Venues...)
	out.CreatedAt = ts
	return out
}

// Summary renders the route as "0xaaaa>[v1]>0xbbbb>[v2]>0xaaaa".
func (r Route) Summary() string {
	var b strings.Builder
	for i, tok := range r.Path {
		if i > 0 {
			b.WriteString(">[")
			if i-1 < len(r.Venues) {
				b.WriteString(string(r.Venues[i-1]))
			}
			b.WriteString("]>")
		}
		b.WriteString(shortHex(tok))
	}
	return b.String()
}

func shortHex(a common.Address) string {
	h := a.Hex()
	if len(h) <= 10 {
		return h
	}
	return h[:6] + ".." + h[len(h)-4:]
}

// Candidate is a priced route produced by the enumerator and annotated by the
// simulator.
type Candidate struct {
	Pair      WatchedPair `json:"pair"`
	Route     Route       `json:"route"`
	AmountIn  *big.Int    `json:"amount_in"`
	AmountOut *big.Int    `json:"amount_out"`
	// GrossProfit is AmountOut - AmountIn in input token units.
	GrossProfit *big.Int `json:"gross_profit"`
	// ProfitPct is GrossProfit / AmountIn in percent, used for ranking.
	ProfitPct float64 `json:"profit_pct"`

	// Premium is the flash-loan premium on AmountIn.
	Premium *big.Int `json:"premium,omitempty"`
	// ExpectedSurplus is GrossProfit - Premium: what the unit should pay its
	// beneficiary. It is the estimate realized profit is measured against.
	ExpectedSurplus *big.Int `json:"expected_surplus,omitempty"`
	GasCostIn       *big.Int `json:"gas_cost_in,omitempty"`
	// NetProfit is ExpectedSurplus - GasCostIn, the operator's margin.
	NetProfit    *big.Int        `json:"net_profit,omitempty"`
	NetProfitPct float64         `json:"net_profit_pct,omitempty"`
	NetUSD       decimal.Decimal `json:"net_usd"`
	Actionable   bool            `json:"actionable"`
	EvaluatedAt  time.Time       `json:"evaluated_at"`
}

// Thresholds are the calibrated limits the simulator applies. They are
// written only by the risk calibrator. MinProfitPct is in percent.
type Thresholds struct {
	MinProfitUSD      decimal.Decimal `json:"min_profit_usd"`
	MinProfitPct      float64         `json:"min_profit_pct"`
	SlippageBps       int64           `json:"slippage_bps"`
	MinProfitMultiple float64         `json:"min_profit_multiple"`
	MEVProtection     bool            `json:"mev_protection"`
}
