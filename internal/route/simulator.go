package route

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/gas"
	"github.com/alanyoungcy/flasharb/internal/price"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// ThresholdSource supplies the current calibrated thresholds. The simulator
// only reads them.
type ThresholdSource interface {
	Thresholds() domain.Thresholds
}

// SimulatorConfig holds the static inputs of the net profit calculation.
type SimulatorConfig struct {
	GasLimit      uint64
	WrappedNative common.Address
	// PremiumBps is the lender's flash-loan premium on the borrowed amount.
	PremiumBps int64
}

// Simulator turns gross candidates into net, USD-denominated ones.
type Simulator struct {
	cfg        SimulatorConfig
	conversion []venue.Quoter
	prices     price.Oracle
	thresholds ThresholdSource
	logger     *slog.Logger
	now        func() time.Time
}

// NewSimulator creates a Simulator. conversion are the venues used to price
// gas (wrapped native) in the input token.
func NewSimulator(cfg SimulatorConfig, conversion []venue.Quoter, prices price.Oracle, thresholds ThresholdSource, logger *slog.Logger) *Simulator {
	return &Simulator{
		cfg:        cfg,
		conversion: conversion,
		prices:     prices,
		thresholds: thresholds,
		logger:     logger.With(slog.String("component", "simulator")),
		now:        time.Now,
	}
}

// Premium is the flash-loan premium owed on amount, rounded down like the
// lender rounds it.
func (s *Simulator) Premium(amount *big.Int) *big.Int {
	if amount == nil || s.cfg.PremiumBps <= 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(amount, big.NewInt(s.cfg.PremiumBps))
	return p.Quo(p, big.NewInt(10_000))
}

// GasCostIn prices the execution's gas in units of token.
func (s *Simulator) GasCostIn(ctx context.Context, token common.Address, q domain.GasQuote) (*big.Int, error) {
	native := gas.Cost(q, s.cfg.GasLimit)
	if native.Sign() == 0 || token == s.cfg.WrappedNative {
		return native, nil
	}
	_, out, err := venue.BestQuote(ctx, s.conversion, s.cfg.WrappedNative, token, native)
	if err != nil {
		return nil, fmt.Errorf("route: convert gas to %s: %w", token.Hex(), err)
	}
	return out, nil
}

// Evaluate fills in the net fields of c and decides whether it is actionable
// under the current thresholds. Net profit is gross less the loan premium
// and the gas bill.
func (s *Simulator) Evaluate(ctx context.Context, c domain.Candidate, q domain.GasQuote) (domain.Candidate, error) {
	base := c.Pair.Base
	gasIn, err := s.GasCostIn(ctx, base.Address, q)
	if err != nil {
		return c, err
	}
	px, err := s.prices.PriceUSD(ctx, base.Address)
	if err != nil {
		return c, fmt.Errorf("route: price %s: %w", base.Symbol, err)
	}

	premium := s.Premium(c.AmountIn)
	surplus := new(big.Int).Sub(c.GrossProfit, premium)
	net := new(big.Int).Sub(surplus, gasIn)
	c.Premium = premium
	c.ExpectedSurplus = surplus
	c.GasCostIn = gasIn
	c.NetProfit = net
	c.NetProfitPct = Percent(net, c.AmountIn)
	c.NetUSD = decimal.NewFromBigInt(net, -int32(base.Decimals)).Mul(px)
	c.EvaluatedAt = s.now()

	t := s.thresholds.Thresholds()
	mult := t.MinProfitMultiple
	if mult <= 0 {
		mult = 1
	}
	minUSD := t.MinProfitUSD.Mul(decimal.NewFromFloat(mult))
	minPct := t.MinProfitPct * mult

	c.Actionable = net.Sign() > 0 &&
		c.NetUSD.GreaterThanOrEqual(minUSD) &&
		c.NetProfitPct >= minPct
	return c, nil
}

// SimulateRoute re-quotes r hop by hop and returns the final amount of the
// input token. Open paths get a best-venue return leg chosen here,
// independently of whatever venue the unit will pick.
func (s *Simulator) SimulateRoute(ctx context.Context, quoters []venue.Quoter, r domain.Route, amountIn *big.Int) (*big.Int, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	byID := make(map[domain.VenueID]venue.Quoter, len(quoters))
	for _, q := range quoters {
		byID[q.ID()] = q
	}

	cur := amountIn
	for i, id := range r.Venues {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("route: hop %d: venue %s: %w", i, id, domain.ErrVenueUnavailable)
		}
		out, err := q.Quote(ctx, r.Path[i], r.Path[i+1], cur)
		if err != nil {
			return nil, fmt.Errorf("route: hop %d: %w", i, err)
		}
		cur = out
	}
	if r.IsLoop() {
		return cur, nil
	}
	_, back, err := venue.BestQuote(ctx, quoters, r.Path[len(r.Path)-1], r.Path[0], cur)
	if err != nil {
		return nil, fmt.Errorf("route: return leg: %w", err)
	}
	return back, nil
}

// Refresh re-simulates a candidate's route with live quotes and returns the
// updated candidate. The caller re-evaluates it before submission.
func (s *Simulator) Refresh(ctx context.Context, quoters []venue.Quoter, c domain.Candidate) (domain.Candidate, error) {
	out, err := s.SimulateRoute(ctx, quoters, c.Route, c.AmountIn)
	if err != nil {
		return c, err
	}
	c.AmountOut = out
	c.GrossProfit = new(big.Int).Sub(out, c.AmountIn)
	c.ProfitPct = Percent(c.GrossProfit, c.AmountIn)
	c.Route.ExpectedProfit = new(big.Int).Set(c.GrossProfit)
	return c, nil
}
