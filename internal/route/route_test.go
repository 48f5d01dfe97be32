package route

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/price"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

var (
	tokA = domain.Token{Address: common.HexToAddress("0xaa"), Symbol: "A", Decimals: 18}
	tokB = domain.Token{Address: common.HexToAddress("0xbb"), Symbol: "B", Decimals: 18}
	tokC = common.HexToAddress("0xcc")
	tokD = common.HexToAddress("0xdd")
	usdc = domain.Token{Address: common.HexToAddress("0x05"), Symbol: "USDC", Decimals: 6}

	pairAB = domain.WatchedPair{Base: tokA, Quote: tokB}
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func e18(milli int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(milli), big.NewInt(1_000_000_000_000_000))
}

// rateQuoter quotes fixed num/den rates and counts calls per hop.
type rateQuoter struct {
	id    domain.VenueID
	rates map[[2]common.Address][2]int64
	calls map[[2]common.Address]int
}

func newRateQuoter(id domain.VenueID) *rateQuoter {
	return &rateQuoter{id: id, rates: map[[2]common.Address][2]int64{}, calls: map[[2]common.Address]int{}}
}

func (q *rateQuoter) rate(in, out common.Address, num, den int64) *rateQuoter {
	q.rates[[2]common.Address{in, out}] = [2]int64{num, den}
	return q
}

func (q *rateQuoter) ID() domain.VenueID { return q.id }

func (q *rateQuoter) Quote(_ context.Context, in, out common.Address, amt *big.Int) (*big.Int, error) {
	k := [2]common.Address{in, out}
	q.calls[k]++
	r, ok := q.rates[k]
	if !ok {
		return nil, fmt.Errorf("%s: %w", q.id, domain.ErrVenueUnavailable)
	}
	v := new(big.Int).Mul(amt, big.NewInt(r[0]))
	return v.Quo(v, big.NewInt(r[1])), nil
}

func (q *rateQuoter) Pool(context.Context, common.Address, common.Address) (common.Address, error) {
	return common.Address{}, nil
}

func TestEnumerateTwoHopRanksByProfit(t *testing.T) {
	v1 := newRateQuoter("v1").rate(tokA.Address, tokB.Address, 105, 1)
	v2 := newRateQuoter("v2").rate(tokB.Address, tokA.Address, 102, 10_500)
	v3 := newRateQuoter("v3").rate(tokB.Address, tokA.Address, 101, 10_500)
	// Loses money: never a candidate.
	v4 := newRateQuoter("v4").rate(tokB.Address, tokA.Address, 99, 10_500)

	e := NewEnumerator(EnumeratorConfig{MaxHops: 2}, testLogger())
	cands := e.Enumerate(context.Background(), []venue.Quoter{v1, v2, v3, v4}, pairAB, e18(1000), nil)

	require.Len(t, cands, 2)
	assert.Equal(t, []domain.VenueID{"v1", "v2"}, cands[0].Route.Venues)
	assert.Equal(t, []domain.VenueID{"v1", "v3"}, cands[1].Route.Venues)
	assert.InDelta(t, 2.0, cands[0].ProfitPct, 1e-9)
	assert.Equal(t, e18(20), cands[0].GrossProfit)
	assert.True(t, cands[0].Route.IsLoop())
	assert.NoError(t, cands[0].Route.Validate())
}

func TestEnumerateThreeHop(t *testing.T) {
	v1 := newRateQuoter("v1").
		rate(tokA.Address, tokC, 2, 1).
		rate(tokC, tokB.Address, 60, 1).
		rate(tokB.Address, tokA.Address, 1, 100)
	v2 := newRateQuoter("v2")

	e := NewEnumerator(EnumeratorConfig{MaxHops: 3, MaxIntermediates: 1}, testLogger())
	cands := e.Enumerate(context.Background(), []venue.Quoter{v1, v2}, pairAB, e18(1000), []common.Address{tokA.Address, tokC, tokD})

	require.Len(t, cands, 1)
	assert.Equal(t, []common.Address{tokA.Address, tokC, tokB.Address, tokA.Address}, cands[0].Route.Path)
	assert.Equal(t, []domain.VenueID{"v1", "v1", "v1"}, cands[0].Route.Venues)
	assert.InDelta(t, 20.0, cands[0].ProfitPct, 1e-9)

	// D is past the intermediate cap.
	assert.Zero(t, v1.calls[[2]common.Address{tokA.Address, tokD}])
	// v2 cannot price C->B, so that branch never reaches the B->A leg.
	assert.Equal(t, 1, v2.calls[[2]common.Address{tokC, tokB.Address}])
	assert.Equal(t, 1, v2.calls[[2]common.Address{tokB.Address, tokA.Address}])
}

func TestEnumerateSkipsUnavailable(t *testing.T) {
	v1 := newRateQuoter("v1")
	v2 := newRateQuoter("v2")
	e := NewEnumerator(EnumeratorConfig{MaxHops: 3, MaxIntermediates: 5}, testLogger())
	cands := e.Enumerate(context.Background(), []venue.Quoter{v1, v2}, pairAB, e18(1000), []common.Address{tokC})
	assert.Empty(t, cands)
}

func TestBestPerPair(t *testing.T) {
	other := domain.WatchedPair{Base: tokA, Quote: usdc}
	cands := []domain.Candidate{
		{Pair: pairAB, ProfitPct: 1},
		{Pair: other, ProfitPct: 0.5},
		{Pair: pairAB, ProfitPct: 3},
	}
	best := Best(cands)
	require.Len(t, best, 2)
	assert.Equal(t, 3.0, best[0].ProfitPct)
	assert.Equal(t, other, best[1].Pair)
	// Input order untouched.
	assert.Equal(t, 1.0, cands[0].ProfitPct)
}

type fixedThresholds domain.Thresholds

func (f fixedThresholds) Thresholds() domain.Thresholds { return domain.Thresholds(f) }

func roundTripCandidate(t *testing.T) domain.Candidate {
	t.Helper()
	v1 := newRateQuoter("v1").rate(tokA.Address, tokB.Address, 105, 1)
	v2 := newRateQuoter("v2").rate(tokB.Address, tokA.Address, 102, 10_500)
	cands := NewEnumerator(EnumeratorConfig{MaxHops: 2}, testLogger()).
		Enumerate(context.Background(), []venue.Quoter{v1, v2}, pairAB, e18(1000), nil)
	require.Len(t, cands, 1)
	return cands[0]
}

func TestEvaluateRoundTripIsActionable(t *testing.T) {
	prices := price.NewStatic(map[common.Address]decimal.Decimal{tokA.Address: decimal.NewFromInt(2000)})
	thr := fixedThresholds{MinProfitUSD: decimal.NewFromInt(5), MinProfitPct: 0.1, MinProfitMultiple: 1}
	sim := NewSimulator(SimulatorConfig{GasLimit: 300_000, WrappedNative: tokA.Address}, nil, prices, thr, testLogger())

	// 10 gwei * 300k = 0.003 A.
	q := domain.GasQuote{FeePerGas: big.NewInt(10_000_000_000)}
	c, err := sim.Evaluate(context.Background(), roundTripCandidate(t), q)
	require.NoError(t, err)

	assert.Equal(t, e18(3), c.GasCostIn)
	assert.Equal(t, e18(17), c.NetProfit)
	assert.InDelta(t, 1.7, c.NetProfitPct, 1e-9)
	assert.True(t, decimal.NewFromInt(34).Equal(c.NetUSD), c.NetUSD.String())
	assert.True(t, c.Actionable)
}

func TestEvaluateDeductsLoanPremium(t *testing.T) {
	prices := price.NewStatic(map[common.Address]decimal.Decimal{tokA.Address: decimal.NewFromInt(2000)})
	thr := fixedThresholds{MinProfitUSD: decimal.NewFromInt(5), MinProfitPct: 0.1, MinProfitMultiple: 1}
	sim := NewSimulator(SimulatorConfig{GasLimit: 300_000, WrappedNative: tokA.Address, PremiumBps: 9}, nil, prices, thr, testLogger())

	c, err := sim.Evaluate(context.Background(), roundTripCandidate(t), domain.GasQuote{FeePerGas: big.NewInt(10_000_000_000)})
	require.NoError(t, err)

	// 9 bps of 1 A is 0.0009 A.
	premium := new(big.Int).Div(e18(9), big.NewInt(10))
	assert.Equal(t, premium, c.Premium)
	surplus := new(big.Int).Sub(e18(20), premium)
	assert.Equal(t, surplus, c.ExpectedSurplus)
	assert.Equal(t, new(big.Int).Sub(surplus, e18(3)), c.NetProfit)
	assert.True(t, c.Actionable)
}

func TestEvaluateMultipleRaisesBar(t *testing.T) {
	prices := price.NewStatic(map[common.Address]decimal.Decimal{tokA.Address: decimal.NewFromInt(2000)})
	thr := fixedThresholds{MinProfitUSD: decimal.NewFromInt(5), MinProfitPct: 1.0, MinProfitMultiple: 2}
	sim := NewSimulator(SimulatorConfig{GasLimit: 300_000, WrappedNative: tokA.Address}, nil, prices, thr, testLogger())

	c, err := sim.Evaluate(context.Background(), roundTripCandidate(t), domain.GasQuote{FeePerGas: big.NewInt(10_000_000_000)})
	require.NoError(t, err)
	assert.False(t, c.Actionable)
}

func TestGasCostConvertedThroughReferenceVenue(t *testing.T) {
	weth := common.HexToAddress("0xee")
	ref := newRateQuoter("ref").rate(weth, usdc.Address, 2000, 1_000_000_000_000)
	sim := NewSimulator(SimulatorConfig{GasLimit: 100_000, WrappedNative: weth}, []venue.Quoter{ref}, price.NewStatic(nil), fixedThresholds{}, testLogger())

	// 1e5 gas * 1e10 wei = 1e15 wei = 0.001 ETH = 2 USDC.
	got, err := sim.GasCostIn(context.Background(), usdc.Address, domain.GasQuote{FeePerGas: big.NewInt(10_000_000_000)})
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), got.Int64())

	_, err = sim.GasCostIn(context.Background(), tokD, domain.GasQuote{FeePerGas: big.NewInt(1)})
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
}

func TestSimulateRouteOpenPathUsesBestReturn(t *testing.T) {
	v1 := newRateQuoter("v1").rate(tokA.Address, tokB.Address, 105, 1).rate(tokB.Address, tokA.Address, 1, 110)
	v2 := newRateQuoter("v2").rate(tokB.Address, tokA.Address, 102, 10_500)
	sim := NewSimulator(SimulatorConfig{}, nil, price.NewStatic(nil), fixedThresholds{}, testLogger())

	r := domain.Route{
		Path:      []common.Address{tokA.Address, tokB.Address},
		Venues:    []domain.VenueID{"v1"},
		CreatedAt: time.Now(),
	}
	out, err := sim.SimulateRoute(context.Background(), []venue.Quoter{v1, v2}, r, e18(1000))
	require.NoError(t, err)
	assert.Equal(t, e18(1020), out)

	r.Venues = []domain.VenueID{"missing"}
	_, err = sim.SimulateRoute(context.Background(), []venue.Quoter{v1, v2}, r, e18(1000))
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
}
