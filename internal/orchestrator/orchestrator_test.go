package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/ledger"
	"github.com/alanyoungcy/flasharb/internal/price"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/route"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
	"github.com/alanyoungcy/flasharb/internal/unit"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

var (
	tokA        = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokB        = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	owner       = common.HexToAddress("0x0000000000000000000000000000000000000001")
	beneficiary = common.HexToAddress("0x0000000000000000000000000000000000000002")
	unitAddr    = common.HexToAddress("0x0000000000000000000000000000000000000010")
	lenderAddr  = common.HexToAddress("0x0000000000000000000000000000000000000020")

	pairAB = domain.WatchedPair{
		Base:  domain.Token{Address: tokA, Symbol: "A", Decimals: 18},
		Quote: domain.Token{Address: tokB, Symbol: "B", Decimals: 18},
	}
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

type fixedGas struct{ q domain.GasQuote }

func (g fixedGas) Quote(context.Context) (domain.GasQuote, error) { return g.q, nil }

func gwei(n int64) domain.GasQuote {
	fee := new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
	return domain.GasQuote{FeePerGas: fee, PriorityFee: fee, Basis: "eip1559", FetchedAt: time.Now()}
}

type fakeSubmitter struct {
	mode  domain.SubmitMode
	out   domain.ExecutionOutcome
	err   error
	mu    sync.Mutex
	calls []domain.ExecutionRequest
}

func (f *fakeSubmitter) Mode() domain.SubmitMode { return f.mode }

func (f *fakeSubmitter) Submit(_ context.Context, req domain.ExecutionRequest) (domain.ExecutionOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	out := f.out
	out.Mode = f.mode
	return out, f.err
}

type flakyExecutions struct {
	*memory.ExecutionStore
	fail bool
}

func (s *flakyExecutions) Append(ctx context.Context, rec domain.ExecutionRecord) error {
	if s.fail {
		return errors.New("connection refused")
	}
	return s.ExecutionStore.Append(ctx, rec)
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAlerts) Notify(_ context.Context, event, _, _ string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func calibrator() *risk.Calibrator {
	cfg := risk.DefaultConfig()
	cfg.Defaults.MinProfitUSD = decimal.NewFromInt(1)
	cfg.Defaults.MinProfitPct = 0.1
	return risk.New(cfg, nil, quiet())
}

func baseDeps(cal *risk.Calibrator, execs domain.ExecutionStore) Deps {
	return Deps{
		Enumerator: route.NewEnumerator(route.EnumeratorConfig{MaxHops: 2}, quiet()),
		Simulator: route.NewSimulator(route.SimulatorConfig{GasLimit: 300_000, WrappedNative: tokA}, nil,
			price.NewStatic(map[common.Address]decimal.Decimal{tokA: decimal.NewFromInt(2000)}), cal, quiet()),
		Calibrator: cal,
		Executions: execs,
		Cooldowns:  memory.NewCooldownStore(),
		Gas:        fixedGas{q: gwei(1)},
	}
}

type paper struct {
	o     *Orchestrator
	l     *ledger.Ledger
	u     *unit.Unit
	cal   *risk.Calibrator
	execs *memory.ExecutionStore
	audit *memory.AuditStore
}

// newPaper builds a local unit over two constant-product pools: 1 A buys
// 105 B on v1 and 105 B buys back about 1.02 A on v2.
func newPaper(t *testing.T, cfg Config) *paper {
	t.Helper()
	l := ledger.New()
	lender := unit.NewLendingPool(lenderAddr, l, 9)
	require.NoError(t, l.Mint(tokA, lenderAddr, ether(1_000_000)))

	u, err := unit.New(unit.Config{
		Address:     unitAddr,
		Owner:       owner,
		Beneficiary: beneficiary,
		Params:      unit.DefaultParams(),
	}, l, lender, quiet())
	require.NoError(t, err)

	v1 := venue.NewConstantProduct("v1", l, 0)
	require.NoError(t, v1.Seed(tokA, tokB, ether(1_000), ether(105_000)))
	v2 := venue.NewConstantProduct("v2", l, 0)
	require.NoError(t, v2.Seed(tokA, tokB, ether(1_000), ether(102_941)))
	require.NoError(t, u.RegisterVenue(owner, v1))
	require.NoError(t, u.RegisterVenue(owner, v2))
	require.NoError(t, u.SetPairActive(owner, tokA, tokB, true))

	cal := calibrator()
	execs := memory.NewExecutionStore()
	audit := memory.NewAuditStore()
	deps := baseDeps(cal, execs)
	deps.Simulator = route.NewSimulator(route.SimulatorConfig{GasLimit: 300_000, WrappedNative: tokA, PremiumBps: 9}, nil,
		price.NewStatic(map[common.Address]decimal.Decimal{tokA: decimal.NewFromInt(2000)}), cal, quiet())
	deps.Quoters = []venue.Quoter{v1, v2}
	deps.Local = NewLocalSubmitter(u)
	deps.Pauser = NewUnitPauser(u)
	deps.Params = NewUnitParamUpdater(u)
	deps.Venues = u
	deps.Audit = audit

	state := NewState([]Watch{{Pair: pairAB, AmountIn: ether(1)}}, nil)
	o, err := New(cfg, deps, state, quiet())
	require.NoError(t, err)
	return &paper{o: o, l: l, u: u, cal: cal, execs: execs, audit: audit}
}

func TestScanRoundTripExecutesLocally(t *testing.T) {
	p := newPaper(t, Config{Cooldown: time.Minute, MaxExecutionsPerHour: 10})
	ctx := context.Background()

	p.o.ScanOnce(ctx)

	recs, err := p.execs.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.True(t, rec.Success, rec.Reason)
	assert.Equal(t, domain.ModeLocal, rec.Mode)
	assert.Equal(t, pairAB.Key().String(), rec.Pair)
	assert.NotEmpty(t, rec.ID)

	// About 0.018 A gross less the 0.0009 A premium.
	assert.Equal(t, 1, rec.RealizedProfit.Cmp(new(big.Int).Div(ether(1), big.NewInt(100))))
	assert.Equal(t, -1, rec.RealizedProfit.Cmp(new(big.Int).Div(ether(1), big.NewInt(50))))
	assert.Equal(t, rec.RealizedProfit, p.l.BalanceOf(tokA, beneficiary))
	assert.Len(t, p.cal.Samples(), 1)
	assert.False(t, p.o.State().Snapshot().LastScan.IsZero())
}

func TestCalibratedSlippageReachesUnit(t *testing.T) {
	p := newPaper(t, Config{MaxExecutionsPerHour: 10})
	ctx := context.Background()
	require.Equal(t, int64(50), p.u.Params().SlippageBps)

	// Six outcomes that missed their estimate entirely.
	for range 6 {
		p.cal.Observe(ctx, pairAB.Key().String(), ether(1), big.NewInt(0))
	}
	require.Equal(t, domain.RiskHigh, p.cal.Level())

	p.o.ScanOnce(ctx)

	recs, err := p.execs.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success, recs[0].Reason)
	assert.Equal(t, int64(10), p.u.Params().SlippageBps)
}

func TestEstimateMatchesRealizedUnderHeavyGas(t *testing.T) {
	p := newPaper(t, Config{MaxExecutionsPerHour: 10})
	ctx := context.Background()
	// 300k gas at 50 gwei is 0.015 A, most of the gross profit.
	p.o.State().SetGas(gwei(50))

	p.o.ScanOnce(ctx)

	recs, err := p.execs.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	require.True(t, rec.Success, rec.Reason)
	assert.Zero(t, rec.EstimatedProfit.Cmp(rec.RealizedProfit),
		"estimated %s realized %s", rec.EstimatedProfit, rec.RealizedProfit)

	samples := p.cal.Samples()
	require.Len(t, samples, 1)
	assert.InDelta(t, 0, samples[0].ErrorRatio, 1e-9)
	assert.Equal(t, domain.RiskUnknown, p.cal.Level())
}

func TestInactiveVenueIsNotRouted(t *testing.T) {
	p := newPaper(t, Config{MaxExecutionsPerHour: 10})
	ctx := context.Background()
	require.NoError(t, p.u.SetVenueActive(owner, "v2", false))

	ids := make([]domain.VenueID, 0, 2)
	for _, q := range p.o.activeQuoters() {
		ids = append(ids, q.ID())
	}
	assert.Equal(t, []domain.VenueID{"v1"}, ids)

	p.o.ScanOnce(ctx)

	n, err := p.execs.CountSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, p.u.SetVenueActive(owner, "v2", true))
	p.o.ScanOnce(ctx)
	recs, err := p.execs.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success, recs[0].Reason)
}

func TestCooldownBlocksImmediateRescan(t *testing.T) {
	p := newPaper(t, Config{Cooldown: time.Minute, MaxExecutionsPerHour: 10})
	ctx := context.Background()

	p.o.ScanOnce(ctx)
	p.o.ScanOnce(ctx)

	recs, err := p.execs.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPausedScanDoesNotExecute(t *testing.T) {
	p := newPaper(t, Config{MaxExecutionsPerHour: 10})
	ctx := context.Background()

	require.NoError(t, p.o.SetPaused(ctx, true))
	assert.True(t, p.u.Paused())
	p.o.ScanOnce(ctx)

	n, err := p.execs.CountSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
	entries, err := p.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pause", entries[0].Event)
}

func TestDryRunDetectsWithoutSubmitting(t *testing.T) {
	p := newPaper(t, Config{DryRun: true, MaxExecutionsPerHour: 10})
	p.o.ScanOnce(context.Background())

	n, err := p.execs.CountSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
	_, checked := p.o.State().LastChecked(pairAB.Key())
	assert.True(t, checked)
}

func TestLiquidityCheckMarksThinPairs(t *testing.T) {
	p := newPaper(t, Config{MinLiquidity: decimal.NewFromInt(5_000), MaxExecutionsPerHour: 10})
	ctx := context.Background()

	p.o.CheckLiquidity(ctx)
	assert.False(t, p.o.State().Healthy(pairAB.Key()))
	p.o.ScanOnce(ctx)
	n, _ := p.execs.CountSince(ctx, time.Time{})
	assert.Zero(t, n)

	p.o.cfg.MinLiquidity = decimal.NewFromInt(500)
	p.o.CheckLiquidity(ctx)
	assert.True(t, p.o.State().Healthy(pairAB.Key()))
}

func candidate() domain.Candidate {
	return domain.Candidate{
		Pair: pairAB,
		Route: domain.Route{
			Path:           []common.Address{tokA, tokB, tokA},
			Venues:         []domain.VenueID{"v1", "v2"},
			ExpectedProfit: big.NewInt(20),
		},
		AmountIn:        big.NewInt(1000),
		GrossProfit:     big.NewInt(20),
		Premium:         big.NewInt(2),
		ExpectedSurplus: big.NewInt(18),
		GasCostIn:       big.NewInt(3),
		NetProfit:       big.NewInt(15),
		Actionable:      true,
	}
}

func newWithSubmitter(t *testing.T, cfg Config, execs domain.ExecutionStore, mutate func(*Deps)) *Orchestrator {
	t.Helper()
	deps := baseDeps(calibrator(), execs)
	if mutate != nil {
		mutate(&deps)
	}
	o, err := New(cfg, deps, NewState([]Watch{{Pair: pairAB, AmountIn: big.NewInt(1000)}}, nil), quiet())
	require.NoError(t, err)
	return o
}

func TestHourlyGateRefusesNPlusOne(t *testing.T) {
	execs := memory.NewExecutionStore()
	sub := &fakeSubmitter{mode: domain.ModePublic, out: domain.ExecutionOutcome{Success: true, Realized: big.NewInt(14)}}
	o := newWithSubmitter(t, Config{MaxExecutionsPerHour: 3}, execs, func(d *Deps) { d.Public = sub })
	ctx := context.Background()
	w := o.State().Watches()[0]

	for i := 0; i < 3; i++ {
		_, err := o.Execute(ctx, w, candidate(), gwei(1))
		require.NoError(t, err)
	}
	_, err := o.Execute(ctx, w, candidate(), gwei(1))
	require.ErrorIs(t, err, domain.ErrRateLimited)

	n, err := execs.CountSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, sub.calls, 3)
}

func TestHourlyGateCountsPendingRecords(t *testing.T) {
	execs := &flakyExecutions{ExecutionStore: memory.NewExecutionStore(), fail: true}
	sub := &fakeSubmitter{mode: domain.ModePublic, out: domain.ExecutionOutcome{Success: true, Realized: big.NewInt(14)}}
	o := newWithSubmitter(t, Config{MaxExecutionsPerHour: 1}, execs, func(d *Deps) { d.Public = sub })
	ctx := context.Background()
	w := o.State().Watches()[0]

	_, err := o.Execute(ctx, w, candidate(), gwei(1))
	require.NoError(t, err)
	assert.Equal(t, 1, o.Pending())

	_, err = o.Execute(ctx, w, candidate(), gwei(1))
	require.ErrorIs(t, err, domain.ErrRateLimited)

	execs.fail = false
	o.Flush(ctx)
	assert.Zero(t, o.Pending())
	n, err := execs.CountSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSelectSubmitter(t *testing.T) {
	public := &fakeSubmitter{mode: domain.ModePublic}
	bundle := &fakeSubmitter{mode: domain.ModeBundle}
	execs := memory.NewExecutionStore()

	o := newWithSubmitter(t, Config{}, execs, func(d *Deps) { d.Public, d.Bundle = public, bundle })
	assert.Equal(t, domain.ModePublic, o.SelectSubmitter().Mode())

	o = newWithSubmitter(t, Config{MEVProtection: true}, execs, func(d *Deps) { d.Public, d.Bundle = public, bundle })
	assert.Equal(t, domain.ModeBundle, o.SelectSubmitter().Mode())

	o = newWithSubmitter(t, Config{MEVProtection: true}, execs, func(d *Deps) { d.Public = public })
	assert.Equal(t, domain.ModePublic, o.SelectSubmitter().Mode())

	// A high risk level turns protection on regardless of the baseline.
	o = newWithSubmitter(t, Config{}, execs, func(d *Deps) { d.Public, d.Bundle = public, bundle })
	for i := 0; i < 5; i++ {
		o.deps.Calibrator.Observe(context.Background(), "p", big.NewInt(100), big.NewInt(10))
	}
	require.Equal(t, domain.RiskHigh, o.deps.Calibrator.Level())
	assert.Equal(t, domain.ModeBundle, o.SelectSubmitter().Mode())
}

func TestOutcomeHandling(t *testing.T) {
	ctx := context.Background()

	t.Run("front running is audited and alerted", func(t *testing.T) {
		audit := memory.NewAuditStore()
		alerts := &recordingAlerts{}
		sub := &fakeSubmitter{mode: domain.ModePublic, out: domain.ExecutionOutcome{
			Success: true, Realized: big.NewInt(15), GasPrice: gwei(2).FeePerGas, TxHash: "0xabc",
		}}
		o := newWithSubmitter(t, Config{}, memory.NewExecutionStore(), func(d *Deps) {
			d.Public, d.Audit, d.Alerts = sub, audit, alerts
		})

		rec, err := o.Execute(ctx, o.State().Watches()[0], candidate(), gwei(1))
		require.NoError(t, err)
		assert.True(t, rec.Success)

		entries, err := audit.List(ctx, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "front_run_suspected", entries[0].Event)
		assert.Equal(t, "0xabc", entries[0].Detail["tx_hash"])
		assert.Contains(t, alerts.events, "front_run_suspected")
	})

	t.Run("failures are recorded but not calibrated", func(t *testing.T) {
		sub := &fakeSubmitter{mode: domain.ModePublic, out: domain.ExecutionOutcome{Reason: "transaction reverted"}}
		execs := memory.NewExecutionStore()
		o := newWithSubmitter(t, Config{Cooldown: time.Minute}, execs, func(d *Deps) { d.Public = sub })

		rec, err := o.Execute(ctx, o.State().Watches()[0], candidate(), gwei(1))
		require.NoError(t, err)
		assert.False(t, rec.Success)
		assert.Equal(t, 0, rec.RealizedProfit.Sign())
		assert.Empty(t, o.deps.Calibrator.Samples())

		_, cooling, err := o.deps.Cooldowns.Last(ctx, pairAB.Key())
		require.NoError(t, err)
		assert.True(t, cooling)
	})

	t.Run("transport errors still produce one record", func(t *testing.T) {
		sub := &fakeSubmitter{mode: domain.ModeBundle, err: errors.New("relay unreachable")}
		execs := memory.NewExecutionStore()
		o := newWithSubmitter(t, Config{MEVProtection: true}, execs, func(d *Deps) {
			d.Public = &fakeSubmitter{mode: domain.ModePublic}
			d.Bundle = sub
		})

		rec, err := o.Execute(ctx, o.State().Watches()[0], candidate(), gwei(1))
		require.NoError(t, err)
		assert.Equal(t, domain.ModeBundle, rec.Mode)
		assert.Equal(t, "relay unreachable", rec.Reason)
		n, _ := execs.CountSince(ctx, time.Time{})
		assert.Equal(t, 1, n)
	})

	t.Run("route is stamped at submission", func(t *testing.T) {
		sub := &fakeSubmitter{mode: domain.ModePublic, out: domain.ExecutionOutcome{Success: true, Realized: big.NewInt(1)}}
		o := newWithSubmitter(t, Config{}, memory.NewExecutionStore(), func(d *Deps) { d.Public = sub })
		fixed := time.Unix(1_700_000_000, 0)
		o.now = func() time.Time { return fixed }

		_, err := o.Execute(ctx, o.State().Watches()[0], candidate(), gwei(1))
		require.NoError(t, err)
		require.Len(t, sub.calls, 1)
		assert.Equal(t, fixed, sub.calls[0].Route.CreatedAt)
		assert.Equal(t, big.NewInt(18), sub.calls[0].Estimated)
		assert.Equal(t, int64(50), sub.calls[0].SlippageBps)
	})
}

type staticTokens []domain.Token

func (s staticTokens) Tokens(context.Context) ([]domain.Token, error) { return s, nil }

type savedTokens struct{ saved []domain.Token }

func (s *savedTokens) Load(context.Context) ([]domain.Token, error) { return s.saved, nil }
func (s *savedTokens) Save(_ context.Context, t []domain.Token) error {
	s.saved = append(s.saved, t...)
	return nil
}

func TestDiscoverAddsIntermediates(t *testing.T) {
	tokC := domain.Token{Address: common.HexToAddress("0xcccc"), Symbol: "C", Decimals: 6}
	reg := &savedTokens{}
	o := newWithSubmitter(t, Config{}, memory.NewExecutionStore(), func(d *Deps) {
		d.Public = &fakeSubmitter{mode: domain.ModePublic}
		d.Discovery = staticTokens{pairAB.Base, tokC}
		d.Registry = reg
	})

	o.Discover(context.Background())
	assert.Contains(t, o.State().Intermediates(), tokC.Address)
	assert.Equal(t, []domain.Token{tokC}, reg.saved)

	o.Discover(context.Background())
	assert.Len(t, reg.saved, 1)
}

func TestSuperviseRestartsAfterPanic(t *testing.T) {
	execs := memory.NewExecutionStore()
	var calls int
	var mu sync.Mutex
	gas := gasFunc(func(context.Context) (domain.GasQuote, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("rpc client nil")
		}
		return gwei(1), nil
	})
	o := newWithSubmitter(t, Config{ScanInterval: 10 * time.Millisecond}, execs, func(d *Deps) {
		d.Public = &fakeSubmitter{mode: domain.ModePublic}
		d.Gas = gas
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, o.Supervise(ctx, 20*time.Millisecond))

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, calls, 1)
}

type gasFunc func(context.Context) (domain.GasQuote, error)

func (f gasFunc) Quote(ctx context.Context) (domain.GasQuote, error) { return f(ctx) }
