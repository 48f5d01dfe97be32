// Package orchestrator is the off-chain controller: it scans watched pairs
// for profitable routes, decides whether and how to trigger the execution
// unit, and feeds every outcome back into the risk calibrator.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/route"
	"github.com/alanyoungcy/flasharb/internal/unit"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// GasSource returns a fresh fee quote.
type GasSource interface {
	Quote(ctx context.Context) (domain.GasQuote, error)
}

// EventPublisher forwards records and candidates to a durable queue.
type EventPublisher interface {
	PublishExecution(ctx context.Context, rec domain.ExecutionRecord) error
	PublishCandidates(ctx context.Context, cands []domain.Candidate) error
}

// Alerter delivers operator alerts. event is used for filtering.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string)
}

// Pauser pauses the execution unit.
type Pauser interface {
	SetPaused(ctx context.Context, paused bool) error
}

// ParamUpdater pushes the calibrated slippage tolerance to the unit.
type ParamUpdater interface {
	SetSlippage(ctx context.Context, bps int64) error
}

// VenueStatus reports which venues the unit will accept in a route.
type VenueStatus interface {
	Venues() []unit.VenueStatus
}

// TokenSource lists tokens for discovery.
type TokenSource interface {
	Tokens(ctx context.Context) ([]domain.Token, error)
}

// Config tunes the loop.
type Config struct {
	ScanInterval      time.Duration
	GasInterval       time.Duration
	LiquidityInterval time.Duration
	DiscoveryInterval time.Duration

	MaxExecutionsPerHour int
	Cooldown             time.Duration
	// MEVProtection is the operator baseline; a risk recommendation can
	// switch it on.
	MEVProtection bool
	// MinLiquidity is the smallest base-token reserve, in whole tokens, a
	// venue needs for a pair to be scanned.
	MinLiquidity decimal.Decimal
	// DryRun detects and publishes candidates without submitting.
	DryRun bool
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() Config {
	return Config{
		ScanInterval:         time.Second,
		GasInterval:          15 * time.Second,
		LiquidityInterval:    5 * time.Minute,
		DiscoveryInterval:    time.Hour,
		MaxExecutionsPerHour: 20,
		Cooldown:             time.Minute,
	}
}

// Deps are the collaborators. Optional ones may be nil.
type Deps struct {
	Quoters    []venue.Quoter
	Enumerator *route.Enumerator
	Simulator  *route.Simulator
	Gas        GasSource
	Calibrator *risk.Calibrator
	Executions domain.ExecutionStore
	Cooldowns  domain.CooldownStore

	// Local is used when set (paper mode). Otherwise Bundle is chosen when
	// MEV protection applies and Public in every other case.
	Local  Submitter
	Public Submitter
	Bundle Submitter

	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Publisher EventPublisher
	Alerts    Alerter
	Pauser    Pauser
	Params    ParamUpdater
	// Venues, when set, limits detection to venues the unit has active.
	Venues    VenueStatus
	Discovery TokenSource
	Registry  domain.TokenRegistry
}

// Orchestrator drives scans and executions. Run is single-goroutine; the
// exported query methods are safe to call concurrently with it.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	state  *State
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	pending   []domain.ExecutionRecord
	lastLevel domain.RiskLevel
	// slippage is the tolerance last pushed to the unit; 0 until the first push.
	slippage int64
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, state *State, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Enumerator == nil || deps.Simulator == nil || deps.Calibrator == nil {
		return nil, errors.New("orchestrator: enumerator, simulator and calibrator are required")
	}
	if deps.Executions == nil || deps.Cooldowns == nil {
		return nil, errors.New("orchestrator: execution and cooldown stores are required")
	}
	if deps.Local == nil && deps.Public == nil && !cfg.DryRun {
		return nil, errors.New("orchestrator: no submitter configured")
	}
	def := DefaultConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.GasInterval <= 0 {
		cfg.GasInterval = def.GasInterval
	}
	if cfg.LiquidityInterval <= 0 {
		cfg.LiquidityInterval = def.LiquidityInterval
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = def.DiscoveryInterval
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		state:     state,
		logger:    logger.With(slog.String("component", "orchestrator")),
		now:       time.Now,
		lastLevel: domain.RiskUnknown,
	}, nil
}

// State exposes the loop state for status reporting.
func (o *Orchestrator) State() *State { return o.state }

// Run is the main loop: one select over the scan, gas, liquidity and
// discovery tickers. Missed ticks are dropped, so an overrunning scan is
// superseded by the next one rather than queued.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.state.setRunning(true)
	defer o.state.setRunning(false)
	o.logger.InfoContext(ctx, "orchestrator started",
		slog.Int("pairs", len(o.state.Watches())),
		slog.Bool("dry_run", o.cfg.DryRun),
	)
	defer o.logger.Info("orchestrator stopped")

	o.refreshGas(ctx)
	o.CheckLiquidity(ctx)

	scan := time.NewTicker(o.cfg.ScanInterval)
	defer scan.Stop()
	gasT := time.NewTicker(o.cfg.GasInterval)
	defer gasT.Stop()
	liq := time.NewTicker(o.cfg.LiquidityInterval)
	defer liq.Stop()
	disc := time.NewTicker(o.cfg.DiscoveryInterval)
	defer disc.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			o.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-scan.C:
			o.ScanOnce(ctx)
		case <-gasT.C:
			o.refreshGas(ctx)
		case <-liq.C:
			o.CheckLiquidity(ctx)
		case <-disc.C:
			o.Discover(ctx)
		}
	}
}

func (o *Orchestrator) refreshGas(ctx context.Context) {
	if o.deps.Gas == nil {
		return
	}
	q, err := o.deps.Gas.Quote(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "gas quote failed", slog.String("error", err.Error()))
		return
	}
	o.state.SetGas(q)
}

// ScanOnce runs one detection pass over every watched pair and executes the
// best actionable candidate of each. Detection is bounded by the scan
// interval; an execution in progress is not.
func (o *Orchestrator) ScanOnce(ctx context.Context) {
	if o.state.Gas().IsZero() {
		o.refreshGas(ctx)
	}
	q := o.state.Gas()
	now := o.now()
	o.state.markScan(now)
	o.publishRiskChange(ctx)

	for _, w := range o.state.Watches() {
		if ctx.Err() != nil {
			return
		}
		key := w.Pair.Key()
		if !o.state.Healthy(key) {
			continue
		}
		if o.coolingDown(ctx, key, now) {
			continue
		}

		best, ok := o.detect(ctx, w, q)
		o.state.MarkChecked(key, now)
		if !ok || o.cfg.DryRun || o.state.Paused() {
			continue
		}

		if _, err := o.Execute(ctx, w, best, q); err != nil {
			o.logger.WarnContext(ctx, "execution skipped",
				slog.String("pair", w.Pair.Label()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (o *Orchestrator) detect(ctx context.Context, w Watch, q domain.GasQuote) (domain.Candidate, bool) {
	dctx, cancel := context.WithTimeout(ctx, o.cfg.ScanInterval)
	defer cancel()

	cands := o.deps.Enumerator.Enumerate(dctx, o.activeQuoters(), w.Pair, w.AmountIn, o.state.Intermediates())
	var actionable []domain.Candidate
	for _, c := range cands {
		ev, err := o.deps.Simulator.Evaluate(dctx, c, q)
		if err != nil {
			o.logger.DebugContext(ctx, "evaluate failed",
				slog.String("route", c.Route.Summary()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ev.Actionable {
			actionable = append(actionable, ev)
		}
	}
	if len(actionable) == 0 {
		return domain.Candidate{}, false
	}

	o.publishCandidates(ctx, actionable)
	return actionable[0], true
}

// activeQuoters drops venues the unit has deactivated, so no route is built
// through a venue the unit would reject.
func (o *Orchestrator) activeQuoters() []venue.Quoter {
	if o.deps.Venues == nil {
		return o.deps.Quoters
	}
	active := make(map[domain.VenueID]bool)
	for _, v := range o.deps.Venues.Venues() {
		active[v.ID] = v.Active
	}
	out := make([]venue.Quoter, 0, len(o.deps.Quoters))
	for _, q := range o.deps.Quoters {
		if active[q.ID()] {
			out = append(out, q)
		}
	}
	return out
}

// applySlippage pushes bps to the unit when it differs from the last value
// pushed.
func (o *Orchestrator) applySlippage(ctx context.Context, bps int64) {
	if o.deps.Params == nil || bps <= 0 {
		return
	}
	o.mu.Lock()
	same := o.slippage == bps
	o.mu.Unlock()
	if same {
		return
	}
	if err := o.deps.Params.SetSlippage(ctx, bps); err != nil {
		o.logger.WarnContext(ctx, "slippage update failed",
			slog.Int64("slippage_bps", bps),
			slog.String("error", err.Error()),
		)
		return
	}
	o.mu.Lock()
	o.slippage = bps
	o.mu.Unlock()
	o.logger.InfoContext(ctx, "unit slippage updated", slog.Int64("slippage_bps", bps))
}

func (o *Orchestrator) coolingDown(ctx context.Context, key domain.PairKey, now time.Time) bool {
	if o.cfg.Cooldown <= 0 {
		return false
	}
	at, ok, err := o.deps.Cooldowns.Last(ctx, key)
	if err != nil {
		o.logger.WarnContext(ctx, "cooldown lookup failed", slog.String("pair", key.String()), slog.String("error", err.Error()))
		return false
	}
	return ok && now.Sub(at) < o.cfg.Cooldown
}

// CheckHourly refuses when the last hour's stored and pending records reach
// the limit. It is called immediately before every submission.
func (o *Orchestrator) CheckHourly(ctx context.Context, now time.Time) error {
	if o.cfg.MaxExecutionsPerHour <= 0 {
		return nil
	}
	n, err := o.deps.Executions.CountSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return fmt.Errorf("orchestrator: count executions: %w", err)
	}
	o.mu.Lock()
	for _, r := range o.pending {
		if !r.Timestamp.Before(now.Add(-time.Hour)) {
			n++
		}
	}
	o.mu.Unlock()
	if n >= o.cfg.MaxExecutionsPerHour {
		return fmt.Errorf("orchestrator: %d executions in the last hour: %w", n, domain.ErrRateLimited)
	}
	return nil
}

// SelectSubmitter picks the channel for the next submission.
func (o *Orchestrator) SelectSubmitter() Submitter {
	if o.deps.Local != nil {
		return o.deps.Local
	}
	mev := o.cfg.MEVProtection
	if rec := o.deps.Calibrator.Recommendation(); rec.MEVProtection != nil {
		mev = mev || *rec.MEVProtection
	}
	if mev && o.deps.Bundle != nil {
		return o.deps.Bundle
	}
	return o.deps.Public
}

// Execute submits c and handles its outcome. Every submitted attempt yields
// exactly one record; a refusal by the hourly gate yields none.
func (o *Orchestrator) Execute(ctx context.Context, w Watch, c domain.Candidate, q domain.GasQuote) (domain.ExecutionRecord, error) {
	now := o.now()
	if err := o.CheckHourly(ctx, now); err != nil {
		return domain.ExecutionRecord{}, err
	}
	sub := o.SelectSubmitter()
	if sub == nil {
		return domain.ExecutionRecord{}, errors.New("orchestrator: no submitter available")
	}

	rt := c.Route.Stamped(now)
	req := domain.ExecutionRequest{
		TokenA:           w.Pair.Base.Address,
		TokenB:           w.Pair.Quote.Address,
		AmountIn:         new(big.Int).Set(c.AmountIn),
		Route:            rt,
		Estimated:        expectedSurplus(c),
		SlippageBps:      o.deps.Calibrator.Thresholds().SlippageBps,
		ExpectedGasPrice: q.FeePerGas,
		UseNative:        w.UseNative,
	}
	o.applySlippage(ctx, req.SlippageBps)

	log := o.logger.With(
		slog.String("pair", w.Pair.Label()),
		slog.String("route", rt.Summary()),
		slog.String("mode", string(sub.Mode())),
	)
	log.InfoContext(ctx, "submitting",
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("net_usd", c.NetUSD.StringFixed(2)),
	)

	out, err := sub.Submit(ctx, req)
	if err != nil {
		log.ErrorContext(ctx, "submission failed", slog.String("error", err.Error()))
		out.Mode = sub.Mode()
		out.Success = false
		if out.Reason == "" {
			out.Reason = err.Error()
		}
	}

	rec := domain.ExecutionRecord{
		ID:              uuid.New().String(),
		Timestamp:       now,
		Pair:            w.Pair.Key().String(),
		RouteSummary:    rt.Summary(),
		Mode:            out.Mode,
		EstimatedProfit: req.Estimated,
		RealizedProfit:  out.Realized,
		Success:         out.Success,
		Reason:          out.Reason,
		TxHash:          out.TxHash,
		GasPrice:        out.GasPrice,
	}
	if rec.RealizedProfit == nil {
		rec.RealizedProfit = new(big.Int)
	}
	o.handleOutcome(ctx, log, w, req, rec)
	return rec, nil
}

// expectedSurplus is the estimate on the unit's payout basis. Candidates
// evaluated without a premium fall back to gross profit.
func expectedSurplus(c domain.Candidate) *big.Int {
	switch {
	case c.ExpectedSurplus != nil:
		return c.ExpectedSurplus
	case c.GrossProfit != nil:
		return c.GrossProfit
	default:
		return c.NetProfit
	}
}

func (o *Orchestrator) handleOutcome(ctx context.Context, log *slog.Logger, w Watch, req domain.ExecutionRequest, rec domain.ExecutionRecord) {
	o.record(ctx, rec)
	o.publishRecord(ctx, rec)

	if rec.Success {
		sample := o.deps.Calibrator.Observe(ctx, rec.Pair, rec.EstimatedProfit, rec.RealizedProfit)
		log.InfoContext(ctx, "execution succeeded",
			slog.String("estimated", bigString(rec.EstimatedProfit)),
			slog.String("realized", bigString(rec.RealizedProfit)),
			slog.Float64("error_ratio", sample.ErrorRatio),
		)
	} else if rec.Reason == domain.ErrRepaymentShortfall.Error() {
		log.ErrorContext(ctx, "repayment shortfall", slog.String("tx", rec.TxHash))
		o.audit(ctx, "repayment_shortfall", rec)
		o.alert(ctx, "repayment_shortfall", "Repayment shortfall", fmt.Sprintf("%s via %s", w.Pair.Label(), rec.RouteSummary))
	} else {
		log.WarnContext(ctx, "execution failed", slog.String("reason", rec.Reason))
		o.alert(ctx, "execution_failed", "Execution failed", fmt.Sprintf("%s: %s", w.Pair.Label(), rec.Reason))
	}

	if o.deps.Calibrator.SuspectFrontRun(req.ExpectedGasPrice, rec.GasPrice) {
		log.WarnContext(ctx, "possible front-running",
			slog.String("expected_gas_price", bigString(req.ExpectedGasPrice)),
			slog.String("gas_price", bigString(rec.GasPrice)),
		)
		o.audit(ctx, "front_run_suspected", rec)
		o.alert(ctx, "front_run_suspected", "Possible front-running",
			fmt.Sprintf("%s paid %s vs expected %s", w.Pair.Label(), bigString(rec.GasPrice), bigString(req.ExpectedGasPrice)))
	}

	if o.cfg.Cooldown > 0 {
		if err := o.deps.Cooldowns.Touch(ctx, w.Pair.Key(), rec.Timestamp, o.cfg.Cooldown); err != nil {
			log.WarnContext(ctx, "cooldown touch failed", slog.String("error", err.Error()))
		}
	}
}

// record appends rec, keeping it pending when the store is unavailable.
func (o *Orchestrator) record(ctx context.Context, rec domain.ExecutionRecord) {
	if err := o.deps.Executions.Append(ctx, rec); err != nil {
		o.logger.ErrorContext(ctx, "record append failed, keeping pending",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
		o.mu.Lock()
		o.pending = append(o.pending, rec)
		o.mu.Unlock()
	}
}

// Pending returns the number of records not yet stored.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Flush retries storing pending records.
func (o *Orchestrator) Flush(ctx context.Context) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	var failed []domain.ExecutionRecord
	for _, rec := range pending {
		if err := o.deps.Executions.Append(ctx, rec); err != nil {
			failed = append(failed, rec)
		}
	}
	if len(failed) > 0 {
		o.mu.Lock()
		o.pending = append(failed, o.pending...)
		o.mu.Unlock()
		o.logger.WarnContext(ctx, "pending records not flushed", slog.Int("count", len(failed)))
	}
}

func (o *Orchestrator) publishRecord(ctx context.Context, rec domain.ExecutionRecord) {
	if o.deps.Bus != nil {
		if payload, err := json.Marshal(rec); err == nil {
			if err := o.deps.Bus.Publish(ctx, domain.ChannelExecutions, payload); err != nil {
				o.logger.DebugContext(ctx, "bus publish failed", slog.String("error", err.Error()))
			}
			if err := o.deps.Bus.StreamAppend(ctx, domain.ChannelExecutions, payload); err != nil {
				o.logger.DebugContext(ctx, "stream append failed", slog.String("error", err.Error()))
			}
		}
	}
	if o.deps.Publisher != nil {
		if err := o.deps.Publisher.PublishExecution(ctx, rec); err != nil {
			o.logger.WarnContext(ctx, "kafka publish failed", slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) publishCandidates(ctx context.Context, cands []domain.Candidate) {
	if o.deps.Bus != nil {
		if payload, err := json.Marshal(cands); err == nil {
			_ = o.deps.Bus.Publish(ctx, domain.ChannelCandidates, payload)
		}
	}
	if o.deps.Publisher != nil {
		if err := o.deps.Publisher.PublishCandidates(ctx, cands); err != nil {
			o.logger.DebugContext(ctx, "kafka candidates publish failed", slog.String("error", err.Error()))
		}
	}
}

// publishRiskChange announces a new risk level once per change.
func (o *Orchestrator) publishRiskChange(ctx context.Context) {
	rec := o.deps.Calibrator.Recommendation()
	o.mu.Lock()
	changed := rec.Level != o.lastLevel
	o.lastLevel = rec.Level
	o.mu.Unlock()
	if !changed {
		return
	}
	o.logger.InfoContext(ctx, "risk level changed",
		slog.String("level", string(rec.Level)),
		slog.Int64("slippage_bps", rec.SlippageBps),
		slog.Float64("min_profit_multiple", rec.MinProfitMultiple),
	)
	if o.deps.Bus != nil {
		if payload, err := json.Marshal(rec); err == nil {
			_ = o.deps.Bus.Publish(ctx, domain.ChannelRisk, payload)
		}
	}
	if rec.Level == domain.RiskHigh {
		o.alert(ctx, "risk_high", "Risk level high", "estimate error is critical; thresholds doubled")
	}
}

func (o *Orchestrator) audit(ctx context.Context, event string, rec domain.ExecutionRecord) {
	if o.deps.Audit == nil {
		return
	}
	err := o.deps.Audit.Log(ctx, event, map[string]any{
		"execution_id": rec.ID,
		"pair":         rec.Pair,
		"route":        rec.RouteSummary,
		"mode":         string(rec.Mode),
		"tx_hash":      rec.TxHash,
		"gas_price":    bigString(rec.GasPrice),
		"reason":       rec.Reason,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) alert(ctx context.Context, event, title, msg string) {
	if o.deps.Alerts != nil {
		o.deps.Alerts.Notify(ctx, event, title, msg)
	}
}

// SetPaused stops (or resumes) submissions and pauses the unit when a
// Pauser is wired. Scanning continues so candidates stay visible.
func (o *Orchestrator) SetPaused(ctx context.Context, paused bool) error {
	if o.deps.Pauser != nil {
		if err := o.deps.Pauser.SetPaused(ctx, paused); err != nil {
			return fmt.Errorf("orchestrator: pause unit: %w", err)
		}
	}
	o.state.SetPaused(paused)
	o.logger.InfoContext(ctx, "pause state changed", slog.Bool("paused", paused))
	if o.deps.Audit != nil {
		_ = o.deps.Audit.Log(ctx, "pause", map[string]any{"paused": paused})
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
