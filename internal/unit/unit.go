// Package unit implements the atomic execution unit: it borrows the input
// asset from a flash lender, runs the swap route, repays the loan and pays
// out the surplus, or reverts every balance change it made. The Unit runs
// against the in-process ledger (paper trading, tests); the deployed
// contract shares its ABI (see abi.go).
package unit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/ledger"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

const bpsDenominator = 10_000

// Params are the owner-tunable execution limits.
type Params struct {
	// MinProfitBps is the minimum surplus over loan+premium, in basis
	// points of the loan.
	MinProfitBps int64
	// MaxGasPrice rejects transactions priced above it. Nil disables.
	MaxGasPrice *big.Int
	// MinReserveRatioBps requires every hop's output reserve to hold at
	// least this multiple (in bps) of the expected hop output. 0 disables.
	MinReserveRatioBps int64
	// SlippageBps is the per-hop tolerance applied to the live quote.
	SlippageBps int64
	// FreshnessWindow is the maximum route age.
	FreshnessWindow time.Duration
}

// DefaultParams returns conservative limits.
func DefaultParams() Params {
	return Params{
		MinProfitBps:       10,
		MaxGasPrice:        big.NewInt(200_000_000_000),
		MinReserveRatioBps: 20_000,
		SlippageBps:        50,
		FreshnessWindow:    5 * time.Minute,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.MinProfitBps < 0:
		return fmt.Errorf("unit: min profit bps %d < 0", p.MinProfitBps)
	case p.SlippageBps < 0 || p.SlippageBps >= bpsDenominator:
		return fmt.Errorf("unit: slippage bps %d out of range", p.SlippageBps)
	case p.MinReserveRatioBps < 0:
		return fmt.Errorf("unit: min reserve ratio bps %d < 0", p.MinReserveRatioBps)
	case p.FreshnessWindow <= 0:
		return fmt.Errorf("unit: freshness window %s <= 0", p.FreshnessWindow)
	case p.MaxGasPrice != nil && p.MaxGasPrice.Sign() < 0:
		return fmt.Errorf("unit: max gas price < 0")
	}
	return nil
}

func (p Params) clone() Params {
	out := p
	if p.MaxGasPrice != nil {
		out.MaxGasPrice = new(big.Int).Set(p.MaxGasPrice)
	}
	return out
}

// TxContext carries the transaction-level inputs of a call.
type TxContext struct {
	From     common.Address
	GasPrice *big.Int
	// Value is the native amount attached to the call.
	Value     *big.Int
	Timestamp time.Time
}

// Config fixes the unit's identity.
type Config struct {
	Address       common.Address
	Owner         common.Address
	Beneficiary   common.Address
	WrappedNative common.Address
	Params        Params
}

// Result describes a committed execution.
type Result struct {
	Profit    *big.Int
	Premium   *big.Int
	AmountIn  *big.Int
	Timestamp time.Time
}

type venueEntry struct {
	venue  venue.Venue
	active bool
}

// flight is the state of the attempt currently holding the lock.
type flight struct {
	tokenA  common.Address
	tokenB  common.Address
	amount  *big.Int
	preLoan *big.Int
	params  Params
	premium *big.Int
}

// Unit is the in-process execution unit. Admin methods may be called from
// any goroutine; execution is serialised by a non-blocking lock.
type Unit struct {
	cfg    Config
	ledger *ledger.Ledger
	lender Lender
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	venues   map[domain.VenueID]*venueEntry
	order    []domain.VenueID
	pairs    map[domain.PairKey]bool
	params   Params
	paused   bool
	events   []domain.UnitEvent
	sinks    []domain.EventSink
	lastStep State

	locked atomic.Bool
	cur    *flight

	// funds is held while a ledger journal is open for an execution, so
	// admin transfers land before or after it and are never rolled back.
	funds sync.Mutex
}

// New creates a unit. The owner starts with no venues and no active pairs.
func New(cfg Config, l *ledger.Ledger, lender Lender, logger *slog.Logger) (*Unit, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Beneficiary == (common.Address{}) {
		cfg.Beneficiary = cfg.Owner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Unit{
		cfg:      cfg,
		ledger:   l,
		lender:   lender,
		logger:   logger.With(slog.String("component", "unit")),
		now:      time.Now,
		venues:   make(map[domain.VenueID]*venueEntry),
		pairs:    make(map[domain.PairKey]bool),
		params:   cfg.Params.clone(),
		lastStep: StateIdle,
	}, nil
}

// Address returns the unit's ledger address.
func (u *Unit) Address() common.Address { return u.cfg.Address }

// Owner returns the admin address.
func (u *Unit) Owner() common.Address { return u.cfg.Owner }

// WrappedNative returns the wrapped native token address.
func (u *Unit) WrappedNative() common.Address { return u.cfg.WrappedNative }

// LastState returns the final state of the most recent attempt.
func (u *Unit) LastState() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lastStep
}

// Events returns a copy of every committed event, oldest first.
func (u *Unit) Events() []domain.UnitEvent {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]domain.UnitEvent(nil), u.events...)
}

// AddSink registers a receiver for committed events.
func (u *Unit) AddSink(s domain.EventSink) {
	u.mu.Lock()
	u.sinks = append(u.sinks, s)
	u.mu.Unlock()
}

func (u *Unit) emit(ev domain.UnitEvent) {
	u.mu.Lock()
	u.events = append(u.events, ev)
	sinks := append([]domain.EventSink(nil), u.sinks...)
	u.mu.Unlock()
	for _, s := range sinks {
		s.Emit(ev)
	}
}

func (u *Unit) step(s State) {
	u.mu.Lock()
	u.lastStep = s
	u.mu.Unlock()
}

// ExecuteArbitrage borrows amountIn of tokenA and runs route. On any failure
// every balance change is undone and exactly one ArbitrageFailed event is
// recorded. A call made while another execution is in progress returns
// domain.ErrReentrant without side effects.
func (u *Unit) ExecuteArbitrage(ctx context.Context, tx TxContext, tokenA, tokenB common.Address, amountIn *big.Int, route domain.Route) (*Result, error) {
	return u.run(ctx, tx, tokenA, tokenB, amountIn, route, false)
}

// ExecuteArbitrageWithNativeAsset wraps tx.Value, borrows the same amount of
// the wrapped token and runs route as ExecuteArbitrage would. On success the
// attached value is returned to the caller as native coin and the profit
// goes to the beneficiary.
func (u *Unit) ExecuteArbitrageWithNativeAsset(ctx context.Context, tx TxContext, tokenB common.Address, route domain.Route) (*Result, error) {
	return u.run(ctx, tx, u.cfg.WrappedNative, tokenB, tx.Value, route, true)
}

// settle runs execute inside a ledger journal: every transfer made by the
// attempt is undone when it fails.
func (u *Unit) settle(ctx context.Context, tx TxContext, tokenA, tokenB common.Address, amountIn *big.Int, route domain.Route, params Params, native bool) (*Result, error) {
	u.funds.Lock()
	defer u.funds.Unlock()

	snap := u.ledger.Snapshot()
	res, err := u.execute(ctx, tx, tokenA, tokenB, amountIn, route, params, native)
	if err != nil {
		u.ledger.RevertToSnapshot(snap)
		return nil, err
	}
	u.ledger.Release(snap)
	return res, nil
}

func (u *Unit) run(ctx context.Context, tx TxContext, tokenA, tokenB common.Address, amountIn *big.Int, route domain.Route, native bool) (*Result, error) {
	if !u.locked.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("unit: %w", domain.ErrReentrant)
	}
	defer u.locked.Store(false)

	now := tx.Timestamp
	if now.IsZero() {
		now = u.now()
	}
	u.step(StateIdle)

	u.mu.RLock()
	params := u.params.clone()
	u.mu.RUnlock()

	if err := u.checkPreconditions(tx, tokenA, tokenB, amountIn, route, params, now, native); err != nil {
		f := fail(StateIdle, err)
		u.rejected(tokenA, tokenB, amountIn, f, now)
		return nil, f
	}

	res, err := u.settle(ctx, tx, tokenA, tokenB, amountIn, route, params, native)
	if err != nil {
		f := fail(StateLoanRequested, err)
		u.rejected(tokenA, tokenB, amountIn, f, now)
		return nil, f
	}
	u.step(StateDone)

	res.Timestamp = now
	u.logger.Info("arbitrage executed",
		slog.String("token_a", tokenA.Hex()),
		slog.String("token_b", tokenB.Hex()),
		slog.String("amount_in", amountIn.String()),
		slog.String("profit", res.Profit.String()),
		slog.String("route", route.Summary()),
	)
	u.emit(domain.UnitEvent{
		Kind:      domain.EventArbitrageExecuted,
		TokenA:    tokenA,
		TokenB:    tokenB,
		AmountIn:  new(big.Int).Set(amountIn),
		Profit:    new(big.Int).Set(res.Profit),
		Timestamp: now,
	})
	return res, nil
}

func (u *Unit) rejected(tokenA, tokenB common.Address, amountIn *big.Int, f *Failure, now time.Time) {
	u.step(StateReverted)
	var amt *big.Int
	if amountIn != nil {
		amt = new(big.Int).Set(amountIn)
	}
	u.logger.Warn("arbitrage failed",
		slog.String("token_a", tokenA.Hex()),
		slog.String("token_b", tokenB.Hex()),
		slog.String("stage", string(f.Stage)),
		slog.String("error", f.Err.Error()),
	)
	u.emit(domain.UnitEvent{
		Kind:      domain.EventArbitrageFailed,
		TokenA:    tokenA,
		TokenB:    tokenB,
		AmountIn:  amt,
		Reason:    f.Reason(),
		Timestamp: now,
	})
}

// checkPreconditions runs every check that needs no funds, in a fixed order.
func (u *Unit) checkPreconditions(tx TxContext, tokenA, tokenB common.Address, amountIn *big.Int, route domain.Route, p Params, now time.Time, native bool) error {
	if tx.From != u.cfg.Owner {
		return fmt.Errorf("%w: caller %s", domain.ErrUnauthorized, tx.From.Hex())
	}

	u.mu.RLock()
	paused := u.paused
	pairActive := u.pairs[domain.NewPairKey(tokenA, tokenB)]
	u.mu.RUnlock()

	if paused {
		return domain.ErrPaused
	}
	if !pairActive {
		return fmt.Errorf("%w: %s", domain.ErrPairInactive, domain.NewPairKey(tokenA, tokenB))
	}
	if age := now.Sub(route.CreatedAt); age > p.FreshnessWindow {
		return fmt.Errorf("%w: age %s > %s", domain.ErrStaleRoute, age.Truncate(time.Second), p.FreshnessWindow)
	}
	if p.MaxGasPrice != nil && tx.GasPrice != nil && tx.GasPrice.Cmp(p.MaxGasPrice) > 0 {
		return fmt.Errorf("%w: %s > %s", domain.ErrGasPriceTooHigh, tx.GasPrice, p.MaxGasPrice)
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidRoute)
	}
	if native && u.cfg.WrappedNative == (common.Address{}) {
		return fmt.Errorf("%w: no wrapped native token configured", domain.ErrInvalidRoute)
	}
	if err := route.Validate(); err != nil {
		return err
	}
	if route.Path[0] != tokenA {
		return fmt.Errorf("%w: path starts at %s, not %s", domain.ErrInvalidRoute, route.Path[0].Hex(), tokenA.Hex())
	}
	if !containsAfterFirst(route.Path, tokenB) {
		return fmt.Errorf("%w: path never reaches %s", domain.ErrInvalidRoute, tokenB.Hex())
	}
	for _, id := range route.Venues {
		if _, err := u.activeVenue(id); err != nil {
			return err
		}
	}
	return nil
}

func containsAfterFirst(path []common.Address, tok common.Address) bool {
	for _, p := range path[1:] {
		if p == tok {
			return true
		}
	}
	return false
}

// execute performs the funded part of an attempt. The caller reverts the
// ledger when it returns an error.
func (u *Unit) execute(ctx context.Context, tx TxContext, tokenA, tokenB common.Address, amountIn *big.Int, route domain.Route, p Params, native bool) (*Result, error) {
	if native {
		if err := u.wrap(tx.From, amountIn); err != nil {
			return nil, fail(StateLoanRequested, err)
		}
	}

	params, err := EncodeRoute(route)
	if err != nil {
		return nil, fail(StateLoanRequested, err)
	}

	u.cur = &flight{
		tokenA:  tokenA,
		tokenB:  tokenB,
		amount:  new(big.Int).Set(amountIn),
		preLoan: u.ledger.BalanceOf(tokenA, u.cfg.Address),
		params:  p,
	}
	defer func() { u.cur = nil }()

	u.step(StateLoanRequested)
	if err := u.lender.Borrow(ctx, u, tokenA, amountIn, params, 0); err != nil {
		if errors.Is(err, domain.ErrRepaymentShortfall) {
			return nil, fail(StateRepaying, err)
		}
		return nil, fail(StateLoanRequested, err)
	}

	u.step(StateDistributing)
	surplus := new(big.Int).Sub(u.ledger.BalanceOf(tokenA, u.cfg.Address), u.cur.preLoan)
	if surplus.Sign() > 0 {
		if err := u.ledger.Transfer(tokenA, u.cfg.Address, u.cfg.Beneficiary, surplus); err != nil {
			return nil, fail(StateDistributing, err)
		}
	}
	if native {
		if err := u.unwrap(tx.From, amountIn); err != nil {
			return nil, fail(StateDistributing, err)
		}
	}
	return &Result{
		Profit:   surplus,
		Premium:  u.cur.premium,
		AmountIn: new(big.Int).Set(amountIn),
	}, nil
}

// wrap moves value native coin from caller into the wrapped token contract
// and credits the unit with the same amount of wrapped token.
func (u *Unit) wrap(from common.Address, value *big.Int) error {
	if err := u.ledger.Transfer(domain.NativeAsset, from, u.cfg.Address, value); err != nil {
		return fmt.Errorf("unit: attach value: %w", err)
	}
	if err := u.ledger.Transfer(domain.NativeAsset, u.cfg.Address, u.cfg.WrappedNative, value); err != nil {
		return fmt.Errorf("unit: wrap: %w", err)
	}
	return u.ledger.Mint(u.cfg.WrappedNative, u.cfg.Address, value)
}

func (u *Unit) unwrap(to common.Address, value *big.Int) error {
	if err := u.ledger.Burn(u.cfg.WrappedNative, u.cfg.Address, value); err != nil {
		return fmt.Errorf("unit: unwrap: %w", err)
	}
	return u.ledger.Transfer(domain.NativeAsset, u.cfg.WrappedNative, to, value)
}

// OnLoanReceived implements Borrower. It only accepts the loan requested by
// the attempt in progress.
func (u *Unit) OnLoanReceived(ctx context.Context, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error) {
	f := u.cur
	if f == nil || !u.locked.Load() || initiator != u.cfg.Address || asset != f.tokenA {
		return false, fail(StateLoanReceived, fmt.Errorf("%w: unexpected loan callback", domain.ErrUnauthorized))
	}
	u.step(StateLoanReceived)

	received := new(big.Int).Sub(u.ledger.BalanceOf(asset, u.cfg.Address), f.preLoan)
	if received.Cmp(f.amount) < 0 || amount.Cmp(f.amount) < 0 {
		return false, fail(StateLoanReceived, fmt.Errorf("%w: got %s, want %s", domain.ErrLoanShortfall, received, f.amount))
	}
	f.premium = new(big.Int).Set(premium)

	route, err := DecodeRoute(params)
	if err != nil {
		return false, fail(StateLoanReceived, err)
	}

	required := u.required(f, premium)

	u.step(StateSimulating)
	simulated, err := u.simulate(ctx, route, amount, f.params)
	if err != nil {
		return false, fail(StateSimulating, err)
	}
	if simulated.Cmp(required) < 0 {
		return false, fail(StateSimulating, fmt.Errorf("%w: simulated %s < required %s", domain.ErrSimulationNegative, simulated, required))
	}

	u.step(StateSwapping)
	if err := u.swapRoute(ctx, route, amount, f.params); err != nil {
		return false, fail(StateSwapping, err)
	}

	u.step(StateRepaying)
	final := new(big.Int).Sub(u.ledger.BalanceOf(asset, u.cfg.Address), f.preLoan)
	owed := new(big.Int).Add(amount, premium)
	if final.Cmp(owed) < 0 {
		return false, fail(StateRepaying, fmt.Errorf("%w: holding %s, owe %s", domain.ErrRepaymentShortfall, final, owed))
	}
	if final.Cmp(required) < 0 {
		return false, fail(StateRepaying, fmt.Errorf("%w: holding %s, need %s", domain.ErrProfitBelowMinimum, final, required))
	}
	return true, nil
}

// required is loan + premium + the minimum profit floor.
func (u *Unit) required(f *flight, premium *big.Int) *big.Int {
	floor := new(big.Int).Mul(f.amount, big.NewInt(f.params.MinProfitBps))
	floor.Quo(floor, big.NewInt(bpsDenominator))
	out := new(big.Int).Add(f.amount, premium)
	return out.Add(out, floor)
}

// simulate prices the route with live quotes and returns the input-token
// amount it would end with.
func (u *Unit) simulate(ctx context.Context, route domain.Route, amount *big.Int, p Params) (*big.Int, error) {
	cur := amount
	for i, id := range route.Venues {
		v, err := u.activeVenue(id)
		if err != nil {
			return nil, err
		}
		in, out := route.Path[i], route.Path[i+1]
		quoted, err := v.Quote(ctx, in, out, cur)
		if err != nil {
			return nil, fmt.Errorf("%w: hop %d quote on %s: %v", domain.ErrSimulationNegative, i, id, err)
		}
		if err := checkReserves(ctx, v, in, out, quoted, p.MinReserveRatioBps); err != nil {
			return nil, fmt.Errorf("%w: hop %d on %s: %v", domain.ErrSimulationNegative, i, id, err)
		}
		cur = quoted
	}
	if route.IsLoop() {
		return cur, nil
	}

	last, first := route.Path[len(route.Path)-1], route.Path[0]
	_, back, err := venue.BestQuote(ctx, u.activeVenues(), last, first, cur)
	if err != nil {
		return nil, fmt.Errorf("%w: return leg: %v", domain.ErrSimulationNegative, err)
	}
	return back, nil
}

func checkReserves(ctx context.Context, v venue.Venue, in, out common.Address, expected *big.Int, ratioBps int64) error {
	if ratioBps <= 0 {
		return nil
	}
	rr, ok := v.(venue.ReserveReader)
	if !ok {
		return nil
	}
	_, reserveOut, err := rr.Reserves(ctx, in, out)
	if err != nil {
		return err
	}
	need := new(big.Int).Mul(expected, big.NewInt(ratioBps))
	have := new(big.Int).Mul(reserveOut, big.NewInt(bpsDenominator))
	if have.Cmp(need) < 0 {
		return fmt.Errorf("reserve %s too shallow for %s", reserveOut, expected)
	}
	return nil
}

// swapRoute executes every hop, then the return leg for open paths.
func (u *Unit) swapRoute(ctx context.Context, route domain.Route, amount *big.Int, p Params) error {
	cur := amount
	for i, id := range route.Venues {
		v, err := u.activeVenue(id)
		if err != nil {
			return fmt.Errorf("%w: hop %d: %v", domain.ErrSwapFailed, i, err)
		}
		cur, err = u.swapHop(ctx, v, route.Path[i], route.Path[i+1], cur, p.SlippageBps)
		if err != nil {
			return fmt.Errorf("%w: hop %d on %s: %v", domain.ErrSwapFailed, i, id, err)
		}
	}
	if route.IsLoop() {
		return nil
	}

	last, first := route.Path[len(route.Path)-1], route.Path[0]
	best, _, err := venue.BestQuote(ctx, u.activeVenues(), last, first, cur)
	if err != nil {
		return fmt.Errorf("%w: return leg: %v", domain.ErrSwapFailed, err)
	}
	if _, err := u.swapHop(ctx, best, last, first, cur, p.SlippageBps); err != nil {
		return fmt.Errorf("%w: return leg on %s: %v", domain.ErrSwapFailed, best.ID(), err)
	}
	return nil
}

// swapHop re-quotes the hop, swaps with a slippage floor and returns the
// amount actually received, measured from the unit's balance.
func (u *Unit) swapHop(ctx context.Context, v venue.Venue, in, out common.Address, amount *big.Int, slippageBps int64) (*big.Int, error) {
	expected, err := v.Quote(ctx, in, out, amount)
	if err != nil {
		return nil, err
	}
	floor := new(big.Int).Mul(expected, big.NewInt(bpsDenominator-slippageBps))
	floor.Quo(floor, big.NewInt(bpsDenominator))

	before := u.ledger.BalanceOf(out, u.cfg.Address)
	if _, err := v.Swap(ctx, venue.SwapRequest{
		Payer:     u.cfg.Address,
		Recipient: u.cfg.Address,
		TokenIn:   in,
		TokenOut:  out,
		AmountIn:  amount,
		MinOut:    floor,
	}); err != nil {
		return nil, err
	}
	realized := new(big.Int).Sub(u.ledger.BalanceOf(out, u.cfg.Address), before)
	if realized.Cmp(floor) < 0 {
		return nil, fmt.Errorf("%w: received %s, floor %s", domain.ErrSlippage, realized, floor)
	}
	return realized, nil
}

func (u *Unit) activeVenue(id domain.VenueID) (venue.Venue, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	e, ok := u.venues[id]
	if !ok {
		return nil, fmt.Errorf("%w: venue %s not registered", domain.ErrInvalidRoute, id)
	}
	if !e.active {
		return nil, fmt.Errorf("%w: venue %s inactive", domain.ErrInvalidRoute, id)
	}
	return e.venue, nil
}

// activeVenues returns the active venues in registration order.
func (u *Unit) activeVenues() []venue.Venue {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]venue.Venue, 0, len(u.order))
	for _, id := range u.order {
		if e := u.venues[id]; e.active {
			out = append(out, e.venue)
		}
	}
	return out
}

var _ Borrower = (*Unit)(nil)
