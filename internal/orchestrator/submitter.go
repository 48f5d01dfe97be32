package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/unit"
)

// Submitter triggers the execution unit through one channel. A returned
// error means the request never reached a terminal state (transport failure,
// timeout); a reverted execution is a nil error with Success=false.
type Submitter interface {
	Mode() domain.SubmitMode
	Submit(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionOutcome, error)
}

// LocalSubmitter calls an in-process unit as its owner.
type LocalSubmitter struct {
	u      *unit.Unit
	caller common.Address
	now    func() time.Time
}

// NewLocalSubmitter wraps u. Calls are made from the unit's owner.
func NewLocalSubmitter(u *unit.Unit) *LocalSubmitter {
	return &LocalSubmitter{u: u, caller: u.Owner(), now: time.Now}
}

func (s *LocalSubmitter) Mode() domain.SubmitMode { return domain.ModeLocal }

func (s *LocalSubmitter) Submit(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionOutcome, error) {
	tx := unit.TxContext{
		From:      s.caller,
		GasPrice:  req.ExpectedGasPrice,
		Timestamp: s.now(),
	}

	var (
		res *unit.Result
		err error
	)
	if req.UseNative {
		tx.Value = new(big.Int).Set(req.AmountIn)
		res, err = s.u.ExecuteArbitrageWithNativeAsset(ctx, tx, req.TokenB, req.Route)
	} else {
		res, err = s.u.ExecuteArbitrage(ctx, tx, req.TokenA, req.TokenB, req.AmountIn, req.Route)
	}

	out := domain.ExecutionOutcome{
		Mode:     domain.ModeLocal,
		GasPrice: req.ExpectedGasPrice,
		Realized: new(big.Int),
	}
	var f *unit.Failure
	switch {
	case err == nil:
		out.Success = true
		out.Realized = res.Profit
		return out, nil
	case errors.As(err, &f):
		out.Reason = f.Reason()
		return out, nil
	default:
		return out, err
	}
}

// UnitPauser pauses the in-process unit from the admin surface.
type UnitPauser struct {
	u *unit.Unit
}

// NewUnitPauser wraps u.
func NewUnitPauser(u *unit.Unit) *UnitPauser {
	return &UnitPauser{u: u}
}

func (p *UnitPauser) SetPaused(_ context.Context, paused bool) error {
	return p.u.SetPaused(p.u.Owner(), paused)
}

// UnitParamUpdater sets the in-process unit's slippage tolerance, keeping
// its other parameters.
type UnitParamUpdater struct {
	u *unit.Unit
}

// NewUnitParamUpdater wraps u.
func NewUnitParamUpdater(u *unit.Unit) *UnitParamUpdater {
	return &UnitParamUpdater{u: u}
}

func (p *UnitParamUpdater) SetSlippage(_ context.Context, bps int64) error {
	params := p.u.Params()
	if params.SlippageBps == bps {
		return nil
	}
	params.SlippageBps = bps
	return p.u.UpdateParams(p.u.Owner(), params)
}

var (
	_ Submitter    = (*LocalSubmitter)(nil)
	_ Pauser       = (*UnitPauser)(nil)
	_ ParamUpdater = (*UnitParamUpdater)(nil)
	_ VenueStatus  = (*unit.Unit)(nil)
)
