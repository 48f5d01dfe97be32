package unit

import (
	"errors"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// State is a step of one execution attempt.
type State string

const (
	StateIdle          State = "idle"
	StateLoanRequested State = "loan_requested"
	StateLoanReceived  State = "loan_received"
	StateSimulating    State = "simulating"
	StateSwapping      State = "swapping"
	StateRepaying      State = "repaying"
	StateDistributing  State = "distributing"
	StateDone          State = "done"
	StateReverted      State = "reverted"
)

// Failure is returned by the execute entry points when an attempt is
// rejected or reverted. Stage is the state the attempt had reached.
type Failure struct {
	Stage State
	Err   error
}

func (f *Failure) Error() string {
	return "unit: " + string(f.Stage) + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Reason is the short reason string recorded in the ArbitrageFailed event.
func (f *Failure) Reason() string {
	return reasonOf(f.Err)
}

var reasons = []error{
	domain.ErrUnauthorized,
	domain.ErrPaused,
	domain.ErrPairInactive,
	domain.ErrStaleRoute,
	domain.ErrGasPriceTooHigh,
	domain.ErrInvalidRoute,
	domain.ErrLoanShortfall,
	domain.ErrSimulationNegative,
	domain.ErrSwapFailed,
	domain.ErrRepaymentShortfall,
	domain.ErrProfitBelowMinimum,
	domain.ErrInsufficientFunds,
}

func reasonOf(err error) string {
	for _, sentinel := range reasons {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func fail(stage State, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Stage: stage, Err: err}
}
