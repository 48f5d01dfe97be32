package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")

	// Unit preconditions.
	ErrPaused          = errors.New("operation paused")
	ErrPairInactive    = errors.New("token pair not active")
	ErrStaleRoute      = errors.New("route expired")
	ErrGasPriceTooHigh = errors.New("gas price too high")
	ErrInvalidRoute    = errors.New("invalid route")
	ErrReentrant       = errors.New("reentrant call")

	// Unit execution.
	ErrLoanShortfall      = errors.New("loan amount not received")
	ErrSimulationNegative = errors.New("simulation negative")
	ErrSwapFailed         = errors.New("swap execution failed")
	ErrRepaymentShortfall = errors.New("repayment shortfall")
	ErrProfitBelowMinimum = errors.New("profit below threshold")
	ErrInsufficientFunds  = errors.New("insufficient balance")

	// Quote gateway.
	ErrVenueUnavailable = errors.New("venue unavailable for pair")
	ErrSlippage         = errors.New("output below minimum")
)
