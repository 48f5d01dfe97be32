package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SubmitMode is the channel an execution request was sent through.
type SubmitMode string

const (
	ModePublic SubmitMode = "public"
	ModeBundle SubmitMode = "bundle"
	ModeLocal  SubmitMode = "local"
)

// ExecutionRequest is everything a submitter needs to trigger the unit.
type ExecutionRequest struct {
	TokenA   common.Address
	TokenB   common.Address
	AmountIn *big.Int
	Route    Route
	// Estimated is the surplus the unit is expected to pay out, in TokenA
	// units: gross profit less the loan premium, before gas.
	Estimated *big.Int
	// SlippageBps is the calibrated tolerance the unit should apply.
	SlippageBps int64
	// ExpectedGasPrice is the fee per gas the orchestrator priced the
	// candidate with.
	ExpectedGasPrice *big.Int
	// UseNative sends AmountIn as native value through
	// executeArbitrageWithNativeAsset.
	UseNative bool
}

// ExecutionOutcome is what a submitter observed once the request settled.
type ExecutionOutcome struct {
	Mode     SubmitMode
	Success  bool
	Reason   string
	TxHash   string
	Realized *big.Int
	// GasPrice is the effective price paid by the confirmed transaction, when
	// known.
	GasPrice *big.Int
	Block    uint64
}

// ExecutionRecord is the append-only local record of one execution attempt.
type ExecutionRecord struct {
	ID              string     `json:"id"`
	Timestamp       time.Time  `json:"timestamp"`
	Pair            string     `json:"pair"`
	RouteSummary    string     `json:"route_summary"`
	Mode            SubmitMode `json:"mode"`
	// EstimatedProfit and RealizedProfit share a basis: the unit's payout
	// after the loan premium, gas excluded.
	EstimatedProfit *big.Int   `json:"estimated_profit"`
	RealizedProfit  *big.Int   `json:"realized_profit"`
	Success         bool       `json:"success"`
	Reason          string     `json:"reason,omitempty"`
	TxHash          string     `json:"tx_hash,omitempty"`
	GasPrice        *big.Int   `json:"gas_price,omitempty"`
}

// ProfitSample compares an estimate with what was realized for one execution.
type ProfitSample struct {
	Timestamp  time.Time `json:"timestamp"`
	PairID     string    `json:"pair_id"`
	Estimated  float64   `json:"estimated"`
	Actual     float64   `json:"actual"`
	ErrorRatio float64   `json:"error_ratio"`
}

// GasQuote is a transient fee snapshot. It is recomputed every cycle and never
// persisted.
type GasQuote struct {
	FeePerGas   *big.Int  `json:"fee_per_gas"`
	PriorityFee *big.Int  `json:"priority_fee"`
	Basis       string    `json:"basis"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// IsZero reports whether the quote has not been populated yet.
func (q GasQuote) IsZero() bool {
	return q.FeePerGas == nil
}
