// Package gas produces the per-cycle fee quote the simulator and submitters
// price transactions with.
package gas

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	BasisEIP1559 = "eip1559"
	BasisLegacy  = "legacy"
)

// Client is the fee-related slice of ethclient.Client.
type Client interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Oracle derives a GasQuote from the latest header. On EIP-1559 chains the
// fee is 2*baseFee + tip, which stays valid through several full blocks;
// elsewhere it falls back to eth_gasPrice.
type Oracle struct {
	client Client
	logger *slog.Logger
	now    func() time.Time
}

// NewOracle creates an Oracle.
func NewOracle(client Client, logger *slog.Logger) *Oracle {
	return &Oracle{
		client: client,
		logger: logger.With(slog.String("component", "gas_oracle")),
		now:    time.Now,
	}
}

// Quote fetches a fresh fee quote.
func (o *Oracle) Quote(ctx context.Context) (domain.GasQuote, error) {
	head, err := o.client.HeaderByNumber(ctx, nil)
	if err == nil && head.BaseFee != nil {
		tip, err := o.client.SuggestGasTipCap(ctx)
		if err != nil {
			return domain.GasQuote{}, fmt.Errorf("gas: suggest tip: %w", err)
		}
		fee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		fee.Add(fee, tip)
		return domain.GasQuote{
			FeePerGas:   fee,
			PriorityFee: tip,
			Basis:       BasisEIP1559,
			FetchedAt:   o.now(),
		}, nil
	}
	if err != nil {
		o.logger.DebugContext(ctx, "header fetch failed, using legacy gas price", slog.String("error", err.Error()))
	}

	price, err := o.client.SuggestGasPrice(ctx)
	if err != nil {
		return domain.GasQuote{}, fmt.Errorf("gas: suggest price: %w", err)
	}
	return domain.GasQuote{
		FeePerGas:   price,
		PriorityFee: new(big.Int),
		Basis:       BasisLegacy,
		FetchedAt:   o.now(),
	}, nil
}

// WithMultiplier scales a fee by m (e.g. 1.2 for a 20% priority bump). Values
// of m <= 0 return a copy of fee.
func WithMultiplier(fee *big.Int, m float64) *big.Int {
	if fee == nil {
		return nil
	}
	if m <= 0 {
		return new(big.Int).Set(fee)
	}
	return decimal.NewFromBigInt(fee, 0).Mul(decimal.NewFromFloat(m)).Ceil().BigInt()
}

// Cost returns the native cost of gasLimit at the quoted fee.
func Cost(q domain.GasQuote, gasLimit uint64) *big.Int {
	if q.FeePerGas == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(q.FeePerGas, new(big.Int).SetUint64(gasLimit))
}

// Fixed always returns the same fee. Paper mode prices gas with it.
type Fixed struct {
	fee *big.Int
	now func() time.Time
}

// NewFixed creates a Fixed source quoting fee per gas.
func NewFixed(fee *big.Int) *Fixed {
	return &Fixed{fee: new(big.Int).Set(fee), now: time.Now}
}

// Quote implements the orchestrator's gas source.
func (f *Fixed) Quote(context.Context) (domain.GasQuote, error) {
	return domain.GasQuote{
		FeePerGas:   new(big.Int).Set(f.fee),
		PriorityFee: new(big.Int),
		Basis:       BasisLegacy,
		FetchedAt:   f.now(),
	}, nil
}
