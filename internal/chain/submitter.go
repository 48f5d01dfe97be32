// Package chain triggers the deployed execution unit with signed transactions
// sent to the public mempool and reads the outcome back from receipts.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/gas"
	"github.com/alanyoungcy/flasharb/internal/unit"
)

// Client is the slice of ethclient.Client the submitter uses.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSigner signs transactions for the controller account.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// QuoteSource returns the current fee quote.
type QuoteSource interface {
	Quote(ctx context.Context) (domain.GasQuote, error)
}

// Config tunes transaction building.
type Config struct {
	Unit common.Address
	// GasLimit is used as is when set; otherwise the limit is estimated and
	// padded by 20%.
	GasLimit           uint64
	PriorityMultiplier float64
	ReceiptTimeout     time.Duration
	PollInterval       time.Duration
}

// Submitter sends unit calls as public transactions.
type Submitter struct {
	client Client
	signer TxSigner
	fees   QuoteSource
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	nextNonce *uint64
}

// NewSubmitter creates a Submitter.
func NewSubmitter(client Client, signer TxSigner, fees QuoteSource, cfg Config, logger *slog.Logger) *Submitter {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PriorityMultiplier <= 0 {
		cfg.PriorityMultiplier = 1
	}
	return &Submitter{
		client: client,
		signer: signer,
		fees:   fees,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "chain_submitter")),
	}
}

// Mode implements the orchestrator's submitter contract.
func (s *Submitter) Mode() domain.SubmitMode { return domain.ModePublic }

// Calldata packs the unit call for req and returns it with the attached value.
func Calldata(req domain.ExecutionRequest) ([]byte, *big.Int, error) {
	if req.UseNative {
		data, err := unit.PackExecuteWithNative(req.TokenB, req.Route)
		return data, new(big.Int).Set(req.AmountIn), err
	}
	data, err := unit.PackExecuteArbitrage(req.TokenA, req.TokenB, req.AmountIn, req.Route)
	return data, new(big.Int), err
}

// BuildSigned prices, signs and returns the transaction for req without
// sending it. The relay path bundles the result.
func (s *Submitter) BuildSigned(ctx context.Context, req domain.ExecutionRequest) (*types.Transaction, error) {
	data, value, err := Calldata(req)
	if err != nil {
		return nil, err
	}
	quote, err := s.fees.Quote(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: fee quote: %w", err)
	}

	from := s.signer.Address()
	to := s.cfg.Unit
	limit := s.cfg.GasLimit
	if limit == 0 {
		est, err := s.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		if err != nil {
			return nil, fmt.Errorf("chain: estimate gas: %w", err)
		}
		limit = est + est/5
	}

	nonce, err := s.reserveNonce(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(s.txData(quote, nonce, limit, to, value, data))
	signed, err := s.signer.SignTx(tx)
	if err != nil {
		s.ResetNonce()
		return nil, err
	}
	return signed, nil
}

func (s *Submitter) txData(q domain.GasQuote, nonce, limit uint64, to common.Address, value *big.Int, data []byte) types.TxData {
	feeCap := gas.WithMultiplier(q.FeePerGas, s.cfg.PriorityMultiplier)
	if q.Basis == gas.BasisLegacy {
		return &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: feeCap,
			Gas:      limit,
			To:       &to,
			Value:    value,
			Data:     data,
		}
	}
	tip := gas.WithMultiplier(q.PriorityFee, s.cfg.PriorityMultiplier)
	if tip == nil {
		tip = new(big.Int)
	}
	if feeCap.Cmp(tip) < 0 {
		feeCap = new(big.Int).Set(tip)
	}
	return &types.DynamicFeeTx{
		ChainID:   s.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       limit,
		To:        &to,
		Value:     value,
		Data:      data,
	}
}

// reserveNonce hands out consecutive nonces, syncing with the node on first
// use and after any failure.
func (s *Submitter) reserveNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextNonce == nil {
		n, err := s.client.PendingNonceAt(ctx, s.signer.Address())
		if err != nil {
			return 0, fmt.Errorf("chain: pending nonce: %w", err)
		}
		s.nextNonce = &n
	}
	n := *s.nextNonce
	*s.nextNonce = n + 1
	return n, nil
}

// ResetNonce forgets the local nonce so the next build resyncs with the node.
// Call it when a built transaction will never be mined.
func (s *Submitter) ResetNonce() {
	s.mu.Lock()
	s.nextNonce = nil
	s.mu.Unlock()
}

// Submit builds, sends and waits for req. A reverted transaction is a
// successful call with Success=false; the error return is reserved for
// transport problems and timeouts.
func (s *Submitter) Submit(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionOutcome, error) {
	tx, err := s.BuildSigned(ctx, req)
	if err != nil {
		return domain.ExecutionOutcome{}, err
	}
	if err := s.client.SendTransaction(ctx, tx); err != nil {
		s.ResetNonce()
		return domain.ExecutionOutcome{}, fmt.Errorf("chain: send %s: %w", tx.Hash().Hex(), err)
	}
	s.logger.InfoContext(ctx, "transaction sent",
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
		slog.String("fee_cap", tx.GasFeeCap().String()),
	)

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
	defer cancel()
	receipt, err := s.WaitReceipt(waitCtx, tx.Hash())
	if err != nil {
		return domain.ExecutionOutcome{Mode: domain.ModePublic, TxHash: tx.Hash().Hex()}, err
	}
	out, err := s.Outcome(receipt)
	out.Mode = domain.ModePublic
	return out, err
}

// WaitReceipt polls until the receipt is available or ctx ends.
func (s *Submitter) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			s.logger.DebugContext(ctx, "receipt poll failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: wait receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Outcome turns a mined receipt into an execution outcome.
func (s *Submitter) Outcome(r *types.Receipt) (domain.ExecutionOutcome, error) {
	out := domain.ExecutionOutcome{
		TxHash:   r.TxHash.Hex(),
		GasPrice: r.EffectiveGasPrice,
		Realized: new(big.Int),
	}
	if r.BlockNumber != nil {
		out.Block = r.BlockNumber.Uint64()
	}
	if r.Status != types.ReceiptStatusSuccessful {
		out.Reason = "transaction reverted"
		return out, nil
	}
	lo, err := unit.ParseLogs(s.cfg.Unit, r.Logs)
	if err != nil {
		return out, err
	}
	if !lo.Found {
		out.Reason = "no terminal event in receipt"
		return out, nil
	}
	out.Success = lo.Success
	out.Reason = lo.Reason
	if lo.Profit != nil {
		out.Realized = lo.Profit
	}
	return out, nil
}
