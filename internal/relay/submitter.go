package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// TxBuilder builds signed unit transactions and interprets their receipts.
// *chain.Submitter implements it.
type TxBuilder interface {
	BuildSigned(ctx context.Context, req domain.ExecutionRequest) (*types.Transaction, error)
	Outcome(r *types.Receipt) (domain.ExecutionOutcome, error)
	ResetNonce()
}

// SubmitterConfig tunes bundle submission.
type SubmitterConfig struct {
	// Targets is how many consecutive blocks to bid for.
	Targets      int
	BlockTime    time.Duration
	PollInterval time.Duration
}

// Submitter sends unit calls as private bundles to the next Targets blocks.
type Submitter struct {
	clients []*Client
	chain   ChainReader
	builder TxBuilder
	cfg     SubmitterConfig
	logger  *slog.Logger
}

// NewSubmitter creates a bundle Submitter. Each target block is sent to every
// client.
func NewSubmitter(clients []*Client, chain ChainReader, builder TxBuilder, cfg SubmitterConfig, logger *slog.Logger) *Submitter {
	if cfg.Targets <= 0 {
		cfg.Targets = 3
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 12 * time.Second
	}
	return &Submitter{
		clients: clients,
		chain:   chain,
		builder: builder,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "bundle_submitter")),
	}
}

// Mode implements the orchestrator's submitter contract.
func (s *Submitter) Mode() domain.SubmitMode { return domain.ModeBundle }

// Submit bundles req for the next Targets blocks. A bundle that never lands
// is reported as an unsuccessful outcome, not an error.
func (s *Submitter) Submit(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionOutcome, error) {
	tx, err := s.builder.BuildSigned(ctx, req)
	if err != nil {
		return domain.ExecutionOutcome{}, err
	}
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		s.builder.ResetNonce()
		return domain.ExecutionOutcome{}, fmt.Errorf("relay: block number: %w", err)
	}

	status, block, err := s.SubmitTargets(ctx, tx, head)
	if status != Included {
		s.builder.ResetNonce()
		out := domain.ExecutionOutcome{
			Mode:   domain.ModeBundle,
			TxHash: tx.Hash().Hex(),
			Reason: "bundle " + status.String(),
		}
		if err != nil && status == StatusPending {
			return out, err
		}
		return out, nil
	}

	receipt, err := s.chain.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		return domain.ExecutionOutcome{Mode: domain.ModeBundle, TxHash: tx.Hash().Hex(), Block: block},
			fmt.Errorf("relay: receipt for included bundle: %w", err)
	}
	out, err := s.builder.Outcome(receipt)
	out.Mode = domain.ModeBundle
	return out, err
}

type targetResult struct {
	block  uint64
	status Status
	err    error
}

// SubmitTargets sends tx for blocks head+1 .. head+Targets concurrently and
// waits on every handle. The first inclusion cancels the rest. When nothing
// lands the most informative status wins: passed beats not-mined beats
// pending.
func (s *Submitter) SubmitTargets(ctx context.Context, tx *types.Transaction, head uint64) (Status, uint64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan targetResult, s.cfg.Targets)
	for i := 0; i < s.cfg.Targets; i++ {
		block := head + 1 + uint64(i)
		window := time.Duration(i+2) * s.cfg.BlockTime
		go func() {
			status, err := s.target(ctx, tx, block, window)
			results <- targetResult{block: block, status: status, err: err}
		}()
	}

	best := StatusPending
	var errs []error
	for i := 0; i < s.cfg.Targets; i++ {
		r := <-results
		if r.status == Included {
			cancel()
			s.logger.InfoContext(ctx, "bundle included",
				slog.String("tx", tx.Hash().Hex()),
				slog.Uint64("block", r.block),
			)
			return Included, r.block, nil
		}
		if r.err != nil && !errors.Is(r.err, context.Canceled) {
			errs = append(errs, r.err)
		}
		if rank(r.status) > rank(best) {
			best = r.status
		}
	}
	if best == StatusPending {
		return best, 0, errors.Join(errs...)
	}
	return best, 0, nil
}

func rank(s Status) int {
	switch s {
	case BlockPassedWithoutInclusion:
		return 2
	case BlockNotMined:
		return 1
	default:
		return 0
	}
}

func (s *Submitter) target(ctx context.Context, tx *types.Transaction, block uint64, window time.Duration) (Status, error) {
	var (
		bundleHash string
		errs       []error
	)
	for _, c := range s.clients {
		h, err := c.SendBundle(ctx, []*types.Transaction{tx}, block)
		if err != nil {
			s.logger.WarnContext(ctx, "send bundle failed",
				slog.String("relay", c.url),
				slog.Uint64("block", block),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		if bundleHash == "" {
			bundleHash = h
		}
	}
	if bundleHash == "" && len(errs) > 0 {
		return StatusPending, errors.Join(errs...)
	}
	// Every relay got the same tx for the same block, so one handle covers
	// them all.
	return NewHandle(s.chain, block, tx.Hash(), bundleHash, window, s.cfg.PollInterval).Wait(ctx)
}
