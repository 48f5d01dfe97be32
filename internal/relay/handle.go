package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Status is the resolution of one bundle target.
type Status int

const (
	StatusPending Status = iota
	Included
	BlockPassedWithoutInclusion
	BlockNotMined
)

func (s Status) String() string {
	switch s {
	case Included:
		return "included"
	case BlockPassedWithoutInclusion:
		return "block_passed_without_inclusion"
	case BlockNotMined:
		return "block_not_mined"
	default:
		return "pending"
	}
}

// ChainReader is the slice of ethclient.Client used to resolve handles.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Handle is the future for one bundle targeted at one block.
type Handle struct {
	Block      uint64
	TxHash     common.Hash
	BundleHash string

	chain  ChainReader
	window time.Duration
	poll   time.Duration
}

// NewHandle creates a handle that gives up after window.
func NewHandle(chain ChainReader, block uint64, txHash common.Hash, bundleHash string, window, poll time.Duration) *Handle {
	if poll <= 0 {
		poll = time.Second
	}
	return &Handle{
		Block:      block,
		TxHash:     txHash,
		BundleHash: bundleHash,
		chain:      chain,
		window:     window,
		poll:       poll,
	}
}

// Wait blocks until the target block is mined or the window expires. It
// returns Included when the transaction landed in the target block,
// BlockPassedWithoutInclusion when the block was mined without it, and
// BlockNotMined when the window ran out first. A cancelled ctx returns its
// error.
func (h *Handle) Wait(ctx context.Context) (Status, error) {
	deadline := time.NewTimer(h.window)
	defer deadline.Stop()
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		status, err := h.check(ctx)
		if err != nil && ctx.Err() != nil {
			return StatusPending, ctx.Err()
		}
		if status != StatusPending {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return StatusPending, ctx.Err()
		case <-deadline.C:
			return BlockNotMined, nil
		case <-ticker.C:
		}
	}
}

func (h *Handle) check(ctx context.Context) (Status, error) {
	head, err := h.chain.BlockNumber(ctx)
	if err != nil {
		return StatusPending, fmt.Errorf("relay: block number: %w", err)
	}
	if head < h.Block {
		return StatusPending, nil
	}

	receipt, err := h.chain.TransactionReceipt(ctx, h.TxHash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return BlockPassedWithoutInclusion, nil
	case err != nil:
		return StatusPending, fmt.Errorf("relay: receipt: %w", err)
	}
	if receipt.BlockNumber != nil && receipt.BlockNumber.Cmp(new(big.Int).SetUint64(h.Block)) == 0 {
		return Included, nil
	}
	return BlockPassedWithoutInclusion, nil
}
