package unit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/ledger"
)

// Borrower receives a flash loan. OnLoanReceived runs while the funds are
// held and must leave at least amount+premium approved for the lender.
type Borrower interface {
	Address() common.Address
	OnLoanReceived(ctx context.Context, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error)
}

// Lender issues single-asset flash loans.
type Lender interface {
	Address() common.Address
	Premium(amount *big.Int) *big.Int
	Borrow(ctx context.Context, receiver Borrower, asset common.Address, amount *big.Int, params []byte, referral uint16) error
}

// LendingPool is an in-process flash lender backed by the shared ledger. It
// mirrors the Aave V3 flashLoanSimple contract: transfer, callback, pull
// amount plus premium back.
type LendingPool struct {
	address    common.Address
	ledger     *ledger.Ledger
	premiumBps int64
}

// NewLendingPool creates a pool holding its liquidity at address.
func NewLendingPool(address common.Address, l *ledger.Ledger, premiumBps int64) *LendingPool {
	return &LendingPool{address: address, ledger: l, premiumBps: premiumBps}
}

// Address implements Lender.
func (p *LendingPool) Address() common.Address { return p.address }

// Premium implements Lender.
func (p *LendingPool) Premium(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(p.premiumBps))
	return fee.Quo(fee, big.NewInt(bpsDenominator))
}

// Liquidity returns what the pool can lend of asset.
func (p *LendingPool) Liquidity(asset common.Address) *big.Int {
	return p.ledger.BalanceOf(asset, p.address)
}

// Borrow implements Lender.
func (p *LendingPool) Borrow(ctx context.Context, receiver Borrower, asset common.Address, amount *big.Int, params []byte, _ uint16) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("lender: zero loan")
	}
	premium := p.Premium(amount)

	if err := p.ledger.Transfer(asset, p.address, receiver.Address(), amount); err != nil {
		return fmt.Errorf("lender: fund loan: %w", err)
	}

	ok, err := receiver.OnLoanReceived(ctx, asset, amount, premium, receiver.Address(), params)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lender: %w: callback declined", domain.ErrRepaymentShortfall)
	}

	owed := new(big.Int).Add(amount, premium)
	if err := p.ledger.Transfer(asset, receiver.Address(), p.address, owed); err != nil {
		return fmt.Errorf("lender: %w: %v", domain.ErrRepaymentShortfall, err)
	}
	return nil
}

var _ Lender = (*LendingPool)(nil)
