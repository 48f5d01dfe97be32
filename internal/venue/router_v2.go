package venue

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ContractCaller is the read-only slice of ethclient.Client the remote
// venues need.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RouterV2 quotes a UniswapV2-style deployment through its router
// (getAmountsOut) and factory (getPair). Swaps on remote venues are executed
// by the deployed unit contract, so RouterV2 only implements Quoter.
type RouterV2 struct {
	id      domain.VenueID
	router  common.Address
	factory common.Address
	caller  ContractCaller
}

// NewRouterV2 creates a quoter for the router/factory pair.
func NewRouterV2(id domain.VenueID, router, factory common.Address, caller ContractCaller) *RouterV2 {
	return &RouterV2{id: id, router: router, factory: factory, caller: caller}
}

// ID implements Quoter.
func (r *RouterV2) ID() domain.VenueID { return r.id }

// Router returns the router address the unit contract swaps through.
func (r *RouterV2) Router() common.Address { return r.router }

// Quote implements Quoter.
func (r *RouterV2) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	out, err := call(ctx, r.caller, routerV2ABI, r.router, "getAmountsOut", amountIn, []common.Address{tokenIn, tokenOut})
	if err != nil {
		return nil, unavailable(r.id, "getAmountsOut", err)
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, unavailable(r.id, "getAmountsOut", fmt.Errorf("unexpected result %T", out[0]))
	}
	return amounts[len(amounts)-1], nil
}

// Pool implements Quoter.
func (r *RouterV2) Pool(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	out, err := call(ctx, r.caller, factoryV2ABI, r.factory, "getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, unavailable(r.id, "getPair", err)
	}
	pair, _ := out[0].(common.Address)
	if pair == (common.Address{}) {
		return common.Address{}, unavailable(r.id, "getPair", nil)
	}
	return pair, nil
}

// Reserves implements ReserveReader using the pair's getReserves.
func (r *RouterV2) Reserves(ctx context.Context, tokenA, tokenB common.Address) (*big.Int, *big.Int, error) {
	pair, err := r.Pool(ctx, tokenA, tokenB)
	if err != nil {
		return nil, nil, err
	}
	res, err := call(ctx, r.caller, pairV2ABI, pair, "getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("venue %s: getReserves: %w", r.id, err)
	}
	t0, err := call(ctx, r.caller, pairV2ABI, pair, "token0")
	if err != nil {
		return nil, nil, fmt.Errorf("venue %s: token0: %w", r.id, err)
	}
	r0, _ := res[0].(*big.Int)
	r1, _ := res[1].(*big.Int)
	if r0 == nil || r1 == nil {
		return nil, nil, fmt.Errorf("venue %s: getReserves: unexpected result", r.id)
	}
	if token0, _ := t0[0].(common.Address); token0 == tokenA {
		return r0, r1, nil
	}
	return r1, r0, nil
}

// call packs method, runs eth_call against to and unpacks the result.
func call(ctx context.Context, caller ContractCaller, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return out, nil
}

var (
	_ Quoter        = (*RouterV2)(nil)
	_ ReserveReader = (*RouterV2)(nil)
)
