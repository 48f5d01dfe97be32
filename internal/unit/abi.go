package unit

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ABIJSON is the interface of the deployed execution unit contract. The
// in-process Unit encodes its loan callback parameters with the same route
// tuple, so both sides agree on the wire format.
const ABIJSON = `[
	{"type":"function","name":"executeArbitrage","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"tokenA","type":"address"},
		{"name":"tokenB","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"route","type":"tuple","components":[
			{"name":"path","type":"address[]"},
			{"name":"venues","type":"string[]"},
			{"name":"expectedProfit","type":"uint256"},
			{"name":"timestamp","type":"uint256"}]}],
	 "outputs":[]},
	{"type":"function","name":"executeArbitrageWithNativeAsset","stateMutability":"payable",
	 "inputs":[
		{"name":"tokenB","type":"address"},
		{"name":"route","type":"tuple","components":[
			{"name":"path","type":"address[]"},
			{"name":"venues","type":"string[]"},
			{"name":"expectedProfit","type":"uint256"},
			{"name":"timestamp","type":"uint256"}]}],
	 "outputs":[]},
	{"type":"function","name":"setPaused","stateMutability":"nonpayable",
	 "inputs":[{"name":"paused","type":"bool"}],"outputs":[]},
	{"type":"event","name":"ArbitrageExecuted","anonymous":false,"inputs":[
		{"name":"tokenA","type":"address","indexed":true},
		{"name":"tokenB","type":"address","indexed":true},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"profit","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"ArbitrageFailed","anonymous":false,"inputs":[
		{"name":"tokenA","type":"address","indexed":true},
		{"name":"tokenB","type":"address","indexed":true},
		{"name":"reason","type":"string","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"VenueAdded","anonymous":false,"inputs":[
		{"name":"id","type":"string","indexed":false}]},
	{"type":"event","name":"VenueStatusChanged","anonymous":false,"inputs":[
		{"name":"id","type":"string","indexed":false},
		{"name":"active","type":"bool","indexed":false}]}
]`

// ABI is the parsed unit contract interface.
var ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ABIJSON))
	if err != nil {
		panic("unit: parse abi: " + err.Error())
	}
	return parsed
}()

// abiRoute mirrors the route tuple.
type abiRoute struct {
	Path           []common.Address
	Venues         []string
	ExpectedProfit *big.Int
	Timestamp      *big.Int
}

func toABIRoute(r domain.Route) abiRoute {
	venues := make([]string, len(r.Venues))
	for i, v := range r.Venues {
		venues[i] = string(v)
	}
	expected := r.ExpectedProfit
	if expected == nil || expected.Sign() < 0 {
		expected = new(big.Int)
	}
	ts := new(big.Int)
	if !r.CreatedAt.IsZero() && r.CreatedAt.Unix() > 0 {
		ts.SetInt64(r.CreatedAt.Unix())
	}
	return abiRoute{
		Path:           r.Path,
		Venues:         venues,
		ExpectedProfit: expected,
		Timestamp:      ts,
	}
}

func routeArguments() abi.Arguments {
	return abi.Arguments{{Name: "route", Type: ABI.Methods["executeArbitrage"].Inputs[3].Type}}
}

// EncodeRoute ABI-encodes a route as the standalone route tuple.
func EncodeRoute(r domain.Route) ([]byte, error) {
	data, err := routeArguments().Pack(toABIRoute(r))
	if err != nil {
		return nil, fmt.Errorf("unit: encode route: %w", err)
	}
	return data, nil
}

// DecodeRoute reverses EncodeRoute. CreatedAt has second precision.
func DecodeRoute(data []byte) (domain.Route, error) {
	out, err := routeArguments().Unpack(data)
	if err != nil {
		return domain.Route{}, fmt.Errorf("unit: decode route: %w", err)
	}
	if len(out) != 1 {
		return domain.Route{}, fmt.Errorf("unit: decode route: %d values", len(out))
	}
	raw := *abi.ConvertType(out[0], new(abiRoute)).(*abiRoute)

	venues := make([]domain.VenueID, len(raw.Venues))
	for i, v := range raw.Venues {
		venues[i] = domain.VenueID(v)
	}
	return domain.Route{
		Path:           raw.Path,
		Venues:         venues,
		ExpectedProfit: raw.ExpectedProfit,
		CreatedAt:      time.Unix(raw.Timestamp.Int64(), 0),
	}, nil
}

// PackExecuteArbitrage builds calldata for executeArbitrage.
func PackExecuteArbitrage(tokenA, tokenB common.Address, amountIn *big.Int, r domain.Route) ([]byte, error) {
	data, err := ABI.Pack("executeArbitrage", tokenA, tokenB, amountIn, toABIRoute(r))
	if err != nil {
		return nil, fmt.Errorf("unit: pack executeArbitrage: %w", err)
	}
	return data, nil
}

// PackExecuteWithNative builds calldata for executeArbitrageWithNativeAsset.
// The input amount travels as the transaction value.
func PackExecuteWithNative(tokenB common.Address, r domain.Route) ([]byte, error) {
	data, err := ABI.Pack("executeArbitrageWithNativeAsset", tokenB, toABIRoute(r))
	if err != nil {
		return nil, fmt.Errorf("unit: pack executeArbitrageWithNativeAsset: %w", err)
	}
	return data, nil
}

// LogOutcome is the terminal event found in a receipt.
type LogOutcome struct {
	Found   bool
	Success bool
	Profit  *big.Int
	Reason  string
}

// ParseLogs scans receipt logs emitted by the unit at address for the
// terminal ArbitrageExecuted / ArbitrageFailed event.
func ParseLogs(address common.Address, logs []*types.Log) (LogOutcome, error) {
	executed := ABI.Events["ArbitrageExecuted"]
	failed := ABI.Events["ArbitrageFailed"]

	for _, lg := range logs {
		if lg == nil || lg.Address != address || len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case executed.ID:
			var ev struct {
				AmountIn  *big.Int
				Profit    *big.Int
				Timestamp *big.Int
			}
			if err := ABI.UnpackIntoInterface(&ev, executed.Name, lg.Data); err != nil {
				return LogOutcome{}, fmt.Errorf("unit: unpack %s: %w", executed.Name, err)
			}
			return LogOutcome{Found: true, Success: true, Profit: ev.Profit}, nil
		case failed.ID:
			var ev struct {
				Reason    string
				Timestamp *big.Int
			}
			if err := ABI.UnpackIntoInterface(&ev, failed.Name, lg.Data); err != nil {
				return LogOutcome{}, fmt.Errorf("unit: unpack %s: %w", failed.Name, err)
			}
			return LogOutcome{Found: true, Reason: ev.Reason, Profit: new(big.Int)}, nil
		}
	}
	return LogOutcome{}, nil
}
