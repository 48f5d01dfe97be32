package venue

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const routerV2ABIJSON = `[
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
	 "name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],
	 "stateMutability":"view","type":"function"}
]`

const factoryV2ABIJSON = `[
	{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],
	 "name":"getPair","outputs":[{"name":"pair","type":"address"}],
	 "stateMutability":"view","type":"function"}
]`

const pairV2ABIJSON = `[
	{"inputs":[],"name":"getReserves","outputs":[
		{"name":"reserve0","type":"uint112"},
		{"name":"reserve1","type":"uint112"},
		{"name":"blockTimestampLast","type":"uint32"}],
	 "stateMutability":"view","type":"function"},
	{"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],
	 "stateMutability":"view","type":"function"}
]`

const quoterV2ABIJSON = `[
	{"inputs":[{"components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"fee","type":"uint24"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}],
	  "name":"params","type":"tuple"}],
	 "name":"quoteExactInputSingle",
	 "outputs":[
		{"name":"amountOut","type":"uint256"},
		{"name":"sqrtPriceX96After","type":"uint160"},
		{"name":"initializedTicksCrossed","type":"uint32"},
		{"name":"gasEstimate","type":"uint256"}],
	 "stateMutability":"nonpayable","type":"function"}
]`

const factoryV3ABIJSON = `[
	{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],
	 "name":"getPool","outputs":[{"name":"pool","type":"address"}],
	 "stateMutability":"view","type":"function"}
]`

var (
	routerV2ABI  = mustParseABI(routerV2ABIJSON)
	factoryV2ABI = mustParseABI(factoryV2ABIJSON)
	pairV2ABI    = mustParseABI(pairV2ABIJSON)
	quoterV2ABI  = mustParseABI(quoterV2ABIJSON)
	factoryV3ABI = mustParseABI(factoryV3ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("venue: parse abi: " + err.Error())
	}
	return parsed
}
