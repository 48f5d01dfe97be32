package venue

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/ledger"
)

var (
	weth   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	trader = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

func TestGetAmountOut(t *testing.T) {
	// 1e6/1e6 pool, 1% of reserves in at 30 bps.
	out := GetAmountOut(big.NewInt(10_000), big.NewInt(1_000_000), big.NewInt(1_000_000), 30)
	assert.Equal(t, int64(9_871), out.Int64())

	assert.Equal(t, int64(0), GetAmountOut(big.NewInt(0), big.NewInt(1), big.NewInt(1), 30).Int64())
}

func TestConstantProductSwapMovesReserves(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	cp := NewConstantProduct("uni", l, 30)
	require.NoError(t, cp.Seed(weth, usdc, big.NewInt(1_000_000), big.NewInt(2_000_000)))
	require.NoError(t, l.Mint(weth, trader, big.NewInt(10_000)))

	quoted, err := cp.Quote(ctx, weth, usdc, big.NewInt(10_000))
	require.NoError(t, err)

	got, err := cp.Swap(ctx, SwapRequest{
		Payer: trader, Recipient: trader,
		TokenIn: weth, TokenOut: usdc,
		AmountIn: big.NewInt(10_000), MinOut: quoted,
	})
	require.NoError(t, err)
	assert.Equal(t, quoted, got)
	assert.Equal(t, quoted, l.BalanceOf(usdc, trader))

	rIn, rOut, err := cp.Reserves(ctx, weth, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(1_010_000), rIn.Int64())
	assert.Equal(t, new(big.Int).Sub(big.NewInt(2_000_000), quoted), rOut)
}

func TestConstantProductSwapRejectsBelowMinOut(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	cp := NewConstantProduct("uni", l, 30)
	require.NoError(t, cp.Seed(weth, usdc, big.NewInt(1_000_000), big.NewInt(1_000_000)))
	require.NoError(t, l.Mint(weth, trader, big.NewInt(10_000)))

	_, err := cp.Swap(ctx, SwapRequest{
		Payer: trader, Recipient: trader,
		TokenIn: weth, TokenOut: usdc,
		AmountIn: big.NewInt(10_000), MinOut: big.NewInt(10_000),
	})
	require.ErrorIs(t, err, domain.ErrSlippage)
	assert.Equal(t, int64(10_000), l.BalanceOf(weth, trader).Int64())
}

func TestConstantProductMissingPoolIsUnavailable(t *testing.T) {
	cp := NewConstantProduct("uni", ledger.New(), 30)
	_, err := cp.Quote(context.Background(), weth, usdc, big.NewInt(1))
	assert.True(t, Unavailable(err))
}

type stubQuoter struct {
	id  domain.VenueID
	out *big.Int
	err error
}

func (s stubQuoter) ID() domain.VenueID { return s.id }
func (s stubQuoter) Quote(context.Context, common.Address, common.Address, *big.Int) (*big.Int, error) {
	return s.out, s.err
}
func (s stubQuoter) Pool(context.Context, common.Address, common.Address) (common.Address, error) {
	return common.Address{}, s.err
}

func TestBestQuoteSkipsUnavailable(t *testing.T) {
	quoters := []Quoter{
		stubQuoter{id: "a", err: domain.ErrVenueUnavailable},
		stubQuoter{id: "b", out: big.NewInt(90)},
		stubQuoter{id: "c", out: big.NewInt(110)},
	}
	best, out, err := BestQuote(context.Background(), quoters, weth, usdc, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, domain.VenueID("c"), best.ID())
	assert.Equal(t, int64(110), out.Int64())

	_, _, err = BestQuote(context.Background(), quoters[:1], weth, usdc, big.NewInt(100))
	assert.True(t, Unavailable(err))
}

// fakeCaller answers eth_call by method selector.
type fakeCaller struct {
	responses map[string][]byte
	err       error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	out, ok := f.responses[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func TestRouterV2Quote(t *testing.T) {
	method := routerV2ABI.Methods["getAmountsOut"]
	encoded, err := method.Outputs.Pack([]*big.Int{big.NewInt(100), big.NewInt(250)})
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string][]byte{string(method.ID): encoded}}
	r := NewRouterV2("sushi", common.HexToAddress("0x01"), common.HexToAddress("0x02"), caller)

	out, err := r.Quote(context.Background(), weth, usdc, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(250), out.Int64())
}

func TestRouterV2PoolZeroAddressIsUnavailable(t *testing.T) {
	method := factoryV2ABI.Methods["getPair"]
	encoded, err := method.Outputs.Pack(common.Address{})
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string][]byte{string(method.ID): encoded}}
	r := NewRouterV2("sushi", common.HexToAddress("0x01"), common.HexToAddress("0x02"), caller)

	_, err = r.Pool(context.Background(), weth, usdc)
	assert.True(t, Unavailable(err))
}

func TestRouterV2RevertIsUnavailable(t *testing.T) {
	r := NewRouterV2("sushi", common.HexToAddress("0x01"), common.HexToAddress("0x02"), &fakeCaller{})
	_, err := r.Quote(context.Background(), weth, usdc, big.NewInt(100))
	assert.True(t, Unavailable(err))
}

func TestConcentratedPicksBestTier(t *testing.T) {
	method := quoterV2ABI.Methods["quoteExactInputSingle"]
	encoded, err := method.Outputs.Pack(big.NewInt(777), big.NewInt(1), uint32(2), big.NewInt(90_000))
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string][]byte{string(method.ID): encoded}}
	c := NewConcentrated("univ3", common.HexToAddress("0x03"), common.HexToAddress("0x04"), []uint32{500, 3000}, caller)

	out, err := c.Quote(context.Background(), weth, usdc, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(777), out.Int64())
}
