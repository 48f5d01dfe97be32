package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func TestTransferMovesBalance(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))
	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(40)))

	assert.Equal(t, int64(60), l.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(40), l.BalanceOf(tokenA, bob).Int64())
}

func TestTransferInsufficient(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(10)))

	err := l.Transfer(tokenA, alice, bob, big.NewInt(11))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(10), l.BalanceOf(tokenA, alice).Int64())
}

func TestRevertToSnapshotUndoesEverything(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))

	snap := l.Snapshot()
	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(30)))
	require.NoError(t, l.Mint(tokenA, bob, big.NewInt(5)))
	require.NoError(t, l.Burn(tokenA, alice, big.NewInt(1)))
	l.RevertToSnapshot(snap)

	assert.Equal(t, int64(100), l.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(tokenA, bob).Int64())
}

func TestNestedSnapshots(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))

	outer := l.Snapshot()
	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(10)))
	inner := l.Snapshot()
	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(20)))
	l.RevertToSnapshot(inner)

	assert.Equal(t, int64(10), l.BalanceOf(tokenA, bob).Int64())

	l.RevertToSnapshot(outer)
	assert.Equal(t, int64(0), l.BalanceOf(tokenA, bob).Int64())
	assert.Equal(t, int64(100), l.BalanceOf(tokenA, alice).Int64())
}

func TestReleaseKeepsChanges(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))

	snap := l.Snapshot()
	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(25)))
	l.Release(snap)

	assert.Equal(t, int64(25), l.BalanceOf(tokenA, bob).Int64())
	assert.Empty(t, l.journal)
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(7)))

	b := l.BalanceOf(tokenA, alice)
	b.SetInt64(1000)
	assert.Equal(t, int64(7), l.BalanceOf(tokenA, alice).Int64())
}
