package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedTx(t *testing.T) (*types.Transaction, *crypto.Signer) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := crypto.NewSigner(key, big.NewInt(1))
	to := common.HexToAddress("0xaa")
	tx, err := s.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID: big.NewInt(1), Nonce: 1, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2), Gas: 21000, To: &to, Value: big.NewInt(0),
	}))
	require.NoError(t, err)
	return tx, s
}

type recordedBundle struct {
	block string
	txs   []string
	sig   string
}

func relayServer(t *testing.T) (*httptest.Server, *[]recordedBundle, *sync.Mutex) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []recordedBundle
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params []bundleParams `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "eth_sendBundle" || len(req.Params) != 1 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen = append(seen, recordedBundle{
			block: req.Params[0].BlockNumber,
			txs:   req.Params[0].Txs,
			sig:   r.Header.Get("X-Flashbots-Signature"),
		})
		mu.Unlock()
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0xbundle"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen, &mu
}

// fakeChain advances one block per BlockNumber call and reports the tx as
// mined in includeAt (0 = never).
type fakeChain struct {
	head      atomic.Uint64
	includeAt uint64
	frozen    bool
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	if c.frozen {
		return c.head.Load(), nil
	}
	return c.head.Add(1), nil
}

func (c *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	if c.includeAt == 0 || c.head.Load() < c.includeAt {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: h, Status: types.ReceiptStatusSuccessful, BlockNumber: new(big.Int).SetUint64(c.includeAt)}, nil
}

func TestSendBundleSignsPayload(t *testing.T) {
	srv, seen, mu := relayServer(t)
	tx, signer := signedTx(t)

	c := NewClient(srv.URL, signer, nil, testLogger())
	hash, err := c.SendBundle(context.Background(), []*types.Transaction{tx}, 0x10)
	require.NoError(t, err)
	assert.Equal(t, "0xbundle", hash)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *seen, 1)
	got := (*seen)[0]
	assert.Equal(t, "0x10", got.block)
	raw, _ := tx.MarshalBinary()
	assert.Equal(t, []string{hexutil.Encode(raw)}, got.txs)
	assert.True(t, strings.HasPrefix(got.sig, signer.Address().Hex()+":0x"))
}

func TestSendBundleRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bundle too old"}}`))
	}))
	defer srv.Close()
	tx, signer := signedTx(t)

	_, err := NewClient(srv.URL, signer, nil, testLogger()).SendBundle(context.Background(), []*types.Transaction{tx}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle too old")

	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()
	_, err = NewClient(limited.URL, signer, nil, testLogger()).SendBundle(context.Background(), []*types.Transaction{tx}, 1)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestHandleResolutions(t *testing.T) {
	hash := common.HexToHash("0x01")
	ctx := context.Background()

	included := &fakeChain{includeAt: 5}
	included.head.Store(3)
	st, err := NewHandle(included, 5, hash, "", time.Second, time.Millisecond).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, Included, st)

	passed := &fakeChain{}
	passed.head.Store(3)
	st, err = NewHandle(passed, 5, hash, "", time.Second, time.Millisecond).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, BlockPassedWithoutInclusion, st)

	stuck := &fakeChain{frozen: true}
	stuck.head.Store(3)
	st, err = NewHandle(stuck, 5, hash, "", 20*time.Millisecond, time.Millisecond).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, BlockNotMined, st)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewHandle(stuck, 5, hash, "", time.Second, time.Millisecond).Wait(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeBuilder struct {
	tx     *types.Transaction
	resets atomic.Int32
}

func (b *fakeBuilder) BuildSigned(context.Context, domain.ExecutionRequest) (*types.Transaction, error) {
	return b.tx, nil
}

func (b *fakeBuilder) Outcome(r *types.Receipt) (domain.ExecutionOutcome, error) {
	return domain.ExecutionOutcome{Success: true, TxHash: r.TxHash.Hex(), Block: r.BlockNumber.Uint64(), Realized: big.NewInt(7)}, nil
}

func (b *fakeBuilder) ResetNonce() { b.resets.Add(1) }

func TestSubmitterIncludedInSecondTarget(t *testing.T) {
	srv, seen, mu := relayServer(t)
	tx, signer := signedTx(t)
	chain := &fakeChain{}
	chain.head.Store(99)
	// Submit reads head 100, targets 101..103; the tx lands in 102.
	chain.includeAt = 102

	builder := &fakeBuilder{tx: tx}
	s := NewSubmitter([]*Client{NewClient(srv.URL, signer, nil, testLogger())}, chain, builder,
		SubmitterConfig{Targets: 3, BlockTime: 50 * time.Millisecond, PollInterval: time.Millisecond}, testLogger())

	out, err := s.Submit(context.Background(), domain.ExecutionRequest{})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, domain.ModeBundle, out.Mode)
	assert.Equal(t, uint64(102), out.Block)
	assert.Zero(t, builder.resets.Load())

	mu.Lock()
	assert.GreaterOrEqual(t, len(*seen), 2)
	mu.Unlock()
}

func TestSubmitterNotIncluded(t *testing.T) {
	srv, _, _ := relayServer(t)
	tx, signer := signedTx(t)
	chain := &fakeChain{}

	builder := &fakeBuilder{tx: tx}
	s := NewSubmitter([]*Client{NewClient(srv.URL, signer, nil, testLogger())}, chain, builder,
		SubmitterConfig{Targets: 2, BlockTime: 50 * time.Millisecond, PollInterval: time.Millisecond}, testLogger())

	out, err := s.Submit(context.Background(), domain.ExecutionRequest{})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "bundle block_passed_without_inclusion", out.Reason)
	assert.EqualValues(t, 1, builder.resets.Load())
}
