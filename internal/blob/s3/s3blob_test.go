package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
)

type memBlob struct {
	objects map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{objects: map[string][]byte{}} }

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func TestArchiveExecutionsByMonth(t *testing.T) {
	ctx := context.Background()
	execs := memory.NewExecutionStore()
	audit := memory.NewAuditStore()
	blob := newMemBlob()

	stamps := []time.Time{
		time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 20, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 5, 8, 0, 0, 0, time.UTC),
	}
	for i, ts := range stamps {
		require.NoError(t, execs.Append(ctx, domain.ExecutionRecord{
			ID: fmt.Sprintf("r%d", i), Timestamp: ts, Pair: "a-b", Success: true,
			EstimatedProfit: big.NewInt(10), RealizedProfit: big.NewInt(9),
		}))
	}

	cutoff := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	a := NewArchiver(blob, execs, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchiveExecutions(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	infos, err := blob.List(ctx, "archive/executions/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "archive/executions/2026-08/20261001T000000Z.jsonl", infos[0].Path)
	assert.Equal(t, "archive/executions/2026-09/20261001T000000Z.jsonl", infos[1].Path)

	sc := bufio.NewScanner(bytes.NewReader(blob.objects[infos[1].Path]))
	var ids []string
	for sc.Scan() {
		var rec domain.ExecutionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"r1", "r2"}, ids)

	left, err := execs.CountSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.executions", entries[0].Event)

	n, err = a.ArchiveExecutions(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTokenListFiltersChain(t *testing.T) {
	blob := newMemBlob()
	blob.objects[DefaultTokenListPath] = []byte(`{"name":"default","tokens":[
		{"chainId":1,"address":"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2","symbol":"WETH","decimals":18},
		{"chainId":1,"address":"not-an-address","symbol":"BAD","decimals":18},
		{"chainId":10,"address":"0x4200000000000000000000000000000000000006","symbol":"WETH","decimals":18}
	]}`)

	toks, err := NewTokenList(blob, "", 1).Tokens(context.Background())
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, "WETH", toks[0].Symbol)
	assert.Equal(t, 18, toks[0].Decimals)

	toks, err = NewTokenList(blob, "missing.json", 1).Tokens(context.Background())
	require.NoError(t, err)
	assert.Empty(t, toks)
}

func TestTokenListPrefixMerges(t *testing.T) {
	blob := newMemBlob()
	blob.objects["lists/a.json"] = []byte(`{"tokens":[
		{"chainId":1,"address":"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2","symbol":"WETH","decimals":18}
	]}`)
	blob.objects["lists/b.json"] = []byte(`{"tokens":[
		{"chainId":1,"address":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH-dup","decimals":18},
		{"chainId":1,"address":"0x6B175474E89094C44Da98b954EedeAC495271d0F","symbol":"DAI","decimals":18}
	]}`)
	blob.objects["lists/README"] = []byte("not a list")

	toks, err := NewTokenList(blob, "lists/", 1).Tokens(context.Background())
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, "WETH", toks[0].Symbol)
	assert.Equal(t, "DAI", toks[1].Symbol)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}
