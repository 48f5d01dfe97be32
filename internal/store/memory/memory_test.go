package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func TestExecutionStoreCountAndList(t *testing.T) {
	ctx := context.Background()
	s := NewExecutionStore()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, domain.ExecutionRecord{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * 20 * time.Minute),
		}))
	}

	n, err := s.CountSince(ctx, base.Add(40*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := s.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e", list[0].ID)

	list, err = s.List(ctx, domain.ListOpts{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, list)

	old, err := s.ListBefore(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "a", old[0].ID)

	removed, err := s.DeleteBefore(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
	n, _ = s.CountSince(ctx, time.Time{})
	assert.Equal(t, 3, n)
}

func TestCooldownStoreExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewCooldownStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	pair := domain.NewPairKey(common.HexToAddress("0x2"), common.HexToAddress("0x1"))
	_, ok, err := c.Last(ctx, pair)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Touch(ctx, pair, now, time.Minute))
	at, ok, _ := c.Last(ctx, domain.NewPairKey(common.HexToAddress("0x1"), common.HexToAddress("0x2")))
	assert.True(t, ok, "lookup is symmetric")
	assert.True(t, at.Equal(now))

	now = now.Add(time.Minute)
	_, ok, _ = c.Last(ctx, pair)
	assert.False(t, ok)

	require.NoError(t, c.Touch(ctx, pair, now, time.Second))
	now = now.Add(2 * time.Second)
	c.Cleanup()
	assert.Empty(t, c.seen)
}

func TestAuditStoreNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	require.NoError(t, s.Log(ctx, "first", nil))
	require.NoError(t, s.Log(ctx, "second", map[string]any{"k": 1}))

	got, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Event)
	assert.EqualValues(t, 1, got[1].ID)
}

func TestSignalBusPatternsAndStreams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewSignalBus(2)

	all, err := b.Subscribe(ctx, "unit_*")
	require.NoError(t, err)
	exact, err := b.Subscribe(ctx, "risk")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "unit_events", []byte("a")))
	require.NoError(t, b.Publish(ctx, "risk", []byte("b")))

	assert.Equal(t, []byte("a"), <-all)
	assert.Equal(t, []byte("b"), <-exact)
	assert.Empty(t, all)

	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, b.StreamAppend(ctx, "executions", []byte(p)))
	}
	msgs, err := b.StreamRead(ctx, "executions", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("2"), msgs[0].Payload)

	msgs, err = b.StreamRead(ctx, "executions", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("3"), msgs[0].Payload)

	cancel()
	_, open := <-all
	assert.False(t, open)
}
