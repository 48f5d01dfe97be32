package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type cooldownEntry struct {
	at      time.Time
	expires time.Time
}

// CooldownStore remembers the last execution per pair until its ttl runs out.
// It is safe for concurrent use.
type CooldownStore struct {
	mu   sync.Mutex
	seen map[domain.PairKey]cooldownEntry
	now  func() time.Time
}

// NewCooldownStore returns an empty store.
func NewCooldownStore() *CooldownStore {
	return &CooldownStore{
		seen: make(map[domain.PairKey]cooldownEntry),
		now:  time.Now,
	}
}

func (c *CooldownStore) Touch(_ context.Context, pair domain.PairKey, at time.Time, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[pair] = cooldownEntry{at: at, expires: c.now().Add(ttl)}
	return nil
}

func (c *CooldownStore) Last(_ context.Context, pair domain.PairKey) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.seen[pair]
	if !ok {
		return time.Time{}, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.seen, pair)
		return time.Time{}, false, nil
	}
	return e.at, true, nil
}

// Cleanup removes expired entries. Call it periodically to bound memory.
func (c *CooldownStore) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.seen {
		if !now.Before(e.expires) {
			delete(c.seen, k)
		}
	}
}

var _ domain.CooldownStore = (*CooldownStore)(nil)
