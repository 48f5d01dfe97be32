package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// CooldownStore implements domain.CooldownStore with one expiring key per
// pair, so cooldowns survive restarts and are shared between instances.
type CooldownStore struct {
	c *Client
}

// NewCooldownStore creates a CooldownStore backed by c.
func NewCooldownStore(c *Client) *CooldownStore {
	return &CooldownStore{c: c}
}

// Touch records an execution of pair at `at`, kept for ttl.
func (s *CooldownStore) Touch(ctx context.Context, pair domain.PairKey, at time.Time, ttl time.Duration) error {
	key := s.c.Key("cooldown", pair.String())
	if err := s.c.Underlying().Set(ctx, key, strconv.FormatInt(at.UnixNano(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("redis: cooldown touch %s: %w", pair, err)
	}
	return nil
}

// Last returns the most recent touch still inside its ttl.
func (s *CooldownStore) Last(ctx context.Context, pair domain.PairKey) (time.Time, bool, error) {
	raw, err := s.c.Underlying().Get(ctx, s.c.Key("cooldown", pair.String())).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: cooldown get %s: %w", pair, err)
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: cooldown parse %s: %w", pair, err)
	}
	return time.Unix(0, ns), true, nil
}

var _ domain.CooldownStore = (*CooldownStore)(nil)
