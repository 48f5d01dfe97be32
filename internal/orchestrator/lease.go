package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Lease is a held single-instance lock.
type Lease struct {
	locks  domain.LockManager
	key    string
	ttl    time.Duration
	unlock func()
	logger *slog.Logger
}

// AcquireLease takes the single-instance lease for key. It fails when another
// controller holds it.
func AcquireLease(ctx context.Context, locks domain.LockManager, key string, ttl time.Duration, logger *slog.Logger) (*Lease, error) {
	unlock, err := locks.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: acquire lease %s: %w", key, err)
	}
	logger.InfoContext(ctx, "instance lease acquired", slog.String("key", key), slog.Duration("ttl", ttl))
	return &Lease{locks: locks, key: key, ttl: ttl, unlock: unlock, logger: logger}, nil
}

// Hold renews the lease every ttl/3 until ctx is cancelled, then releases it.
// It returns an error when the lease is lost; the caller should stop trading.
func (l *Lease) Hold(ctx context.Context) error {
	defer l.unlock()

	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := l.locks.Extend(ctx, l.key, l.ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("orchestrator: lease %s lost: %w", l.key, err)
			}
		}
	}
}
