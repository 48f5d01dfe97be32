package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest USD prices.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// Extend pushes the lease expiry of a lock the caller still holds.
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// CooldownStore remembers when each pair last executed.
type CooldownStore interface {
	Touch(ctx context.Context, pair PairKey, at time.Time, ttl time.Duration) error
	// Last returns the last touch time; ok is false when none is recorded or
	// the entry expired.
	Last(ctx context.Context, pair PairKey) (at time.Time, ok bool, err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
