// Package memory holds in-process implementations of the store interfaces,
// used in paper mode and whenever no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionStore is an append-only in-memory execution log.
type ExecutionStore struct {
	mu   sync.RWMutex
	recs []domain.ExecutionRecord
}

// NewExecutionStore returns an empty store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{}
}

func (s *ExecutionStore) Append(_ context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *ExecutionStore) CountSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.recs {
		if !r.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// List returns records newest first.
func (s *ExecutionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	out := make([]domain.ExecutionRecord, 0, len(s.recs))
	for _, r := range s.recs {
		if opts.Since != nil && r.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, opts), nil
}

// ListBefore returns records older than before, oldest first.
func (s *ExecutionStore) ListBefore(_ context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ExecutionRecord
	for _, r := range s.recs {
		if r.Timestamp.Before(before) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// DeleteBefore drops records older than before.
func (s *ExecutionStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.recs[:0]
	var n int64
	for _, r := range s.recs {
		if r.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.recs = kept
	return n, nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
