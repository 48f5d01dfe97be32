package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExecutionStore persists the append-only execution log.
type ExecutionStore interface {
	Append(ctx context.Context, rec ExecutionRecord) error
	CountSince(ctx context.Context, since time.Time) (int, error)
	List(ctx context.Context, opts ListOpts) ([]ExecutionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionRecord, error)
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ProfitSampleStore persists the risk module's rolling sample history.
type ProfitSampleStore interface {
	Append(ctx context.Context, s ProfitSample) error
	// LoadRecent returns at most n samples, oldest first.
	LoadRecent(ctx context.Context, n int) ([]ProfitSample, error)
	// Trim drops everything but the newest keep samples.
	Trim(ctx context.Context, keep int) error
}

// TokenRegistry persists the set of known tokens.
type TokenRegistry interface {
	Load(ctx context.Context) ([]Token, error)
	Save(ctx context.Context, tokens []Token) error
}
