package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ProfitSamples implements domain.ProfitSampleStore.
type ProfitSamples struct {
	db *sql.DB
}

// Append stores one sample.
func (p *ProfitSamples) Append(ctx context.Context, s domain.ProfitSample) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO profit_samples (sampled_at, pair_id, estimated, actual, error_ratio) VALUES (?, ?, ?, ?, ?)`,
		s.Timestamp.UTC().Format(time.RFC3339Nano), s.PairID, s.Estimated, s.Actual, s.ErrorRatio,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append sample: %w", err)
	}
	return nil
}

// LoadRecent returns at most n samples, oldest first.
func (p *ProfitSamples) LoadRecent(ctx context.Context, n int) ([]domain.ProfitSample, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `
SELECT sampled_at, pair_id, estimated, actual, error_ratio FROM (
	SELECT id, sampled_at, pair_id, estimated, actual, error_ratio
	FROM profit_samples ORDER BY id DESC LIMIT ?
) ORDER BY id ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load samples: %w", err)
	}
	defer rows.Close()

	var out []domain.ProfitSample
	for rows.Next() {
		var (
			s  domain.ProfitSample
			ts string
		)
		if err := rows.Scan(&ts, &s.PairID, &s.Estimated, &s.Actual, &s.ErrorRatio); err != nil {
			return nil, fmt.Errorf("sqlite: scan sample: %w", err)
		}
		if s.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("sqlite: parse sample time %q: %w", ts, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: sample rows: %w", err)
	}
	return out, nil
}

// Trim keeps only the newest keep samples.
func (p *ProfitSamples) Trim(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := p.db.ExecContext(ctx, `
DELETE FROM profit_samples WHERE id NOT IN (
	SELECT id FROM profit_samples ORDER BY id DESC LIMIT ?
)`, keep)
	if err != nil {
		return fmt.Errorf("sqlite: trim samples: %w", err)
	}
	return nil
}

var _ domain.ProfitSampleStore = (*ProfitSamples)(nil)
