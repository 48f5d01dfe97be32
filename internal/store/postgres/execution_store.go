package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. Token amounts are stored as
// NUMERIC(78,0) and moved across the wire as text to keep full precision.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, executed_at, pair, route_summary, mode,
	estimated_profit::text, realized_profit::text, success, reason, tx_hash, gas_price::text`

// Append inserts one record. Records are never updated.
func (s *ExecutionStore) Append(ctx context.Context, rec domain.ExecutionRecord) error {
	const query = `
		INSERT INTO executions (id, executed_at, pair, route_summary, mode,
			estimated_profit, realized_profit, success, reason, tx_hash, gas_price)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8, $9, $10, $11::text::numeric)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Timestamp, rec.Pair, rec.RouteSummary, string(rec.Mode),
		numericText(rec.EstimatedProfit), numericText(rec.RealizedProfit),
		rec.Success, rec.Reason, rec.TxHash, numericText(rec.GasPrice),
	)
	if err != nil {
		return fmt.Errorf("postgres: append execution %s: %w", rec.ID, err)
	}
	return nil
}

// CountSince counts attempts recorded at or after since.
func (s *ExecutionStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM executions WHERE executed_at >= $1`, since,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count executions: %w", err)
	}
	return n, nil
}

// List returns records newest first.
func (s *ExecutionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	query, args := windowQuery(`SELECT `+executionColumns+` FROM executions WHERE 1=1`, "executed_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListBefore returns every record older than before, oldest first. The
// archiver uses it.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE executed_at < $1 ORDER BY executed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	return collectExecutions(rows)
}

// DeleteBefore removes records older than before once they are archived.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectExecutions(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec                          domain.ExecutionRecord
			mode                         string
			estimated, realized, gasText *string
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Pair, &rec.RouteSummary, &mode,
			&estimated, &realized, &rec.Success, &rec.Reason, &rec.TxHash, &gasText); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		rec.Mode = domain.SubmitMode(mode)
		rec.EstimatedProfit = parseNumeric(estimated)
		rec.RealizedProfit = parseNumeric(realized)
		rec.GasPrice = parseNumeric(gasText)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: execution rows: %w", err)
	}
	return out, nil
}

func numericText(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseNumeric(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

// windowQuery appends the ListOpts time window, ordering and paging to base.
func windowQuery(base, column string, opts domain.ListOpts) (string, []any) {
	query := base
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += " AND " + column + " >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND " + column + " <= " + next(*opts.Until)
	}
	query += " ORDER BY " + column + " DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
