package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// TokenRegistry implements domain.TokenRegistry. Addresses are stored in
// lower-case hex.
type TokenRegistry struct {
	db *sql.DB
}

// Load returns every known token ordered by address.
func (r *TokenRegistry) Load(ctx context.Context) ([]domain.Token, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT address, symbol, decimals FROM tokens ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load tokens: %w", err)
	}
	defer rows.Close()

	var out []domain.Token
	for rows.Next() {
		var (
			addr string
			t    domain.Token
		)
		if err := rows.Scan(&addr, &t.Symbol, &t.Decimals); err != nil {
			return nil, fmt.Errorf("sqlite: scan token: %w", err)
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("sqlite: bad token address %q", addr)
		}
		t.Address = common.HexToAddress(addr)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: token rows: %w", err)
	}
	return out, nil
}

// Save upserts tokens in one transaction. Tokens already stored keep their
// original added_at.
func (r *TokenRegistry) Save(ctx context.Context, tokens []domain.Token) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO tokens (address, symbol, decimals, added_at) VALUES (?, ?, ?, ?)
ON CONFLICT(address) DO UPDATE SET symbol = excluded.symbol, decimals = excluded.decimals`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare token upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, t := range tokens {
		addr := strings.ToLower(t.Address.Hex())
		if _, err := stmt.ExecContext(ctx, addr, t.Symbol, t.Decimals, now); err != nil {
			return fmt.Errorf("sqlite: save token %s: %w", addr, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit tokens: %w", err)
	}
	return nil
}

var _ domain.TokenRegistry = (*TokenRegistry)(nil)
