package source

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oddsight/pnl-engine/internal/model"
)

// PostgresSource reads the four ledger views from a mirrored index database.
// Numeric columns are scanned as TEXT for exact decimal/big-integer precision.
// DISTINCT ON in SQL owns the "latest per group" semantics, so pagination is
// applied after deduplication.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource creates a PostgreSQL-backed source.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (s *PostgresSource) LatestPositions(ctx context.Context, f LedgerFilter, offset, limit int) ([]model.LedgerEntry, error) {
	query := `
		SELECT DISTINCT ON (user_address, market_address, token_id)
		       user_address, market_address, token_id,
		       delta_quantity::TEXT, delta_collateral::TEXT,
		       quantity::TEXT, realized_pnl::TEXT,
		       event_type, block_timestamp
		FROM ledger_entries
	`
	var args []any
	argIdx := 1
	clause := " WHERE"
	if f.User != "" {
		query += fmt.Sprintf("%s user_address = $%d", clause, argIdx)
		args = append(args, model.NormalizeAddress(f.User))
		argIdx++
		clause = " AND"
	}
	if f.Market != "" {
		query += fmt.Sprintf("%s market_address = $%d", clause, argIdx)
		args = append(args, model.NormalizeAddress(f.Market))
		argIdx++
		clause = " AND"
	}
	if f.TokenID != nil {
		query += fmt.Sprintf("%s token_id = $%d", clause, argIdx)
		args = append(args, *f.TokenID)
		argIdx++
	}

	query += " ORDER BY user_address, market_address, token_id, block_timestamp DESC"
	query += fmt.Sprintf(" OFFSET $%d LIMIT $%d", argIdx, argIdx+1)
	args = append(args, offset, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latest positions: %w", err)
	}
	return scanLedgerRows(rows)
}

func (s *PostgresSource) Events(ctx context.Context, f EventFilter, offset, limit int) ([]model.LedgerEntry, error) {
	query := `
		SELECT user_address, market_address, token_id,
		       delta_quantity::TEXT, delta_collateral::TEXT,
		       quantity::TEXT, realized_pnl::TEXT,
		       event_type, block_timestamp
		FROM ledger_entries
	`
	var args []any
	argIdx := 1
	clause := " WHERE"
	if f.User != "" {
		query += fmt.Sprintf("%s user_address = $%d", clause, argIdx)
		args = append(args, model.NormalizeAddress(f.User))
		argIdx++
		clause = " AND"
	}
	if f.Market != "" {
		query += fmt.Sprintf("%s market_address = $%d", clause, argIdx)
		args = append(args, model.NormalizeAddress(f.Market))
		argIdx++
		clause = " AND"
	}
	if f.ExcludeFinalize {
		query += fmt.Sprintf("%s event_type != $%d", clause, argIdx)
		args = append(args, string(model.EventFinalize))
		argIdx++
	}

	query += " ORDER BY block_timestamp, id"
	query += fmt.Sprintf(" OFFSET $%d LIMIT $%d", argIdx, argIdx+1)
	args = append(args, offset, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger events: %w", err)
	}
	return scanLedgerRows(rows)
}

func (s *PostgresSource) Claims(ctx context.Context, user string, offset, limit int) ([]model.ClaimRecord, error) {
	query := `
		SELECT user_address, market_address, token_id, amount::TEXT, block_timestamp
		FROM claims
		WHERE amount > 0
	`
	var args []any
	argIdx := 1
	if user != "" {
		query += fmt.Sprintf(" AND user_address = $%d", argIdx)
		args = append(args, model.NormalizeAddress(user))
		argIdx++
	}
	query += " ORDER BY block_timestamp, id"
	query += fmt.Sprintf(" OFFSET $%d LIMIT $%d", argIdx, argIdx+1)
	args = append(args, offset, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}
	defer rows.Close()

	var records []model.ClaimRecord
	for rows.Next() {
		var c model.ClaimRecord
		var amount string
		if err := rows.Scan(&c.User, &c.Market, &c.TokenID, &amount, &c.Timestamp); err != nil {
			return nil, err
		}
		n, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("claim amount %q: not an integer", amount)
		}
		c.Amount = n
		records = append(records, c)
	}
	return records, rows.Err()
}

func (s *PostgresSource) Outcomes(ctx context.Context, f OutcomeFilter, offset, limit int) ([]model.MarketOutcome, error) {
	query := `
		SELECT DISTINCT ON (o.market_address, o.token_id)
		       o.market_address, o.token_id, q.answer,
		       o.price::TEXT, COALESCE(o.payout, 0)::TEXT, o.block_timestamp
		FROM outcome_stats o
		LEFT JOIN questions q ON q.market_address = o.market_address
	`
	var args []any
	argIdx := 1
	clause := " WHERE"
	if f.Market != "" {
		query += fmt.Sprintf("%s o.market_address = $%d", clause, argIdx)
		args = append(args, model.NormalizeAddress(f.Market))
		argIdx++
		clause = " AND"
	}
	if f.OnlyUnresolved {
		query += clause + " q.answer IS NULL"
	}

	query += " ORDER BY o.market_address, o.token_id, o.block_timestamp DESC"
	query += fmt.Sprintf(" OFFSET $%d LIMIT $%d", argIdx, argIdx+1)
	args = append(args, offset, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.MarketOutcome
	for rows.Next() {
		var o model.MarketOutcome
		var price, payout string
		if err := rows.Scan(&o.Market, &o.TokenID, &o.Answer, &price, &payout, &o.Timestamp); err != nil {
			return nil, err
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("outcome price %q: %w", price, err)
		}
		if o.Payout, err = decimal.NewFromString(payout); err != nil {
			return nil, fmt.Errorf("outcome payout %q: %w", payout, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanLedgerRows(rows pgx.Rows) ([]model.LedgerEntry, error) {
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var delta, deltaCollateral, quantity, realized, eventType string
		if err := rows.Scan(&e.User, &e.Market, &e.TokenID, &delta, &deltaCollateral,
			&quantity, &realized, &eventType, &e.Timestamp); err != nil {
			return nil, err
		}

		var err error
		n, ok := new(big.Int).SetString(delta, 10)
		if !ok {
			return nil, fmt.Errorf("ledger delta quantity %q: not an integer", delta)
		}
		e.DeltaQuantity = n
		if e.DeltaCollateral, err = decimal.NewFromString(deltaCollateral); err != nil {
			return nil, fmt.Errorf("ledger delta collateral %q: %w", deltaCollateral, err)
		}
		if e.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("ledger quantity %q: %w", quantity, err)
		}
		if e.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
			return nil, fmt.Errorf("ledger realized pnl %q: %w", realized, err)
		}
		e.Type = model.EventType(eventType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
