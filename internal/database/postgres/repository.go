// Package postgres stores the monitor's record streams in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"arbwatch/internal/database"
	"arbwatch/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements database.Repository on a pgx pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

var _ database.Repository = (*PostgresRepository)(nil)

// Connect opens and pings a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tickers (
	id BIGSERIAL PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	observed_at TIMESTAMPTZ NOT NULL,
	exchange VARCHAR(50) NOT NULL,
	instrument VARCHAR(20) NOT NULL,
	best_bid NUMERIC(28, 10) NOT NULL,
	best_ask NUMERIC(28, 10) NOT NULL
);
CREATE TABLE IF NOT EXISTS order_books (
	id BIGSERIAL PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	observed_at TIMESTAMPTZ NOT NULL,
	exchange VARCHAR(50) NOT NULL,
	instrument VARCHAR(20) NOT NULL,
	bids JSONB NOT NULL,
	asks JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS spread_opportunities (
	id BIGSERIAL PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	observed_at TIMESTAMPTZ NOT NULL,
	instrument VARCHAR(20) NOT NULL,
	buy_exchange VARCHAR(50) NOT NULL,
	sell_exchange VARCHAR(50) NOT NULL,
	buy_price NUMERIC(28, 10) NOT NULL,
	sell_price NUMERIC(28, 10) NOT NULL,
	gross_spread NUMERIC(28, 10) NOT NULL,
	net_spread NUMERIC(28, 10) NOT NULL,
	volume NUMERIC(28, 10) NOT NULL
);
CREATE INDEX IF NOT EXISTS spread_opportunities_net_idx ON spread_opportunities (net_spread DESC);
CREATE TABLE IF NOT EXISTS alerts (
	id UUID PRIMARY KEY,
	fired_at TIMESTAMPTZ NOT NULL,
	instrument VARCHAR(20) NOT NULL,
	buy_exchange VARCHAR(50) NOT NULL,
	sell_exchange VARCHAR(50) NOT NULL,
	net_spread NUMERIC(28, 10) NOT NULL,
	volume NUMERIC(28, 10) NOT NULL,
	rule JSONB NOT NULL,
	delivery_outcomes JSONB NOT NULL
);`

// Migrate creates the tables if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LogTicker(ctx context.Context, t model.NormalizedTicker) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO tickers (observed_at, exchange, instrument, best_bid, best_ask) VALUES ($1, $2, $3, $4, $5)`,
		t.Timestamp, t.Exchange, t.Instrument, t.BestBid, t.BestAsk)
	if err != nil {
		return fmt.Errorf("postgres: insert ticker: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LogOrderBook(ctx context.Context, b model.NormalizedOrderBook) error {
	bids, err := json.Marshal(b.Bids)
	if err != nil {
		return fmt.Errorf("postgres: marshal bids: %w", err)
	}
	asks, err := json.Marshal(b.Asks)
	if err != nil {
		return fmt.Errorf("postgres: marshal asks: %w", err)
	}
	_, err = r.Pool.Exec(ctx,
		`INSERT INTO order_books (observed_at, exchange, instrument, bids, asks) VALUES ($1, $2, $3, $4, $5)`,
		b.Timestamp, b.Exchange, b.Instrument, bids, asks)
	if err != nil {
		return fmt.Errorf("postgres: insert order book: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LogOpportunity(ctx context.Context, o model.SpreadOpportunity) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO spread_opportunities
			(observed_at, instrument, buy_exchange, sell_exchange, buy_price, sell_price, gross_spread, net_spread, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.Timestamp, o.Instrument, o.BuyExchange, o.SellExchange,
		o.BuyPrice, o.SellPrice, o.GrossSpread, o.NetSpread, o.Volume)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LogAlert(ctx context.Context, a model.Alert) error {
	rule, err := json.Marshal(a.Rule)
	if err != nil {
		return fmt.Errorf("postgres: marshal rule: %w", err)
	}
	outcomes, err := json.Marshal(a.Outcomes)
	if err != nil {
		return fmt.Errorf("postgres: marshal outcomes: %w", err)
	}
	o := a.Opportunity
	_, err = r.Pool.Exec(ctx, `
		INSERT INTO alerts
			(id, fired_at, instrument, buy_exchange, sell_exchange, net_spread, volume, rule, delivery_outcomes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.FiredAt, o.Instrument, o.BuyExchange, o.SellExchange, o.NetSpread, o.Volume, rule, outcomes)
	if err != nil {
		return fmt.Errorf("postgres: insert alert: %w", err)
	}
	return nil
}

// ListOpportunities returns matching opportunities, best net spread first.
func (r *PostgresRepository) ListOpportunities(ctx context.Context, f database.OpportunityFilter) ([]model.SpreadOpportunity, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.MinNetSpread.Valid {
		add("net_spread >= $%d", f.MinNetSpread.Decimal)
	}
	if f.MinVolume.Valid {
		add("volume >= $%d", f.MinVolume.Decimal)
	}
	if f.BuyExchange != "" {
		add("buy_exchange = $%d", f.BuyExchange)
	}
	if f.SellExchange != "" {
		add("sell_exchange = $%d", f.SellExchange)
	}
	if f.Instrument != "" {
		add("instrument = $%d", f.Instrument)
	}

	query := `SELECT observed_at, instrument, buy_exchange, sell_exchange, buy_price, sell_price, gross_spread, net_spread, volume
		FROM spread_opportunities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY net_spread DESC, observed_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query opportunities: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SpreadOpportunity, error) {
		var o model.SpreadOpportunity
		err := row.Scan(&o.Timestamp, &o.Instrument, &o.BuyExchange, &o.SellExchange,
			&o.BuyPrice, &o.SellPrice, &o.GrossSpread, &o.NetSpread, &o.Volume)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities: %w", err)
	}
	return out, nil
}
