package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/exchange-engine/internal/model"
	"github.com/atmx/exchange-engine/internal/settlement"
)

// Schema creates the journal tables. Prices are NUMERIC for exact decimal
// precision; resolutions are kept whole as JSONB.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	game_id     TEXT NOT NULL,
	market_id   TEXT NOT NULL,
	buyer_id    TEXT NOT NULL,
	seller_id   TEXT NOT NULL,
	price       NUMERIC NOT NULL,
	quantity    BIGINT NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_game_market ON trades (game_id, market_id);
CREATE TABLE IF NOT EXISTS resolutions (
	seq         BIGSERIAL PRIMARY KEY,
	game_id     TEXT NOT NULL,
	resolved_at TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL
);`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema. It is safe to run on every start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate journal schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTrades(ctx context.Context, gameID string, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(
			`INSERT INTO trades (id, game_id, market_id, buyer_id, seller_id, price, quantity, executed_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)`,
			t.ID, gameID, t.MarketID, t.BuyerID, t.SellerID, t.Price.String(), t.Quantity, t.Timestamp,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert %d trades: %w", len(trades), err)
	}
	return nil
}

func (s *PostgresStore) TradesByMarket(ctx context.Context, gameID, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, buyer_id, seller_id, price::TEXT, quantity, executed_at
		 FROM trades WHERE game_id = $1 AND market_id = $2 ORDER BY seq`, gameID, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradesByUser(ctx context.Context, gameID, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, buyer_id, seller_id, price::TEXT, quantity, executed_at
		 FROM trades WHERE game_id = $1 AND (buyer_id = $2 OR seller_id = $2) ORDER BY seq`, gameID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) SaveResolution(ctx context.Context, res *settlement.Resolution) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO resolutions (game_id, resolved_at, payload) VALUES ($1, $2, $3::JSONB)`,
		res.GameID, res.ResolvedAt, string(payload),
	)
	return err
}

func (s *PostgresStore) LatestResolution(ctx context.Context) (*settlement.Resolution, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload::TEXT FROM resolutions ORDER BY seq DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoResolution
	}
	if err != nil {
		return nil, fmt.Errorf("latest resolution: %w", err)
	}
	var res settlement.Resolution
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode resolution: %w", err)
	}
	return &res, nil
}

// pgxRows is the subset of pgx.Rows read by scanTrades.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var priceS string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.BuyerID, &t.SellerID, &priceS, &t.Quantity, &t.Timestamp); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceS)
		if err != nil {
			return nil, fmt.Errorf("trade %s price %q: %w", t.ID, priceS, err)
		}
		t.Price = price
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
