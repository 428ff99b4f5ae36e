package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/exchange-engine/internal/model"
	"github.com/atmx/exchange-engine/internal/settlement"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func sampleTrades() []model.Trade {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return []model.Trade{
		{ID: "t1", MarketID: "market_a", BuyerID: "p1", SellerID: "p2", Price: d(50), Quantity: 6, Timestamp: ts},
		{ID: "t2", MarketID: "market_b", BuyerID: "p3", SellerID: "p1", Price: d(12.5), Quantity: 2, Timestamp: ts.Add(time.Second)},
		{ID: "t3", MarketID: "market_a", BuyerID: "p2", SellerID: "p3", Price: d(51), Quantity: 1, Timestamp: ts.Add(2 * time.Second)},
	}
}

func tradeIDs(trades []model.Trade) []string {
	out := make([]string, len(trades))
	for i, t := range trades {
		out[i] = t.ID
	}
	return out
}

func TestMemoryStore_TradesFilteredByGame(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertTrades(ctx, "g1", sampleTrades()))
	require.NoError(t, s.InsertTrades(ctx, "g2", []model.Trade{{ID: "t9", MarketID: "market_a", BuyerID: "p1", SellerID: "p2"}}))

	byMarket, err := s.TradesByMarket(ctx, "g1", "market_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3"}, tradeIDs(byMarket))

	byUser, err := s.TradesByUser(ctx, "g1", "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tradeIDs(byUser))

	other, err := s.TradesByMarket(ctx, "g2", "market_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"t9"}, tradeIDs(other))

	none, err := s.TradesByUser(ctx, "g3", "p1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_LatestResolution(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.LatestResolution(ctx)
	assert.True(t, errors.Is(err, ErrNoResolution))
	assert.True(t, errors.Is(err, model.ErrNotFound))

	require.NoError(t, s.SaveResolution(ctx, &settlement.Resolution{GameID: "g1"}))
	res := &settlement.Resolution{GameID: "g2"}
	require.NoError(t, s.SaveResolution(ctx, res))
	res.GameID = "mutated"

	got, err := s.LatestResolution(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g2", got.GameID)
}

type fakeRows struct {
	rows [][]any
	i    int
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	for i, v := range row {
		switch p := dest[i].(type) {
		case *string:
			*p = v.(string)
		case *int64:
			*p = v.(int64)
		case *time.Time:
			*p = v.(time.Time)
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }

func TestScanTrades(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	trades, err := scanTrades(&fakeRows{rows: [][]any{
		{"t1", "market_a", "p1", "p2", "50.25", int64(3), ts},
	}})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, d(50.25).Equal(trades[0].Price))
	assert.Equal(t, int64(3), trades[0].Quantity)
	assert.Equal(t, ts, trades[0].Timestamp)

	_, err = scanTrades(&fakeRows{rows: [][]any{
		{"t2", "market_a", "p1", "p2", "not-a-number", int64(1), ts},
	}})
	assert.Error(t, err)
}

// unreachableRedis points at a closed port so every cache call fails fast.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachedStore_FallsBackToPrimaryWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	s := NewCachedStore(primary, unreachableRedis(t), time.Minute)

	require.NoError(t, s.InsertTrades(ctx, "g1", sampleTrades()))

	byMarket, err := s.TradesByMarket(ctx, "g1", "market_b")
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, tradeIDs(byMarket))

	byUser, err := s.TradesByUser(ctx, "g1", "p3")
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t3"}, tradeIDs(byUser))

	_, err = s.LatestResolution(ctx)
	assert.True(t, errors.Is(err, ErrNoResolution))

	require.NoError(t, s.SaveResolution(ctx, &settlement.Resolution{GameID: "g1"}))
	got, err := s.LatestResolution(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GameID)
}
