package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/exchange-engine/internal/model"
	"github.com/atmx/exchange-engine/internal/settlement"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary. A Redis outage degrades to
// primary-only reads.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertTrades(ctx context.Context, gameID string, trades []model.Trade) error {
	if err := s.primary.InsertTrades(ctx, gameID, trades); err != nil {
		return err
	}
	keys := make(map[string]struct{})
	for _, t := range trades {
		keys[marketTradesKey(gameID, t.MarketID)] = struct{}{}
		keys[userTradesKey(gameID, t.BuyerID)] = struct{}{}
		keys[userTradesKey(gameID, t.SellerID)] = struct{}{}
	}
	if len(keys) == 0 {
		return nil
	}
	del := make([]string, 0, len(keys))
	for k := range keys {
		del = append(del, k)
	}
	if err := s.rdb.Del(ctx, del...).Err(); err != nil {
		slog.Warn("trade cache invalidation failed", "game_id", gameID, "err", err)
	}
	return nil
}

func (s *CachedStore) SaveResolution(ctx context.Context, res *settlement.Resolution) error {
	if err := s.primary.SaveResolution(ctx, res); err != nil {
		return err
	}
	s.cache(ctx, latestResolutionKey, res)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) TradesByMarket(ctx context.Context, gameID, marketID string) ([]model.Trade, error) {
	return s.cachedTrades(ctx, marketTradesKey(gameID, marketID), func() ([]model.Trade, error) {
		return s.primary.TradesByMarket(ctx, gameID, marketID)
	})
}

func (s *CachedStore) TradesByUser(ctx context.Context, gameID, userID string) ([]model.Trade, error) {
	return s.cachedTrades(ctx, userTradesKey(gameID, userID), func() ([]model.Trade, error) {
		return s.primary.TradesByUser(ctx, gameID, userID)
	})
}

func (s *CachedStore) LatestResolution(ctx context.Context) (*settlement.Resolution, error) {
	data, err := s.rdb.Get(ctx, latestResolutionKey).Bytes()
	if err == nil {
		var res settlement.Resolution
		if json.Unmarshal(data, &res) == nil {
			return &res, nil
		}
	}

	res, err := s.primary.LatestResolution(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, latestResolutionKey, res)
	return res, nil
}

// --- Cache helpers ---

func (s *CachedStore) cachedTrades(ctx context.Context, key string, load func() ([]model.Trade, error)) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := load()
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, trades)
	return trades, nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const latestResolutionKey = "resolution:latest"

func marketTradesKey(gameID, marketID string) string {
	return fmt.Sprintf("trades:%s:market:%s", gameID, marketID)
}

func userTradesKey(gameID, userID string) string {
	return fmt.Sprintf("trades:%s:user:%s", gameID, userID)
}
