package store

import (
	"context"
	"sync"

	"github.com/atmx/exchange-engine/internal/model"
	"github.com/atmx/exchange-engine/internal/settlement"
)

type gameTrade struct {
	gameID string
	trade  model.Trade
}

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	trades      []gameTrade
	resolutions []settlement.Resolution
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertTrades(_ context.Context, gameID string, trades []model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		s.trades = append(s.trades, gameTrade{gameID: gameID, trade: t})
	}
	return nil
}

func (s *MemoryStore) TradesByMarket(_ context.Context, gameID, marketID string) ([]model.Trade, error) {
	return s.filter(gameID, func(t model.Trade) bool { return t.MarketID == marketID }), nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, gameID, userID string) ([]model.Trade, error) {
	return s.filter(gameID, func(t model.Trade) bool { return t.BuyerID == userID || t.SellerID == userID }), nil
}

func (s *MemoryStore) filter(gameID string, keep func(model.Trade) bool) []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, gt := range s.trades {
		if gt.gameID == gameID && keep(gt.trade) {
			out = append(out, gt.trade)
		}
	}
	return out
}

func (s *MemoryStore) SaveResolution(_ context.Context, res *settlement.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation of the header fields.
	s.resolutions = append(s.resolutions, *res)
	return nil
}

func (s *MemoryStore) LatestResolution(_ context.Context) (*settlement.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.resolutions) == 0 {
		return nil, ErrNoResolution
	}
	res := s.resolutions[len(s.resolutions)-1]
	return &res, nil
}
