// Package store defines the persistence interface for the trade journal.
// The journal records what happened in each game for later analysis; the
// engine never reads it back. Implementations include PostgreSQL, a Redis
// read-through cache, and in-memory (the default, and for testing).
package store

import (
	"context"
	"fmt"

	"github.com/atmx/exchange-engine/internal/model"
	"github.com/atmx/exchange-engine/internal/settlement"
)

// ErrNoResolution is returned when no game has been resolved yet.
var ErrNoResolution = fmt.Errorf("%w: no resolution recorded", model.ErrNotFound)

// Store is the journal interface. Every record is tagged with the game id
// it belongs to.
type Store interface {
	// --- Trades ---

	// InsertTrades appends executed trades for a game.
	InsertTrades(ctx context.Context, gameID string, trades []model.Trade) error

	// TradesByMarket returns a game's trades in one market in execution order.
	TradesByMarket(ctx context.Context, gameID, marketID string) ([]model.Trade, error)

	// TradesByUser returns a game's trades where the user was either side.
	TradesByUser(ctx context.Context, gameID, userID string) ([]model.Trade, error)

	// --- Resolutions ---

	// SaveResolution records the outcome of a resolved game.
	SaveResolution(ctx context.Context, res *settlement.Resolution) error

	// LatestResolution returns the most recently recorded resolution, or
	// ErrNoResolution.
	LatestResolution(ctx context.Context) (*settlement.Resolution, error)
}
