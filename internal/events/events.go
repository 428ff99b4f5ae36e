// Package events defines the game event envelope and the publishers that
// fan it out to WebSocket clients and the Kafka event stream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Event types.
const (
	OrderBookUpdate = "order_book_update"
	TradeExecuted   = "trade"
	MarketCreated   = "market_created"
	MarketDeleted   = "market_deleted"
	GameStarted     = "game_started"
	GameEnded       = "game_ended"
	GameReset       = "game_reset"
	GameResolved    = "game_resolved"
	ConfigUpdated   = "config_updated"
	PlayerJoined    = "player_joined"
	PositionUpdate  = "position_update"
	GameState       = "game_state"
)

// Event is the envelope sent to every subscriber.
type Event struct {
	Type      string    `json:"type"`
	GameID    string    `json:"game_id"`
	MarketID  string    `json:"market_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// New stamps an event with the current time.
func New(typ, gameID, marketID string, data any) Event {
	return Event{Type: typ, GameID: gameID, MarketID: marketID, Timestamp: time.Now().UTC(), Data: data}
}

// Key partitions the stream: market events by market, the rest by game.
func (e Event) Key() string {
	if e.MarketID != "" {
		return e.MarketID
	}
	return e.GameID
}

// Encode returns the JSON wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to one destination.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi publishes to each publisher in turn and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
