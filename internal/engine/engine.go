// Package engine is the matching and settlement core of the exchange.
//
// An Engine owns the market registry, one order book per market, the
// player ledger and the trade history. Every operation runs under a single
// engine-wide lock, so a trade and the position changes it causes are
// observed together or not at all. Nothing here performs I/O.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/exchange-engine/internal/book"
	"github.com/atmx/exchange-engine/internal/ledger"
	"github.com/atmx/exchange-engine/internal/limits"
	"github.com/atmx/exchange-engine/internal/model"
	"github.com/atmx/exchange-engine/internal/registry"
	"github.com/atmx/exchange-engine/internal/settlement"
)

// Engine serializes all access to game state.
type Engine struct {
	mu       sync.RWMutex
	markets  *registry.Registry
	books    map[string]*book.Book
	players  *ledger.Ledger
	trades   []model.Trade
	gameID   string
	seq      uint64
	lastTime time.Time

	newID func() string
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the source of order, trade and game ids.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithClock sets the wall clock. Timestamps handed out by the engine never
// go backwards even if the clock does.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// New creates an engine that allows at most maxMarkets markets (zero or
// less for no cap).
func New(maxMarkets int, opts ...Option) *Engine {
	e := &Engine{
		markets: registry.New(maxMarkets),
		books:   make(map[string]*book.Book),
		players: ledger.New(),
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gameID = e.newID()
	return e
}

// timestamp returns a monotonic timestamp. Caller holds e.mu.
func (e *Engine) timestamp() time.Time {
	t := e.now()
	if t.Before(e.lastTime) {
		t = e.lastTime
	}
	e.lastTime = t
	return t
}

func (e *Engine) newBook(marketID string) *book.Book {
	return book.New(marketID, book.WithIDGenerator(e.newID), book.WithClock(e.timestamp))
}

// GameID identifies the current round; it changes on every reset.
func (e *Engine) GameID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gameID
}

// --- Markets ---

// AddMarket registers a market and opens an empty book for it.
func (e *Engine) AddMarket(m model.Market) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.markets.Add(m); err != nil {
		return err
	}
	e.books[m.ID] = e.newBook(m.ID)
	return nil
}

// RemoveMarket deletes a market whose book holds no resting orders. It
// reports false when the market is unknown or still has orders.
func (e *Engine) RemoveMarket(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[id]
	if !ok || b.Len() > 0 {
		return false
	}
	if !e.markets.Remove(id) {
		return false
	}
	delete(e.books, id)
	return true
}

// Market returns a market definition.
func (e *Engine) Market(id string) (model.Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.markets.Get(id)
}

// Markets returns all market definitions in creation order.
func (e *Engine) Markets() []model.Market {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.markets.List()
}

// SetPositionLimit changes a market's position limit for future orders.
func (e *Engine) SetPositionLimit(marketID string, limit int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markets.SetPositionLimit(marketID, limit)
}

// --- Players ---

// AddPlayer registers a participant.
func (e *Engine) AddPlayer(p *ledger.Player) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.players.Add(p)
}

// Player returns a snapshot of a participant's account.
func (e *Engine) Player(id string) (ledger.Player, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.players.Get(id)
	if err != nil {
		return ledger.Player{}, err
	}
	return p.Snapshot(), nil
}

// Players returns snapshots of every participant in registration order.
func (e *Engine) Players() []ledger.Player {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.players.Snapshots()
}

// Headroom returns how many contracts a player may still buy and sell in
// a market under its position limit.
func (e *Engine) Headroom(playerID, marketID string) (buy, sell int64, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m, err := e.markets.Get(marketID)
	if err != nil {
		return 0, 0, err
	}
	p, err := e.players.Get(playerID)
	if err != nil {
		return 0, 0, err
	}
	current := p.NetPosition(marketID)
	return limits.Headroom(m.PositionLimit, current, model.Buy),
		limits.Headroom(m.PositionLimit, current, model.Sell), nil
}

// --- Orders ---

// SubmitOrder validates a limit order, matches it and books the resulting
// trades against both counterparties. All validation happens before the
// book or ledger is touched. The returned order reflects the quantity left
// after matching.
func (e *Engine) SubmitOrder(userID, marketID string, side model.Side, price decimal.Decimal, quantity int64) (model.Order, []model.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, err := e.markets.Get(marketID)
	if err != nil {
		return model.Order{}, nil, err
	}
	b := e.books[marketID]
	player, err := e.players.Get(userID)
	if err != nil {
		return model.Order{}, nil, err
	}
	if side != model.Buy && side != model.Sell {
		return model.Order{}, nil, fmt.Errorf("%w: side must be BUY or SELL", model.ErrInvalidInput)
	}
	if !price.IsPositive() {
		return model.Order{}, nil, fmt.Errorf("%w: price must be positive", model.ErrInvalidInput)
	}
	if quantity <= 0 {
		return model.Order{}, nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidInput)
	}
	if err := limits.Check(marketID, market.PositionLimit, player.NetPosition(marketID), side.Sign()*quantity); err != nil {
		return model.Order{}, nil, err
	}

	e.seq++
	order := &model.Order{
		ID:        e.newID(),
		MarketID:  marketID,
		UserID:    userID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		Timestamp: e.timestamp(),
		Seq:       e.seq,
		IsAdmin:   player.IsAdmin(),
	}

	trades := b.Submit(order)
	for _, t := range trades {
		if err := e.players.Apply(t); err != nil {
			// Every resting order belongs to a registered player and players
			// are never removed, so this cannot happen short of a bug.
			slog.Error("trade references unknown player", "trade_id", t.ID, "err", err)
		}
		e.trades = append(e.trades, t)
	}
	return *order, trades, nil
}

// CancelOrder removes a resting order owned by userID. It reports false
// for unknown markets, unknown orders and orders owned by someone else.
func (e *Engine) CancelOrder(userID, marketID, orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[marketID]
	if !ok {
		return false
	}
	return b.Cancel(orderID, userID)
}

// --- Views ---

// OrderBookDisplay returns the aggregated depth of one market.
func (e *Engine) OrderBookDisplay(marketID string, depth int) (model.Depth, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, ok := e.books[marketID]
	if !ok {
		return model.Depth{}, fmt.Errorf("%w: %s", model.ErrUnknownMarket, marketID)
	}
	return b.Display(depth), nil
}

// AllOrderBooksDisplay returns the aggregated depth of every market in
// creation order.
func (e *Engine) AllOrderBooksDisplay(depth int) []model.Depth {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Depth, 0, e.markets.Len())
	for _, id := range e.markets.IDs() {
		out = append(out, e.books[id].Display(depth))
	}
	return out
}

// RestingOrders returns every resting order of a market, best-first per
// side. Admin owners are masked when the orders are encoded.
func (e *Engine) RestingOrders(marketID string) (bids, asks []model.Order, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, ok := e.books[marketID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", model.ErrUnknownMarket, marketID)
	}
	bids, asks = b.Orders()
	return bids, asks, nil
}

// Trades returns the trade history of the current game in execution order.
func (e *Engine) Trades() []model.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.Trade(nil), e.trades...)
}

// TradesByMarket returns the current game's trades in one market.
func (e *Engine) TradesByMarket(marketID string) []model.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []model.Trade
	for _, t := range e.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out
}

// --- Settlement ---

// Leaderboard ranks non-admin players. Marks may be nil, in which case
// players are ranked by cash alone.
func (e *Engine) Leaderboard(marks map[string]decimal.Decimal) []settlement.Standing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return settlement.Leaderboard(e.players.Snapshots(), marks)
}

// Resolve settles the game against true values for every basic market.
// It does not modify any state.
func (e *Engine) Resolve(trueValues map[string]decimal.Decimal, startingCash decimal.Decimal) (*settlement.Resolution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res, err := settlement.Resolve(e.markets.List(), e.players.Snapshots(), trueValues, startingCash)
	if err != nil {
		return nil, err
	}
	res.GameID = e.gameID
	return res, nil
}

// ResetGame restores every player to startingCash with no positions,
// discards all resting orders and clears the trade history.
func (e *Engine) ResetGame(startingCash decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.players.Reset(startingCash)
	for _, id := range e.markets.IDs() {
		e.books[id] = e.newBook(id)
	}
	e.trades = nil
	e.gameID = e.newID()
}

// Stats is a point-in-time summary used for metrics.
type Stats struct {
	Markets       int
	Players       int
	Trades        int
	RestingOrders map[string]int
}

// Stats returns counts of markets, players, trades and resting orders.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{
		Markets:       e.markets.Len(),
		Players:       e.players.Len(),
		Trades:        len(e.trades),
		RestingOrders: make(map[string]int, len(e.books)),
	}
	for id, b := range e.books {
		s.RestingOrders[id] = b.Len()
	}
	return s
}
