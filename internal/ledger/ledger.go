// Package ledger tracks each participant's cash and per-market positions.
//
// Cash and net position are authoritative for valuation. Each position
// also carries an average-cost basis and the P&L realized when it is
// reduced or flipped, updated on every fill.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/exchange-engine/internal/model"
)

// Position is a participant's net holding in one market.
type Position struct {
	MarketID    string          `json:"market_id"`
	Quantity    int64           `json:"quantity"` // signed: long > 0, short < 0
	AvgCost     decimal.Decimal `json:"avg_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// apply folds one fill into the position using the average-cost method.
func (p *Position) apply(delta int64, price decimal.Decimal) {
	old := p.Quantity
	p.Quantity += delta

	switch {
	case old == 0 || sameSign(old, delta):
		// Opening or adding: blend the entry price into the basis.
		oldAbs, addAbs := decimal.NewFromInt(abs(old)), decimal.NewFromInt(abs(delta))
		p.AvgCost = p.AvgCost.Mul(oldAbs).Add(price.Mul(addAbs)).Div(oldAbs.Add(addAbs))
	default:
		closed := min(abs(old), abs(delta))
		perUnit := price.Sub(p.AvgCost)
		if old < 0 {
			perUnit = perUnit.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(perUnit.Mul(decimal.NewFromInt(closed)))

		switch {
		case p.Quantity == 0:
			p.AvgCost = decimal.Zero
		case !sameSign(old, p.Quantity):
			// Flipped: the remainder was opened at this fill's price.
			p.AvgCost = price
		}
	}
}

// Player is a participant and their holdings.
type Player struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Role      model.Role           `json:"role"`
	Cash      decimal.Decimal      `json:"cash"`
	Positions map[string]*Position `json:"positions"`
}

// NewPlayer creates a player with the given starting cash and no positions.
func NewPlayer(id, name string, role model.Role, cash decimal.Decimal) *Player {
	return &Player{
		ID:        id,
		Name:      name,
		Role:      role,
		Cash:      cash,
		Positions: make(map[string]*Position),
	}
}

// IsAdmin reports whether the player administers the game.
func (p *Player) IsAdmin() bool { return p.Role == model.RoleAdmin }

// Position returns the player's position in a market, creating an empty
// one on first access. Use NetPosition for reads that must not create.
func (p *Player) Position(marketID string) *Position {
	pos, ok := p.Positions[marketID]
	if !ok {
		pos = &Position{MarketID: marketID}
		p.Positions[marketID] = pos
	}
	return pos
}

// NetPosition returns the signed quantity held in a market without
// creating a position.
func (p *Player) NetPosition(marketID string) int64 {
	if pos, ok := p.Positions[marketID]; ok {
		return pos.Quantity
	}
	return 0
}

// UpdatePosition applies a fill: delta is positive for a buy and negative
// for a sell, and cash moves by -(delta × price).
func (p *Player) UpdatePosition(marketID string, delta int64, price decimal.Decimal) {
	p.Position(marketID).apply(delta, price)
	p.Cash = p.Cash.Sub(price.Mul(decimal.NewFromInt(delta)))
}

// Reset clears all positions and sets cash.
func (p *Player) Reset(cash decimal.Decimal) {
	p.Cash = cash
	p.Positions = make(map[string]*Position)
}

// Snapshot returns a deep copy safe to hand outside the engine lock.
func (p *Player) Snapshot() Player {
	cp := *p
	cp.Positions = make(map[string]*Position, len(p.Positions))
	for id, pos := range p.Positions {
		v := *pos
		cp.Positions[id] = &v
	}
	return cp
}

// Ledger holds every registered player, in registration order.
type Ledger struct {
	players map[string]*Player
	order   []string
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{players: make(map[string]*Player)}
}

// Add registers a player.
func (l *Ledger) Add(p *Player) error {
	if p.ID == "" {
		return fmt.Errorf("%w: player id is required", model.ErrInvalidInput)
	}
	if _, ok := l.players[p.ID]; ok {
		return fmt.Errorf("%w: %s", model.ErrDuplicatePlayer, p.ID)
	}
	if p.Positions == nil {
		p.Positions = make(map[string]*Position)
	}
	l.players[p.ID] = p
	l.order = append(l.order, p.ID)
	return nil
}

// Get returns the live player record.
func (l *Ledger) Get(id string) (*Player, error) {
	p, ok := l.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownPlayer, id)
	}
	return p, nil
}

// All returns the live player records in registration order.
func (l *Ledger) All() []*Player {
	out := make([]*Player, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.players[id])
	}
	return out
}

// Snapshots returns deep copies of every player in registration order.
func (l *Ledger) Snapshots() []Player {
	out := make([]Player, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.players[id].Snapshot())
	}
	return out
}

// Len returns the number of registered players.
func (l *Ledger) Len() int { return len(l.order) }

// Apply books a trade against both counterparties. Both must be registered.
func (l *Ledger) Apply(t model.Trade) error {
	buyer, err := l.Get(t.BuyerID)
	if err != nil {
		return err
	}
	seller, err := l.Get(t.SellerID)
	if err != nil {
		return err
	}
	buyer.UpdatePosition(t.MarketID, t.Quantity, t.Price)
	seller.UpdatePosition(t.MarketID, -t.Quantity, t.Price)
	return nil
}

// Reset sets every player's cash and clears all positions.
func (l *Ledger) Reset(cash decimal.Decimal) {
	for _, p := range l.players {
		p.Reset(cash)
	}
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
