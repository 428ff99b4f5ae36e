// Package registry holds the definitions of the tradable markets.
package registry

import (
	"fmt"

	"github.com/atmx/exchange-engine/internal/model"
)

// Registry is the set of markets, kept in creation order. It is not safe
// for concurrent use; the engine serializes access.
type Registry struct {
	markets    map[string]*model.Market
	order      []string
	maxMarkets int
}

// New creates a registry capped at maxMarkets. A cap of zero or less
// means unlimited.
func New(maxMarkets int) *Registry {
	return &Registry{
		markets:    make(map[string]*model.Market),
		maxMarkets: maxMarkets,
	}
}

// Add validates and registers a market.
func (r *Registry) Add(m model.Market) error {
	if m.Type == "" {
		m.Type = model.Basic
	}
	if m.TickSize.IsZero() {
		m.TickSize = model.DefaultTickSize
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := r.markets[m.ID]; ok {
		return fmt.Errorf("%w: %s", model.ErrDuplicateMarket, m.ID)
	}
	if r.maxMarkets > 0 && len(r.markets) >= r.maxMarkets {
		return fmt.Errorf("%w: maximum %d markets allowed", model.ErrLimitExceeded, r.maxMarkets)
	}
	cp := m.Clone()
	r.markets[m.ID] = &cp
	r.order = append(r.order, m.ID)
	return nil
}

// Remove deletes a market. It reports false when the market is unknown.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.markets[id]; !ok {
		return false
	}
	delete(r.markets, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of a market definition.
func (r *Registry) Get(id string) (model.Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return model.Market{}, fmt.Errorf("%w: %s", model.ErrUnknownMarket, id)
	}
	return m.Clone(), nil
}

// List returns copies of all markets in creation order.
func (r *Registry) List() []model.Market {
	out := make([]model.Market, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id].Clone())
	}
	return out
}

// IDs returns market ids in creation order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered markets.
func (r *Registry) Len() int { return len(r.order) }

// SetPositionLimit changes a market's position limit. Existing positions
// above the new limit are kept; only new orders are checked against it.
func (r *Registry) SetPositionLimit(id string, limit int64) error {
	m, ok := r.markets[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownMarket, id)
	}
	if limit < 0 {
		return fmt.Errorf("%w: position_limit must be non-negative", model.ErrInvalidInput)
	}
	m.PositionLimit = limit
	return nil
}
