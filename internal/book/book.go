// Package book implements a per-market limit order book with price-time
// priority matching.
//
// Each side keeps its price levels in a B-tree ordered best-first (bids by
// descending price, asks by ascending price). Every level is a FIFO queue
// ordered by submission time, so walking a side level by level yields the
// same order as a full sort on (price, timestamp).
package book

import (
	"math"
	"sort"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/exchange-engine/internal/model"
)

// DefaultDepth is the number of price levels shown when no depth is given.
const DefaultDepth = 10

const treeDegree = 8

// level is the queue of resting orders at one price.
type level struct {
	price  decimal.Decimal
	orders []*model.Order
}

// volume sums the level, saturating at MaxInt64 for display.
func (l *level) volume() int64 {
	var v int64
	for _, o := range l.orders {
		if o.Remaining > math.MaxInt64-v {
			return math.MaxInt64
		}
		v += o.Remaining
	}
	return v
}

// before reports whether a has time priority over b.
func before(a, b *model.Order) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

type side struct {
	levels *btree.BTreeG[*level]
}

func newSide(s model.Side) *side {
	less := func(a, b *level) bool { return a.price.LessThan(b.price) }
	if s == model.Buy {
		less = func(a, b *level) bool { return a.price.GreaterThan(b.price) }
	}
	return &side{levels: btree.NewG[*level](treeDegree, less)}
}

func (s *side) best() (*level, bool) {
	return s.levels.Min()
}

func (s *side) insert(o *model.Order) {
	lvl, ok := s.levels.Get(&level{price: o.Price})
	if !ok {
		lvl = &level{price: o.Price}
		s.levels.ReplaceOrInsert(lvl)
	}
	// Orders normally arrive in time order; the search keeps the queue
	// sorted even when they don't.
	i := sort.Search(len(lvl.orders), func(i int) bool { return before(o, lvl.orders[i]) })
	lvl.orders = append(lvl.orders, nil)
	copy(lvl.orders[i+1:], lvl.orders[i:])
	lvl.orders[i] = o
}

func (s *side) popFront(lvl *level) {
	lvl.orders[0] = nil
	lvl.orders = lvl.orders[1:]
	if len(lvl.orders) == 0 {
		s.levels.Delete(lvl)
	}
}

func (s *side) remove(o *model.Order) bool {
	lvl, ok := s.levels.Get(&level{price: o.Price})
	if !ok {
		return false
	}
	for i, r := range lvl.orders {
		if r != o {
			continue
		}
		copy(lvl.orders[i:], lvl.orders[i+1:])
		lvl.orders[len(lvl.orders)-1] = nil
		lvl.orders = lvl.orders[:len(lvl.orders)-1]
		if len(lvl.orders) == 0 {
			s.levels.Delete(lvl)
		}
		return true
	}
	return false
}

// each walks resting orders best-first until fn returns false.
func (s *side) each(fn func(*model.Order) bool) {
	s.levels.Ascend(func(lvl *level) bool {
		for _, o := range lvl.orders {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}

func (s *side) depth(n int) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, min(n, s.levels.Len()))
	s.levels.Ascend(func(lvl *level) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, model.PriceLevel{Price: lvl.price, Quantity: lvl.volume()})
		return true
	})
	return out
}

// Book is the order book of a single market. It is not safe for
// concurrent use; the engine serializes access.
type Book struct {
	marketID string
	bids     *side
	asks     *side
	index    map[string]*model.Order
	newID    func() string
	now      func() time.Time
}

// Option configures a Book.
type Option func(*Book)

// WithIDGenerator sets the source of trade ids.
func WithIDGenerator(fn func() string) Option {
	return func(b *Book) { b.newID = fn }
}

// WithClock sets the source of trade timestamps.
func WithClock(fn func() time.Time) Option {
	return func(b *Book) { b.now = fn }
}

// New creates an empty book for the market.
func New(marketID string, opts ...Option) *Book {
	b := &Book{
		marketID: marketID,
		bids:     newSide(model.Buy),
		asks:     newSide(model.Sell),
		index:    make(map[string]*model.Order),
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) sides(s model.Side) (own, opposite *side) {
	if s == model.Buy {
		return b.bids, b.asks
	}
	return b.asks, b.bids
}

// crosses reports whether an incoming order can trade at a resting price.
func crosses(o *model.Order, resting decimal.Decimal) bool {
	if o.Side == model.Buy {
		return o.Price.GreaterThanOrEqual(resting)
	}
	return o.Price.LessThanOrEqual(resting)
}

// Submit matches the order against the opposite side and rests any
// remainder. The book keeps the pointer; Remaining is updated in place.
// Trades execute at the resting order's price and are returned in
// execution order.
func (b *Book) Submit(o *model.Order) []model.Trade {
	own, opposite := b.sides(o.Side)

	var trades []model.Trade
	for o.Remaining > 0 {
		lvl, ok := opposite.best()
		if !ok || !crosses(o, lvl.price) {
			break
		}
		resting := lvl.orders[0]
		qty := min(o.Remaining, resting.Remaining)
		o.Remaining -= qty
		resting.Remaining -= qty
		trades = append(trades, b.newTrade(o, resting, qty))

		if resting.Remaining == 0 {
			opposite.popFront(lvl)
			delete(b.index, resting.ID)
		}
	}

	if o.Remaining > 0 {
		own.insert(o)
		b.index[o.ID] = o
	}
	return trades
}

func (b *Book) newTrade(aggressor, resting *model.Order, qty int64) model.Trade {
	t := model.Trade{
		ID:        b.newID(),
		MarketID:  b.marketID,
		Price:     resting.Price,
		Quantity:  qty,
		Timestamp: b.now(),
	}
	if aggressor.Side == model.Buy {
		t.BuyerID, t.SellerID = aggressor.UserID, resting.UserID
	} else {
		t.BuyerID, t.SellerID = resting.UserID, aggressor.UserID
	}
	return t
}

// Cancel removes a resting order owned by userID. Unknown ids and foreign
// orders are reported as false.
func (b *Book) Cancel(orderID, userID string) bool {
	o, ok := b.index[orderID]
	if !ok || o.UserID != userID {
		return false
	}
	own, _ := b.sides(o.Side)
	own.remove(o)
	delete(b.index, orderID)
	return true
}

// Display aggregates resting quantity per price level, best prices first.
func (b *Book) Display(depth int) model.Depth {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return model.Depth{
		MarketID: b.marketID,
		Bids:     b.bids.depth(depth),
		Asks:     b.asks.depth(depth),
	}
}

// Len returns the number of resting orders on both sides.
func (b *Book) Len() int { return len(b.index) }

// Order returns a copy of a resting order.
func (b *Book) Order(id string) (model.Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// Orders returns copies of all resting orders: bids best-first, then asks
// best-first.
func (b *Book) Orders() (bids, asks []model.Order) {
	collect := func(s *side) []model.Order {
		var out []model.Order
		s.each(func(o *model.Order) bool {
			out = append(out, *o)
			return true
		})
		return out
	}
	return collect(b.bids), collect(b.asks)
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	lvl, ok := b.bids.best()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	lvl, ok := b.asks.best()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}
