package engine_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/exchange-engine/internal/engine"
	"github.com/atmx/exchange-engine/internal/ledger"
	"github.com/atmx/exchange-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var startingCash = d(10000)

// newTestEngine returns an engine with market_a (limit 100), two players
// and an admin.
func newTestEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	e := engine.New(10, opts...)
	require.NoError(t, e.AddMarket(model.Market{ID: "market_a", Name: "A", PositionLimit: 100}))
	for _, p := range []*ledger.Player{
		ledger.NewPlayer("p1", "Alice", model.RolePlayer, startingCash),
		ledger.NewPlayer("p2", "Bob", model.RolePlayer, startingCash),
		ledger.NewPlayer("admin", "Host", model.RoleAdmin, startingCash),
	} {
		require.NoError(t, e.AddPlayer(p))
	}
	return e
}

func cash(t *testing.T, e *engine.Engine, id string) decimal.Decimal {
	t.Helper()
	p, err := e.Player(id)
	require.NoError(t, err)
	return p.Cash
}

func position(t *testing.T, e *engine.Engine, id, market string) int64 {
	t.Helper()
	p, err := e.Player(id)
	require.NoError(t, err)
	return p.NetPosition(market)
}

func TestSubmitOrder_PartialFillScenario(t *testing.T) {
	e := newTestEngine(t)

	bid, trades, err := e.SubmitOrder("p1", "market_a", model.Buy, d(50), 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, int64(10), bid.Remaining)

	sell, trades, err := e.SubmitOrder("p2", "market_a", model.Sell, d(50), 6)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(6), trades[0].Quantity)
	assert.True(t, trades[0].Price.Equal(d(50)))
	assert.Equal(t, "p1", trades[0].BuyerID)
	assert.Equal(t, "p2", trades[0].SellerID)
	assert.Equal(t, int64(0), sell.Remaining)

	bids, asks, err := e.RestingOrders("market_a")
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Empty(t, asks)
	assert.Equal(t, bid.ID, bids[0].ID)
	assert.Equal(t, int64(4), bids[0].Remaining)

	assert.Equal(t, int64(6), position(t, e, "p1", "market_a"))
	assert.Equal(t, int64(-6), position(t, e, "p2", "market_a"))
	assert.True(t, d(9700).Equal(cash(t, e, "p1")))
	assert.True(t, d(10300).Equal(cash(t, e, "p2")))

	assert.Len(t, e.Trades(), 1)
	assert.Len(t, e.TradesByMarket("market_a"), 1)
	assert.Empty(t, e.TradesByMarket("other"))
}

func TestSubmitOrder_UnknownMarketAndPlayer(t *testing.T) {
	e := newTestEngine(t)

	_, _, err := e.SubmitOrder("p1", "nope", model.Buy, d(1), 1)
	assert.True(t, errors.Is(err, model.ErrUnknownMarket), "got %v", err)

	_, _, err = e.SubmitOrder("ghost", "market_a", model.Buy, d(1), 1)
	assert.True(t, errors.Is(err, model.ErrUnknownPlayer), "got %v", err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestSubmitOrder_RejectsBadInput(t *testing.T) {
	e := newTestEngine(t)
	cases := []struct {
		name  string
		side  model.Side
		price decimal.Decimal
		qty   int64
	}{
		{"zero price", model.Buy, decimal.Zero, 1},
		{"negative price", model.Sell, d(-1), 1},
		{"zero quantity", model.Buy, d(1), 0},
		{"negative quantity", model.Buy, d(1), -5},
		{"bad side", model.Side("HOLD"), d(1), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.SubmitOrder("p1", "market_a", tc.side, tc.price, tc.qty)
			assert.True(t, errors.Is(err, model.ErrInvalidInput), "got %v", err)
		})
	}
	assert.Equal(t, 0, e.Stats().RestingOrders["market_a"])
}

func TestSubmitOrder_PositionLimitLeavesStateUnchanged(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.SubmitOrder("p2", "market_a", model.Sell, d(40), 60)
	require.NoError(t, err)
	_, _, err = e.SubmitOrder("p1", "market_a", model.Buy, d(40), 60)
	require.NoError(t, err)
	require.Equal(t, int64(60), position(t, e, "p1", "market_a"))

	depthBefore, _ := e.OrderBookDisplay("market_a", 10)
	cashBefore := cash(t, e, "p1")
	tradesBefore := len(e.Trades())

	// 60 held + 41 requested = 101 > 100, even though nothing would fill.
	_, _, err = e.SubmitOrder("p1", "market_a", model.Buy, d(1), 41)
	require.True(t, errors.Is(err, model.ErrPositionLimit), "got %v", err)

	depthAfter, _ := e.OrderBookDisplay("market_a", 10)
	assert.Equal(t, depthBefore, depthAfter)
	assert.True(t, cashBefore.Equal(cash(t, e, "p1")))
	assert.Equal(t, tradesBefore, len(e.Trades()))
	assert.Equal(t, int64(60), position(t, e, "p1", "market_a"))

	// The remaining 40 is still allowed.
	_, _, err = e.SubmitOrder("p1", "market_a", model.Buy, d(1), 40)
	assert.NoError(t, err)
}

func TestSubmitOrder_LimitUsesFullQuantityNotFill(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetPositionLimit("market_a", 10))

	_, _, err := e.SubmitOrder("p2", "market_a", model.Sell, d(10), 1)
	require.NoError(t, err)
	// Only 1 would fill, but 11 is checked.
	_, _, err = e.SubmitOrder("p1", "market_a", model.Buy, d(10), 11)
	assert.True(t, errors.Is(err, model.ErrPositionLimit))
}

func TestSubmitOrder_MaxQuantityRejectedOnBothSides(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.SubmitOrder("p2", "market_a", model.Sell, d(10), 1)
	require.NoError(t, err)
	_, _, err = e.SubmitOrder("p1", "market_a", model.Buy, d(10), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), position(t, e, "p1", "market_a"))
	require.Equal(t, int64(-1), position(t, e, "p2", "market_a"))

	_, _, err = e.SubmitOrder("p1", "market_a", model.Buy, d(1), math.MaxInt64)
	assert.True(t, errors.Is(err, model.ErrPositionLimit), "long buy: got %v", err)
	_, _, err = e.SubmitOrder("p2", "market_a", model.Sell, d(99), math.MaxInt64)
	assert.True(t, errors.Is(err, model.ErrPositionLimit), "short sell: got %v", err)

	depth, err := e.OrderBookDisplay("market_a", 10)
	require.NoError(t, err)
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestSubmitOrder_AdminIdentityMasked(t *testing.T) {
	e := newTestEngine(t)
	order, _, err := e.SubmitOrder("admin", "market_a", model.Sell, d(55), 3)
	require.NoError(t, err)
	assert.True(t, order.IsAdmin)
	assert.Equal(t, "admin", order.UserID)

	_, asks, _ := e.RestingOrders("market_a")
	require.Len(t, asks, 1)
	raw, err := json.Marshal(asks[0])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, model.AdminMask, decoded["user_id"])

	// Trades still settle against the real account.
	_, trades, err := e.SubmitOrder("p1", "market_a", model.Buy, d(60), 3)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "admin", trades[0].SellerID)
	assert.Equal(t, int64(-3), position(t, e, "admin", "market_a"))
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(t)
	o, _, err := e.SubmitOrder("p1", "market_a", model.Buy, d(50), 10)
	require.NoError(t, err)

	assert.False(t, e.CancelOrder("p2", "market_a", o.ID), "not the owner")
	assert.False(t, e.CancelOrder("p1", "missing_market", o.ID))
	assert.True(t, e.CancelOrder("p1", "market_a", o.ID))
	assert.False(t, e.CancelOrder("p1", "market_a", o.ID), "already cancelled")
	assert.False(t, e.CancelOrder("p1", "market_a", "never-existed"))

	depth, _ := e.OrderBookDisplay("market_a", 10)
	assert.Empty(t, depth.Bids)
}

func TestRemoveMarket(t *testing.T) {
	e := newTestEngine(t)
	o, _, err := e.SubmitOrder("p1", "market_a", model.Buy, d(50), 1)
	require.NoError(t, err)

	assert.False(t, e.RemoveMarket("market_a"), "market with resting orders")
	assert.False(t, e.RemoveMarket("unknown"))

	require.True(t, e.CancelOrder("p1", "market_a", o.ID))
	assert.True(t, e.RemoveMarket("market_a"))

	_, err = e.Market("market_a")
	assert.True(t, errors.Is(err, model.ErrUnknownMarket))
	_, err = e.OrderBookDisplay("market_a", 10)
	assert.True(t, errors.Is(err, model.ErrUnknownMarket))
	assert.Empty(t, e.Markets())
}

func TestAddMarket_Errors(t *testing.T) {
	e := engine.New(1)
	require.NoError(t, e.AddMarket(model.Market{ID: "a", Name: "A"}))
	assert.True(t, errors.Is(e.AddMarket(model.Market{ID: "a", Name: "A"}), model.ErrDuplicateMarket))
	assert.True(t, errors.Is(e.AddMarket(model.Market{ID: "b", Name: "B"}), model.ErrLimitExceeded))
}

func TestResetGame(t *testing.T) {
	e := newTestEngine(t)
	gameID := e.GameID()
	_, _, err := e.SubmitOrder("p1", "market_a", model.Buy, d(50), 10)
	require.NoError(t, err)
	_, _, err = e.SubmitOrder("p2", "market_a", model.Sell, d(50), 4)
	require.NoError(t, err)

	e.ResetGame(d(5000))

	assert.NotEqual(t, gameID, e.GameID())
	assert.Empty(t, e.Trades())
	assert.Equal(t, 0, e.Stats().RestingOrders["market_a"])
	for _, id := range []string{"p1", "p2", "admin"} {
		p, err := e.Player(id)
		require.NoError(t, err)
		assert.True(t, d(5000).Equal(p.Cash))
		assert.Empty(t, p.Positions)
	}
	// Markets survive a reset.
	_, err = e.Market("market_a")
	assert.NoError(t, err)
}

func TestLeaderboardAndResolve(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddMarket(model.Market{ID: "market_b", Name: "B", PositionLimit: 100}))
	require.NoError(t, e.AddMarket(model.Market{
		ID: "market_ab", Name: "A+B", PositionLimit: 100, Type: model.Bundle,
		Formula: &model.BundleFormula{Operation: model.OpAdd, Components: []string{"market_a", "market_b"}},
	}))

	_, _, err := e.SubmitOrder("p2", "market_ab", model.Sell, d(70), 5)
	require.NoError(t, err)
	_, _, err = e.SubmitOrder("p1", "market_ab", model.Buy, d(70), 5)
	require.NoError(t, err)

	board := e.Leaderboard(nil)
	require.Len(t, board, 2, "admin excluded")
	assert.Equal(t, "p2", board[0].PlayerID)

	_, err = e.Resolve(map[string]decimal.Decimal{"market_a": d(30)}, startingCash)
	assert.True(t, errors.Is(err, model.ErrMissingValuation))

	res, err := e.Resolve(map[string]decimal.Decimal{"market_a": d(30), "market_b": d(45)}, startingCash)
	require.NoError(t, err)
	assert.Equal(t, e.GameID(), res.GameID)
	assert.True(t, d(75).Equal(res.TrueValues["market_ab"]))
	// p1 paid 350 for 5 × 75 = 375.
	assert.Equal(t, "p1", res.Leaderboard[0].PlayerID)
	assert.True(t, d(10025).Equal(res.Leaderboard[0].TotalPnL))
	for _, s := range res.Settlements {
		if s.PlayerID == "p1" {
			assert.True(t, d(25).Equal(s.TotalPnL))
		}
	}
}

func TestHeadroom(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.SubmitOrder("p2", "market_a", model.Sell, d(10), 30)
	require.NoError(t, err)
	_, _, err = e.SubmitOrder("p1", "market_a", model.Buy, d(10), 30)
	require.NoError(t, err)

	buy, sell, err := e.Headroom("p1", "market_a")
	require.NoError(t, err)
	assert.Equal(t, int64(70), buy)
	assert.Equal(t, int64(130), sell)

	_, _, err = e.Headroom("p1", "nope")
	assert.True(t, errors.Is(err, model.ErrUnknownMarket))
}

func TestTimestampsAreMonotonic(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(-2 * time.Hour)}
	i := 0
	n := 0
	e := newTestEngine(t,
		engine.WithClock(func() time.Time {
			t := clock[min(i, len(clock)-1)]
			i++
			return t
		}),
		engine.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)

	first, _, err := e.SubmitOrder("p1", "market_a", model.Buy, d(10), 1)
	require.NoError(t, err)
	second, _, err := e.SubmitOrder("p2", "market_a", model.Buy, d(10), 1)
	require.NoError(t, err)
	assert.False(t, second.Timestamp.Before(first.Timestamp))

	// Equal timestamps still honor submission order.
	_, trades, err := e.SubmitOrder("admin", "market_a", model.Sell, d(10), 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "p1", trades[0].BuyerID)
}

func TestConcurrentSubmissionsConserveQuantityAndCash(t *testing.T) {
	e := engine.New(0)
	require.NoError(t, e.AddMarket(model.Market{ID: "m", Name: "M", PositionLimit: 1_000_000}))
	const traders = 8
	for i := 0; i < traders; i++ {
		require.NoError(t, e.AddPlayer(ledger.NewPlayer(fmt.Sprintf("t%d", i), "T", model.RolePlayer, startingCash)))
	}

	var wg sync.WaitGroup
	for i := 0; i < traders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i)
			side := model.Buy
			if i%2 == 1 {
				side = model.Sell
			}
			for j := 0; j < 200; j++ {
				price := d(float64(95 + (i*7+j)%11))
				_, _, err := e.SubmitOrder(id, "m", side, price, int64(1+j%5))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	var qty int64
	total := decimal.Zero
	for _, p := range e.Players() {
		qty += p.NetPosition("m")
		total = total.Add(p.Cash)
	}
	assert.Equal(t, int64(0), qty, "net positions sum to zero")
	assert.True(t, startingCash.Mul(decimal.NewFromInt(traders)).Equal(total), "cash is conserved, got %s", total)

	var volume int64
	for _, tr := range e.Trades() {
		volume += tr.Quantity
	}
	var long int64
	for _, p := range e.Players() {
		if q := p.NetPosition("m"); q > 0 {
			long += q
		}
	}
	assert.LessOrEqual(t, long, volume)

	depth, _ := e.OrderBookDisplay("m", 0)
	if len(depth.Bids) > 0 && len(depth.Asks) > 0 {
		assert.True(t, depth.Bids[0].Price.LessThan(depth.Asks[0].Price), "book crossed")
	}
}
