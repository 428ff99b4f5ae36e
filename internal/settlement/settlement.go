// Package settlement values positions, ranks players and settles the game
// against externally supplied true values.
//
// Monetary values use shopspring/decimal, never float64.
package settlement

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/exchange-engine/internal/ledger"
	"github.com/atmx/exchange-engine/internal/model"
)

// Standing is one row of the leaderboard.
type Standing struct {
	PlayerID  string                     `json:"player_id"`
	Name      string                     `json:"name"`
	Cash      decimal.Decimal            `json:"cash"`
	Positions map[string]ledger.Position `json:"positions"`
	TotalPnL  decimal.Decimal            `json:"total_pnl"`
}

// Settlement is a player's final account at resolution.
type Settlement struct {
	PlayerID       string                     `json:"player_id"`
	Name           string                     `json:"name"`
	StartingCash   decimal.Decimal            `json:"starting_cash"`
	EndingCash     decimal.Decimal            `json:"ending_cash"`
	Positions      map[string]int64           `json:"positions"`
	PositionValues map[string]decimal.Decimal `json:"position_values"`
	TotalValue     decimal.Decimal            `json:"total_value"`
	TotalPnL       decimal.Decimal            `json:"total_pnl"`
}

// Resolution is the outcome of resolving a game.
type Resolution struct {
	GameID       string                     `json:"game_id"`
	TrueValues   map[string]decimal.Decimal `json:"true_values"`
	Leaderboard  []Standing                 `json:"leaderboard"`
	Settlements  []Settlement               `json:"settlements"`
	StartingCash decimal.Decimal            `json:"starting_cash"`
	ResolvedAt   time.Time                  `json:"resolved_at"`
}

// BundleValue applies a formula over component values. ADD sums, SUBTRACT
// takes the first component minus every other, MULTIPLY takes the product.
// It reports false when any component has no value.
func BundleValue(f model.BundleFormula, values map[string]decimal.Decimal) (decimal.Decimal, bool) {
	if len(f.Components) == 0 {
		return decimal.Zero, false
	}
	result, ok := values[f.Components[0]]
	if !ok {
		return decimal.Zero, false
	}
	for _, id := range f.Components[1:] {
		v, ok := values[id]
		if !ok {
			return decimal.Zero, false
		}
		switch f.Operation {
		case model.OpAdd:
			result = result.Add(v)
		case model.OpSubtract:
			result = result.Sub(v)
		case model.OpMultiply:
			result = result.Mul(v)
		default:
			return decimal.Zero, false
		}
	}
	return result, true
}

// MarkPrices builds the combined mark-price map from true values of the
// basic markets. Every basic market needs a value and every supplied value
// must be strictly positive. Bundle values are derived from their formula
// and may build on other bundles; a bundle whose components cannot all be
// valued (unknown market or a cycle) is left out. Supplied values for
// bundle or unknown markets are ignored.
func MarkPrices(markets []model.Market, trueValues map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	marks := make(map[string]decimal.Decimal, len(markets))
	bundles := make(map[string]model.BundleFormula)
	var missing []string
	basics := 0

	for _, m := range markets {
		if m.Type == model.Bundle {
			if m.Formula != nil {
				bundles[m.ID] = *m.Formula
			}
			continue
		}
		basics++
		v, ok := trueValues[m.ID]
		if !ok {
			missing = append(missing, m.ID)
			continue
		}
		marks[m.ID] = v
	}

	if basics == 0 {
		return nil, fmt.Errorf("%w: no basic markets exist", model.ErrMissingValuation)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrMissingValuation, strings.Join(missing, ", "))
	}

	ids := make([]string, 0, len(trueValues))
	for id := range trueValues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if v := trueValues[id]; !v.IsPositive() {
			return nil, fmt.Errorf("%w: %s=%s", model.ErrInvalidValuation, id, v)
		}
	}

	visiting := make(map[string]bool)
	var resolve func(id string) bool
	resolve = func(id string) bool {
		if _, ok := marks[id]; ok {
			return true
		}
		f, ok := bundles[id]
		if !ok || visiting[id] {
			return false
		}
		visiting[id] = true
		defer delete(visiting, id)
		for _, c := range f.Components {
			if !resolve(c) {
				return false
			}
		}
		v, ok := BundleValue(f, marks)
		if ok {
			marks[id] = v
		}
		return ok
	}
	for _, m := range markets {
		if m.Type == model.Bundle {
			resolve(m.ID)
		}
	}
	return marks, nil
}

// Leaderboard ranks non-admin players by cash plus the marked value of
// their positions, highest first. Positions in markets without a mark
// contribute nothing. Ties keep the input order.
func Leaderboard(players []ledger.Player, marks map[string]decimal.Decimal) []Standing {
	out := make([]Standing, 0, len(players))
	for _, p := range players {
		if p.IsAdmin() {
			continue
		}
		s := Standing{
			PlayerID:  p.ID,
			Name:      p.Name,
			Cash:      p.Cash,
			Positions: make(map[string]ledger.Position, len(p.Positions)),
			TotalPnL:  p.Cash,
		}
		for id, pos := range p.Positions {
			s.Positions[id] = *pos
			if mark, ok := marks[id]; ok {
				s.TotalPnL = s.TotalPnL.Add(mark.Mul(decimal.NewFromInt(pos.Quantity)))
			}
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalPnL.GreaterThan(out[j].TotalPnL)
	})
	return out
}

// Settle computes each non-admin player's final account under the marks.
func Settle(players []ledger.Player, marks map[string]decimal.Decimal, startingCash decimal.Decimal) []Settlement {
	out := make([]Settlement, 0, len(players))
	for _, p := range players {
		if p.IsAdmin() {
			continue
		}
		s := Settlement{
			PlayerID:       p.ID,
			Name:           p.Name,
			StartingCash:   startingCash,
			EndingCash:     p.Cash,
			Positions:      make(map[string]int64),
			PositionValues: make(map[string]decimal.Decimal),
			TotalValue:     p.Cash,
		}
		for id, pos := range p.Positions {
			mark, ok := marks[id]
			if !ok {
				continue
			}
			value := mark.Mul(decimal.NewFromInt(pos.Quantity))
			s.Positions[id] = pos.Quantity
			s.PositionValues[id] = value
			s.TotalValue = s.TotalValue.Add(value)
		}
		s.TotalPnL = s.TotalValue.Sub(startingCash)
		out = append(out, s)
	}
	return out
}

// Resolve values every market from the true values and settles all players.
func Resolve(markets []model.Market, players []ledger.Player, trueValues map[string]decimal.Decimal, startingCash decimal.Decimal) (*Resolution, error) {
	marks, err := MarkPrices(markets, trueValues)
	if err != nil {
		return nil, err
	}
	return &Resolution{
		TrueValues:   marks,
		Leaderboard:  Leaderboard(players, marks),
		Settlements:  Settle(players, marks, startingCash),
		StartingCash: startingCash,
		ResolvedAt:   time.Now().UTC(),
	}, nil
}
