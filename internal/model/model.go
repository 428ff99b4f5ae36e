// Package model defines the core domain types shared across the exchange engine.
// Monetary values use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide normalizes and validates an order side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidInput, s)
}

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() int64 {
	if s == Buy {
		return 1
	}
	return -1
}

// Role is a participant's role in the game.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RolePlayer Role = "PLAYER"
)

// ParseRole normalizes and validates a role. An empty string means PLAYER.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RolePlayer, "":
		return RolePlayer, nil
	}
	return "", fmt.Errorf("%w: role must be ADMIN or PLAYER, got %q", ErrInvalidInput, s)
}

// MarketType distinguishes directly valued markets from derived ones.
type MarketType string

const (
	Basic  MarketType = "BASIC"
	Bundle MarketType = "BUNDLE"
)

// ParseMarketType normalizes and validates a market type. Empty means BASIC.
func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(strings.ToUpper(strings.TrimSpace(s))) {
	case Basic, "":
		return Basic, nil
	case Bundle:
		return Bundle, nil
	}
	return "", fmt.Errorf("%w: market_type must be BASIC or BUNDLE, got %q", ErrInvalidInput, s)
}

// BundleOp is the arithmetic applied over a bundle's components.
type BundleOp string

const (
	OpAdd      BundleOp = "ADD"
	OpSubtract BundleOp = "SUBTRACT"
	OpMultiply BundleOp = "MULTIPLY"
)

// ParseBundleOp normalizes and validates a bundle operation.
func ParseBundleOp(s string) (BundleOp, error) {
	switch BundleOp(strings.ToUpper(strings.TrimSpace(s))) {
	case OpAdd:
		return OpAdd, nil
	case OpSubtract:
		return OpSubtract, nil
	case OpMultiply:
		return OpMultiply, nil
	}
	return "", fmt.Errorf("%w: bundle operation must be ADD, SUBTRACT or MULTIPLY, got %q", ErrInvalidInput, s)
}

// BundleFormula derives a bundle market's value from its components, in order.
type BundleFormula struct {
	Operation  BundleOp `json:"operation" yaml:"operation"`
	Components []string `json:"components" yaml:"components"`
}

// DefaultTickSize is used when a market is created without one.
var DefaultTickSize = decimal.New(1, -2)

// Market is the static definition of a tradable instrument.
type Market struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	PositionLimit int64           `json:"position_limit"`
	TickSize      decimal.Decimal `json:"tick_size"` // informational, not enforced
	Type          MarketType      `json:"market_type"`
	Formula       *BundleFormula  `json:"bundle_formula,omitempty"`
}

// Validate checks the market definition before it enters the registry.
func (m *Market) Validate() error {
	if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: market id and name are required", ErrInvalidInput)
	}
	if m.PositionLimit < 0 {
		return fmt.Errorf("%w: position_limit must be non-negative", ErrInvalidInput)
	}
	if m.TickSize.IsNegative() {
		return fmt.Errorf("%w: tick_size must be non-negative", ErrInvalidInput)
	}
	switch m.Type {
	case Basic:
		if m.Formula != nil {
			return fmt.Errorf("%w: basic market %s cannot carry a bundle formula", ErrInvalidInput, m.ID)
		}
	case Bundle:
		if m.Formula == nil || len(m.Formula.Components) == 0 {
			return fmt.Errorf("%w: bundle market %s needs a formula with at least one component", ErrInvalidInput, m.ID)
		}
		if _, err := ParseBundleOp(string(m.Formula.Operation)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown market type %q", ErrInvalidInput, m.Type)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (m Market) Clone() Market {
	if m.Formula != nil {
		f := *m.Formula
		f.Components = append([]string(nil), m.Formula.Components...)
		m.Formula = &f
	}
	return m
}

// AdminMask replaces an admin's identity wherever resting orders are shown.
const AdminMask = "ADMIN"

// Order is a limit order. Remaining only ever decreases.
type Order struct {
	ID        string          `json:"id"`
	MarketID  string          `json:"market_id"`
	UserID    string          `json:"user_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Remaining int64           `json:"remaining_quantity"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"-"` // tie-break for equal timestamps
	IsAdmin   bool            `json:"-"`
}

// DisplayOwner is the owner shown to other participants.
func (o *Order) DisplayOwner() string {
	if o.IsAdmin {
		return AdminMask
	}
	return o.UserID
}

// Filled returns the executed quantity.
func (o *Order) Filled() int64 {
	return o.Quantity - o.Remaining
}

// MarshalJSON masks the owner of admin orders.
func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	a := alias(o)
	a.UserID = o.DisplayOwner()
	return json.Marshal(a)
}

// Trade is an immutable record of one fill.
type Trade struct {
	ID        string          `json:"id"`
	MarketID  string          `json:"market_id"`
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notional is price × quantity.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// PriceLevel is the aggregated resting quantity at one price.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// Depth is the aggregated view of one order book.
type Depth struct {
	MarketID string       `json:"market_id"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
}
