package limits

import (
	"errors"
	"math"
	"testing"

	"github.com/atmx/exchange-engine/internal/model"
)

func TestCheck_WithinLimit(t *testing.T) {
	if err := Check("market_a", 100, 0, 100); err != nil {
		t.Errorf("expected no error at exactly the limit, got %v", err)
	}
	if err := Check("market_a", 100, 50, -150); err != nil {
		t.Errorf("expected no error flipping to -100, got %v", err)
	}
}

func TestCheck_Exceeded(t *testing.T) {
	err := Check("market_a", 100, 95, 10)
	if !errors.Is(err, model.ErrPositionLimit) {
		t.Fatalf("expected ErrPositionLimit, got %v", err)
	}
	if !errors.Is(err, model.ErrLimitExceeded) {
		t.Errorf("position limit errors should also match ErrLimitExceeded")
	}
}

func TestCheck_ShortSideExceeded(t *testing.T) {
	if err := Check("market_a", 10, -5, -6); !errors.Is(err, model.ErrPositionLimit) {
		t.Errorf("expected ErrPositionLimit for -11, got %v", err)
	}
}

func TestCheck_ZeroLimitBlocksEverything(t *testing.T) {
	if err := Check("market_a", 0, 0, 1); err == nil {
		t.Error("expected a zero limit to reject any position")
	}
}

func TestCheck_ReducingOverLimitPositionIsAllowed(t *testing.T) {
	// A position already above a since-lowered limit may still be reduced
	// only if the result is within the limit.
	if err := Check("market_a", 10, 30, -25); err != nil {
		t.Errorf("expected reduction to 5 to pass, got %v", err)
	}
	if err := Check("market_a", 10, 30, -5); err == nil {
		t.Error("expected reduction to 25 to fail")
	}
}

func TestCheck_HugeQuantityDoesNotWrap(t *testing.T) {
	if err := Check("market_a", 100, 1, math.MaxInt64); !errors.Is(err, model.ErrPositionLimit) {
		t.Errorf("expected ErrPositionLimit for a max-size buy while long, got %v", err)
	}
	if err := Check("market_a", 100, -1, -math.MaxInt64); !errors.Is(err, model.ErrPositionLimit) {
		t.Errorf("expected ErrPositionLimit for a max-size sell while short, got %v", err)
	}
	if err := Check("market_a", 100, 0, math.MaxInt64); err == nil {
		t.Error("expected a max-size buy from flat to be rejected")
	}
	// An effectively unlimited market must not wrap either.
	if err := Check("market_a", math.MaxInt64, 5, math.MaxInt64); err == nil {
		t.Error("expected a buy past MaxInt64 to be rejected")
	}
	if err := Check("market_a", math.MaxInt64, 5, -math.MaxInt64); err != nil {
		t.Errorf("expected a max-size sell to pass an unlimited market, got %v", err)
	}
	if got := Headroom(math.MaxInt64, -5, model.Buy); got != math.MaxInt64 {
		t.Errorf("Headroom() = %d, want MaxInt64", got)
	}
}

func TestHeadroom(t *testing.T) {
	cases := []struct {
		name    string
		limit   int64
		current int64
		side    model.Side
		want    int64
	}{
		{"flat buy", 100, 0, model.Buy, 100},
		{"flat sell", 100, 0, model.Sell, 100},
		{"long buy", 100, 40, model.Buy, 60},
		{"long sell", 100, 40, model.Sell, 140},
		{"short buy", 100, -40, model.Buy, 140},
		{"beyond limit", 10, 30, model.Buy, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Headroom(tc.limit, tc.current, tc.side); got != tc.want {
				t.Errorf("Headroom() = %d, want %d", got, tc.want)
			}
			if tc.want > 0 {
				if err := Check("m", tc.limit, tc.current, tc.side.Sign()*tc.want); err != nil {
					t.Errorf("headroom quantity should pass Check: %v", err)
				}
			}
		})
	}
}
