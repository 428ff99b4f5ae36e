// Package limits enforces per-market position limits.
//
// A limit caps the absolute net position a participant may hold in one
// market. Orders are checked against their full quantity at submission
// time, as if they filled completely, so a resting order reserves its
// whole size against the limit.
package limits

import (
	"fmt"
	"math"

	"github.com/atmx/exchange-engine/internal/model"
)

// Check validates that moving a position from current by delta keeps the
// absolute net position within limit. It returns an error wrapping
// model.ErrPositionLimit on violation.
//
// The comparison is against the band [-limit-current, limit-current] so an
// oversized delta cannot wrap around.
func Check(marketID string, limit, current, delta int64) error {
	lo, hi := subSat(-limit, current), subSat(limit, current)
	if delta < lo || delta > hi {
		return fmt.Errorf("%w: order of %d in %s would move position %d beyond limit %d",
			model.ErrPositionLimit, delta, marketID, current, limit)
	}
	return nil
}

// Headroom returns the largest order quantity on the given side that
// would still pass Check. It is zero when the position already sits at or
// beyond the limit in that direction.
func Headroom(limit, current int64, side model.Side) int64 {
	var room int64
	if side == model.Buy {
		room = subSat(limit, current)
	} else {
		room = subSat(limit, -current)
	}
	if room < 0 {
		return 0
	}
	return room
}

// subSat returns a-b clamped to the int64 range.
func subSat(a, b int64) int64 {
	r := a - b
	switch {
	case b > 0 && r > a:
		return math.MinInt64
	case b < 0 && r < a:
		return math.MaxInt64
	}
	return r
}
