package feed

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/scheduler"
)

// DirectionTracker bounds how long a price-move indicator stays visible. It
// keeps at most one pending reset per symbol.
type DirectionTracker struct {
	arena *scheduler.Arena
	decay time.Duration
}

// NewDirectionTracker creates a tracker whose resets fire decay after the
// last mark for a symbol.
func NewDirectionTracker(clock scheduler.Clock, decay time.Duration) *DirectionTracker {
	return &DirectionTracker{
		arena: scheduler.NewArena(clock),
		decay: decay,
	}
}

// Mark records a price change for symbol. Any reset already pending for the
// symbol is cancelled before reset is scheduled.
func (t *DirectionTracker) Mark(symbol string, reset func()) {
	t.arena.Schedule(symbol, t.decay, reset)
}

// Pending reports whether a reset is pending for symbol.
func (t *DirectionTracker) Pending(symbol string) bool {
	return t.arena.Pending(symbol)
}

// Len returns the number of pending resets.
func (t *DirectionTracker) Len() int {
	return t.arena.Len()
}

// Close cancels every pending reset.
func (t *DirectionTracker) Close() {
	t.arena.Close()
}

// Compare derives the direction of a move from prev to next. An empty or
// unparsable prev counts as zero.
func Compare(prev, next string) domain.ChangeDirection {
	n, err := decimal.NewFromString(next)
	if err != nil {
		return domain.DirectionNone
	}
	p, err := decimal.NewFromString(prev)
	if err != nil {
		p = decimal.Zero
	}

	switch n.Cmp(p) {
	case 1:
		return domain.DirectionUp
	case -1:
		return domain.DirectionDown
	default:
		return domain.DirectionNone
	}
}
