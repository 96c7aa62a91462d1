package feed

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func TestCompare(t *testing.T) {
	testCases := []struct {
		prev, next string
		want       domain.ChangeDirection
	}{
		{"0.00", "100.5", domain.DirectionUp},
		{"100.5", "100.4", domain.DirectionDown},
		{"100.50", "100.5", domain.DirectionNone},
		{"", "1", domain.DirectionUp},
		{"junk", "1", domain.DirectionUp},
		{"1", "junk", domain.DirectionNone},
		{"0.00001234", "0.00001235", domain.DirectionUp},
	}

	for _, tc := range testCases {
		t.Run(tc.prev+"->"+tc.next, func(t *testing.T) {
			assert.Equal(t, tc.want, Compare(tc.prev, tc.next))
		})
	}
}

func TestDirectionTrackerKeepsOneResetPerSymbol(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(0, 0))
	tracker := NewDirectionTracker(clock, 800*time.Millisecond)

	var mu sync.Mutex
	resets := map[string]int{}
	mark := func(symbol string) {
		tracker.Mark(symbol, func() {
			mu.Lock()
			resets[symbol]++
			mu.Unlock()
		})
	}

	mark("BTCUSDT")
	mark("BTCUSDT")
	mark("ETHUSDT")
	assert.Equal(t, 2, tracker.Len())

	clock.Advance(800 * time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return resets["BTCUSDT"]+resets["ETHUSDT"] == 2
	}, time.Second, time.Millisecond)
	time.Sleep(settle)
	mu.Lock()
	assert.Equal(t, map[string]int{"BTCUSDT": 1, "ETHUSDT": 1}, resets)
	mu.Unlock()
	assert.False(t, tracker.Pending("BTCUSDT"))
}

func TestDirectionTrackerClose(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(0, 0))
	tracker := NewDirectionTracker(clock, 800*time.Millisecond)

	var fired atomic.Bool
	tracker.Mark("BTCUSDT", func() { fired.Store(true) })
	tracker.Close()

	clock.Advance(time.Second)
	time.Sleep(settle)
	assert.False(t, fired.Load())
	assert.Equal(t, 0, tracker.Len())
}
