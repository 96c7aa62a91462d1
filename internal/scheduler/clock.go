// Package scheduler provides an owned arena of cancellable delayed tasks.
// Every pending task is reachable from the arena, so closing the arena is
// enough to guarantee no timer outlives its owner.
package scheduler

import "github.com/jonboulle/clockwork"

// Clock is the time source for decay and reconnect delays. Tests drive it
// with clockwork.NewFakeClock.
type Clock = clockwork.Clock

// Timer is a pending callback that can be stopped.
type Timer = clockwork.Timer

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return clockwork.NewRealClock() }
