package scheduler

import (
	"sync"
	"time"
)

type task struct {
	timer Timer
}

// Arena owns a set of delayed tasks keyed by string. At most one task per
// key is pending: scheduling a key cancels the task already pending under
// it. It is safe for concurrent use.
type Arena struct {
	clock Clock

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

// NewArena creates an empty Arena on the given clock. A nil clock uses the
// real clock.
func NewArena(clock Clock) *Arena {
	if clock == nil {
		clock = RealClock()
	}
	return &Arena{
		clock: clock,
		tasks: make(map[string]*task),
	}
}

// Schedule runs fn after d under key, replacing any task pending for the
// same key. It is a no-op once the arena is closed. fn runs without any
// arena lock held.
func (a *Arena) Schedule(key string, d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	if prev, ok := a.tasks[key]; ok {
		prev.timer.Stop()
		delete(a.tasks, key)
	}

	t := &task{}
	t.timer = a.clock.AfterFunc(d, func() {
		a.mu.Lock()
		current, ok := a.tasks[key]
		if !ok || current != t {
			// Replaced or cancelled after the timer had already fired.
			a.mu.Unlock()
			return
		}
		delete(a.tasks, key)
		a.mu.Unlock()

		fn()
	})
	a.tasks[key] = t
}

// Cancel stops the task pending under key. It reports whether a task was
// pending.
func (a *Arena) Cancel(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(a.tasks, key)
	return true
}

// Pending reports whether a task is pending under key.
func (a *Arena) Pending(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.tasks[key]
	return ok
}

// Len returns the number of pending tasks.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}

// Close cancels every pending task. Later calls to Schedule are ignored.
// Close is idempotent.
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	for key, t := range a.tasks {
		t.timer.Stop()
		delete(a.tasks, key)
	}
}
