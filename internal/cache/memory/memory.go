// Package memory implements the domain cache interfaces in process, for
// single-instance runs without Redis.
package memory

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// ProfileCache is an in-process domain.ProfileCache.
type ProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]domain.UserProfile
}

// NewProfileCache creates an empty cache.
func NewProfileCache() *ProfileCache {
	return &ProfileCache{profiles: make(map[string]domain.UserProfile)}
}

func (c *ProfileCache) Get(_ context.Context, userID string) (domain.UserProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[userID]
	if !ok {
		return domain.UserProfile{}, fmt.Errorf("memory: profile %s: %w", userID, domain.ErrNotFound)
	}
	return p, nil
}

func (c *ProfileCache) Set(_ context.Context, p domain.UserProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.ID] = p
	return nil
}

func (c *ProfileCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, userID)
	return nil
}

// subscriberBuffer bounds each subscriber's queue; a subscriber that falls
// further behind loses messages.
const subscriberBuffer = 128

type subscriber struct {
	pattern string
	ch      chan domain.Signal
}

// SignalBus is an in-process domain.SignalBus. Channel names may use the
// same glob wildcards Redis PSUBSCRIBE accepts.
type SignalBus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every matching subscriber without blocking.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("memory: publish %s: %w", channel, domain.ErrClosed)
	}
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- domain.Signal{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of signals matching channel. It is closed
// when ctx is cancelled or the bus is closed.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan domain.Signal, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, err)
	}

	s := &subscriber{pattern: channel, ch: make(chan domain.Signal, subscriberBuffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, domain.ErrClosed)
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(s)
	}()
	return s.ch, nil
}

func (b *SignalBus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Close closes every subscriber channel.
func (b *SignalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}

// LockManager is an in-process domain.LockManager.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

type lockEntry struct {
	token   string
	expires time.Time
}

// NewLockManager creates an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]lockEntry), now: time.Now}
}

// Acquire takes key for ttl. It fails with domain.ErrLockHeld while another
// holder's lock is unexpired. The returned unlock is idempotent.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.locks[key]; ok && now.Before(e.expires) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.NewString()
	m.locks[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if e, ok := m.locks[key]; ok && e.token == token {
				delete(m.locks, key)
			}
		})
	}, nil
}

var (
	_ domain.ProfileCache = (*ProfileCache)(nil)
	_ domain.SignalBus    = (*SignalBus)(nil)
	_ domain.LockManager  = (*LockManager)(nil)
)
