// Package orderbook keeps per-symbol bid/ask ladders in sync from the push
// channel and the REST snapshot endpoint.
package orderbook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/platform/exchange"
)

// Transport is one push-channel session.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(symbol string, h exchange.BookHandler) (string, error)
	Unsubscribe(id string) error
	OnDisconnect(h func(error))
	Close() error
}

// Dialer creates a fresh, unconnected Transport.
type Dialer func() Transport

// UpdateFunc receives every ladder delivered for a subscription.
type UpdateFunc func(domain.OrderBook)

type subscription struct {
	symbol string
	id     string
	live   atomic.Bool
	once   sync.Once
}

// Manager owns the push-channel connection and at most one live
// subscription per symbol.
type Manager struct {
	dial   Dialer
	logger *slog.Logger

	mu         sync.Mutex
	transport  Transport
	connected  bool
	connecting bool
	closed     bool
	subs       map[string]*subscription

	handlerMu      sync.RWMutex
	statusHandlers []func(bool)
}

// NewManager creates a manager. Nothing connects until Connect.
func NewManager(dial Dialer, logger *slog.Logger) *Manager {
	return &Manager{
		dial:   dial,
		logger: logger.With(slog.String("component", "orderbook_manager")),
		subs:   make(map[string]*subscription),
	}
}

// OnStatus registers an observer for connection state transitions.
func (m *Manager) OnStatus(h func(connected bool)) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.statusHandlers = append(m.statusHandlers, h)
}

// Connect opens a new session unless one is already open or opening. A
// dropped session is not reopened on its own; callers retry with Connect.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("orderbook: connect: %w", domain.ErrClosed)
	}
	if m.connected || m.connecting {
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	m.mu.Unlock()

	t := m.dial()
	t.OnDisconnect(func(err error) { m.handleDrop(t, err) })
	err := t.Connect(ctx)

	m.mu.Lock()
	m.connecting = false
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("orderbook: connect: %w", err)
	}
	if m.closed {
		m.mu.Unlock()
		_ = t.Close()
		return fmt.Errorf("orderbook: connect: %w", domain.ErrClosed)
	}
	m.transport = t
	m.connected = true
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "order book feed connected")
	m.emitStatus(true)
	return nil
}

// Connected reports whether the push channel is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Subscribe delivers every ladder pushed for symbol to onUpdate until the
// returned function is called. An existing subscription for the symbol is
// cancelled first. While disconnected the call does nothing and returns a
// no-op function.
func (m *Manager) Subscribe(symbol string, onUpdate UpdateFunc) func() {
	symbol = strings.ToUpper(symbol)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.connected {
		m.logger.Debug("subscribe skipped, feed not ready", slog.String("symbol", symbol))
		return func() {}
	}

	if prior, ok := m.subs[symbol]; ok {
		m.cancelLocked(prior)
	}

	sub := &subscription{symbol: symbol}
	sub.live.Store(true)
	id, err := m.transport.Subscribe(symbol, func(book domain.OrderBook) {
		if sub.live.Load() {
			onUpdate(book)
		}
	})
	if err != nil {
		m.logger.Warn("subscribe failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return func() {}
	}
	sub.id = id
	m.subs[symbol] = sub

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cancelLocked(sub)
	}
}

// cancelLocked stops sub once and drops it from the registry if it is still
// the registered subscription for its symbol.
func (m *Manager) cancelLocked(sub *subscription) {
	sub.once.Do(func() {
		sub.live.Store(false)
		if m.subs[sub.symbol] == sub {
			delete(m.subs, sub.symbol)
		}
		if m.transport == nil {
			return
		}
		if err := m.transport.Unsubscribe(sub.id); err != nil {
			m.logger.Debug("unsubscribe failed",
				slog.String("symbol", sub.symbol),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Subscriptions returns the symbols with a live subscription.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for s := range m.subs {
		out = append(out, s)
	}
	return out
}

// Close cancels every subscription and closes the session.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, sub := range m.subs {
		m.cancelLocked(sub)
	}
	t := m.transport
	m.transport = nil
	wasConnected := m.connected
	m.connected = false
	m.mu.Unlock()

	if wasConnected {
		m.emitStatus(false)
	}
	if t != nil {
		if err := t.Close(); err != nil {
			return fmt.Errorf("orderbook: close: %w", err)
		}
	}
	return nil
}

func (m *Manager) handleDrop(t Transport, err error) {
	m.mu.Lock()
	if m.closed || m.transport != t {
		m.mu.Unlock()
		return
	}
	// The session's subscriptions died with it.
	for _, sub := range m.subs {
		sub.once.Do(func() { sub.live.Store(false) })
	}
	m.subs = make(map[string]*subscription)
	m.transport = nil
	m.connected = false
	m.mu.Unlock()

	_ = t.Close()
	m.logger.Warn("order book feed disconnected", slog.String("error", err.Error()))
	m.emitStatus(false)
}

func (m *Manager) emitStatus(connected bool) {
	m.handlerMu.RLock()
	handlers := m.statusHandlers
	m.handlerMu.RUnlock()
	for _, h := range handlers {
		h(connected)
	}
}
