package orderbook_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/orderbook"
	"github.com/alanyoungcy/marketsync/internal/platform/exchange"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records every call in order and lets tests push ladders.
type fakeTransport struct {
	mu         sync.Mutex
	calls      []string
	handlers   map[string]exchange.BookHandler
	nextID     int
	connectErr error
	drop       func(error)
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]exchange.BookHandler),
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "connect")
	return f.connectErr
}

func (f *fakeTransport) Subscribe(symbol string, h exchange.BookHandler) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.handlers[id] = h
	f.calls = append(f.calls, "subscribe "+symbol+" "+id)
	return id, nil
}

func (f *fakeTransport) Unsubscribe(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
	f.calls = append(f.calls, "unsubscribe "+id)
	return nil
}

func (f *fakeTransport) OnDisconnect(h func(error)) { f.drop = h }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.calls = append(f.calls, "close")
	return nil
}

func (f *fakeTransport) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// push invokes the handler registered under id, if any.
func (f *fakeTransport) push(id string, book domain.OrderBook) {
	f.mu.Lock()
	h := f.handlers[id]
	f.mu.Unlock()
	if h != nil {
		h(book)
	}
}

func connectedManager(t *testing.T) (*orderbook.Manager, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	m := orderbook.NewManager(func() orderbook.Transport { return ft }, discardLogger())
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { m.Close() })
	return m, ft
}

func TestSubscribeWhileDisconnectedIsNoop(t *testing.T) {
	ft := newFakeTransport()
	m := orderbook.NewManager(func() orderbook.Transport { return ft }, discardLogger())

	unsubscribe := m.Subscribe("BTCUSDT", func(domain.OrderBook) {})
	require.NotNil(t, unsubscribe)
	unsubscribe()
	unsubscribe()

	assert.Empty(t, ft.log())
	assert.Empty(t, m.Subscriptions())
}

func TestResubscribeCancelsPriorFirst(t *testing.T) {
	m, ft := connectedManager(t)

	var first, second int
	m.Subscribe("btcusdt", func(domain.OrderBook) { first++ })
	m.Subscribe("BTCUSDT", func(domain.OrderBook) { second++ })

	assert.Equal(t, []string{
		"connect",
		"subscribe BTCUSDT sub-1",
		"unsubscribe sub-1",
		"subscribe BTCUSDT sub-2",
	}, ft.log())
	assert.Equal(t, []string{"BTCUSDT"}, m.Subscriptions())

	book := domain.EmptyOrderBook("BTCUSDT")
	ft.push("sub-1", book)
	ft.push("sub-2", book)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestStaleHandleIsIgnoredAfterResubscribe(t *testing.T) {
	m, ft := connectedManager(t)

	var delivered int
	stale := m.Subscribe("BTCUSDT", func(domain.OrderBook) {})
	m.Subscribe("BTCUSDT", func(domain.OrderBook) { delivered++ })

	stale()
	assert.Equal(t, []string{"BTCUSDT"}, m.Subscriptions())

	ft.push("sub-2", domain.EmptyOrderBook("BTCUSDT"))
	assert.Equal(t, 1, delivered)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m, ft := connectedManager(t)

	unsubscribe := m.Subscribe("ETHUSDT", func(domain.OrderBook) {})
	unsubscribe()
	unsubscribe()

	unsubs := 0
	for _, c := range ft.log() {
		if c == "unsubscribe sub-1" {
			unsubs++
		}
	}
	assert.Equal(t, 1, unsubs)
	assert.Empty(t, m.Subscriptions())
}

func TestUpdatesDeliveredVerbatim(t *testing.T) {
	m, ft := connectedManager(t)

	var got []domain.OrderBook
	m.Subscribe("SOLUSDT", func(b domain.OrderBook) { got = append(got, b) })

	one, err := exchange.ParseOrderBook("SOLUSDT", []byte(`{"bids":[{"price":1,"quantity":1}],"asks":[]}`), domain.BookSourcePush, time.Now())
	require.NoError(t, err)
	two, err := exchange.ParseOrderBook("SOLUSDT", []byte(`{"bids":[],"asks":[{"price":2,"quantity":3}]}`), domain.BookSourcePush, time.Now())
	require.NoError(t, err)

	ft.push("sub-1", one)
	ft.push("sub-1", two)
	require.Len(t, got, 2)
	assert.Equal(t, two, got[1])
}

func TestCloseCancelsEverything(t *testing.T) {
	m, ft := connectedManager(t)

	var statuses []bool
	m.OnStatus(func(c bool) { statuses = append(statuses, c) })

	m.Subscribe("BTCUSDT", func(domain.OrderBook) {})
	m.Subscribe("ETHUSDT", func(domain.OrderBook) {})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	log := ft.log()
	assert.Contains(t, log, "unsubscribe sub-1")
	assert.Contains(t, log, "unsubscribe sub-2")
	assert.Equal(t, "close", log[len(log)-1])
	assert.Empty(t, m.Subscriptions())
	assert.False(t, m.Connected())
	assert.Equal(t, []bool{false}, statuses)

	assert.ErrorIs(t, m.Connect(context.Background()), domain.ErrClosed)
}

func TestDropClearsSubscriptions(t *testing.T) {
	m, ft := connectedManager(t)

	var statuses []bool
	m.OnStatus(func(c bool) { statuses = append(statuses, c) })

	var delivered int
	m.Subscribe("BTCUSDT", func(domain.OrderBook) { delivered++ })
	ft.drop(errors.New("eof"))

	assert.False(t, m.Connected())
	assert.Empty(t, m.Subscriptions())
	assert.Equal(t, []bool{false}, statuses)

	ft.push("sub-1", domain.EmptyOrderBook("BTCUSDT"))
	assert.Equal(t, 0, delivered)

	noop := m.Subscribe("BTCUSDT", func(domain.OrderBook) {})
	noop()

	// A retry opens a new session.
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.Connected())
	assert.Equal(t, []bool{false, true}, statuses)
}

func TestConnectFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = errors.New("refused")
	m := orderbook.NewManager(func() orderbook.Transport { return ft }, discardLogger())

	require.Error(t, m.Connect(context.Background()))
	assert.False(t, m.Connected())
}

func TestSnapshotAndPushRenderIdentically(t *testing.T) {
	body := `{"bids":[{"price":"99","quantity":1},{"price":"101","quantity":2},{"price":"100","quantity":3}],` +
		`"asks":[{"price":"105","quantity":1},{"price":"102","quantity":2}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	loader := orderbook.NewLoader(exchange.NewClient(srv.URL, time.Second, nil), nil, discardLogger())
	snapshot := loader.Load(context.Background(), "BTCUSDT")

	m, ft := connectedManager(t)
	var pushed domain.OrderBook
	m.Subscribe("BTCUSDT", func(b domain.OrderBook) { pushed = b })
	book, err := exchange.ParseOrderBook("BTCUSDT", []byte(body), domain.BookSourcePush, time.Now())
	require.NoError(t, err)
	ft.push("sub-1", book)

	assert.Equal(t, snapshot.Display(), pushed.Display())
	d := pushed.Display()
	assert.Equal(t, "101", d.Bids[0].Price.String())
	assert.Equal(t, "102", d.Asks[0].Price.String())
}
