package exchange

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stompBroker is a minimal broker: it acknowledges CONNECT, records every
// frame and answers SUBSCRIBE with one ladder.
type stompBroker struct {
	upgrader websocket.Upgrader
	refuse   bool

	mu     sync.Mutex
	frames []*frame.Frame
	conn   *websocket.Conn
}

func (b *stompBroker) send(conn *websocket.Conn, frames ...*frame.Frame) {
	var msg []byte
	for _, f := range frames {
		raw, err := encodeFrame(f)
		if err != nil {
			return
		}
		msg = append(msg, raw...)
	}
	conn.WriteMessage(websocket.TextMessage, msg)
}

func (b *stompBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames, _ := decodeFrames(raw)
		for _, f := range frames {
			b.mu.Lock()
			b.frames = append(b.frames, f)
			b.mu.Unlock()

			switch f.Command {
			case frame.CONNECT:
				if b.refuse {
					b.send(conn, frame.New(frame.ERROR, "message", "bad credentials"))
					continue
				}
				b.send(conn, frame.New(frame.CONNECTED, "version", "1.2"))
			case frame.SUBSCRIBE:
				msg := frame.New(frame.MESSAGE, "subscription", f.Header.Get("id"), "destination", f.Header.Get("destination"))
				msg.Body = []byte(`{"bids":[{"price":1,"quantity":2}],"asks":[{"price":3,"quantity":4}]}`)
				bad := frame.New(frame.MESSAGE, "subscription", f.Header.Get("id"))
				bad.Body = []byte(`not json`)
				b.send(conn, bad, msg)
			}
		}
	}
}

func (b *stompBroker) commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.frames))
	for _, f := range b.frames {
		out = append(out, f.Command)
	}
	return out
}

func (b *stompBroker) hangUp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
	}
}

func brokerURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPushClientSubscribe(t *testing.T) {
	broker := &stompBroker{}
	srv := httptest.NewServer(broker)
	defer srv.Close()

	p := NewPushClient(brokerURL(srv), staticToken("tok"), discardLogger())
	require.NoError(t, p.Connect(context.Background()))
	defer p.Close()
	assert.True(t, p.Connected())

	books := make(chan domain.OrderBook, 4)
	id, err := p.Subscribe("btcusdt", func(b domain.OrderBook) { books <- b })
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case book := <-books:
		assert.Equal(t, "BTCUSDT", book.Symbol)
		assert.Equal(t, domain.BookSourcePush, book.Source)
		require.Len(t, book.Bids, 1)
		require.Len(t, book.Asks, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no order book delivered")
	}

	require.NoError(t, p.Unsubscribe(id))
	require.NoError(t, p.Unsubscribe(id))

	require.Eventually(t, func() bool {
		cmds := broker.commands()
		return len(cmds) == 3 && cmds[2] == frame.UNSUBSCRIBE
	}, 2*time.Second, 10*time.Millisecond)

	broker.mu.Lock()
	connect, sub := broker.frames[0], broker.frames[1]
	broker.mu.Unlock()
	assert.Equal(t, "1.2", connect.Header.Get("accept-version"))
	assert.Equal(t, "Bearer tok", connect.Header.Get("Authorization"))
	assert.Equal(t, "/topic/orderBook/BTCUSDT", sub.Header.Get("destination"))
}

func TestPushClientRefused(t *testing.T) {
	srv := httptest.NewServer(&stompBroker{refuse: true})
	defer srv.Close()

	p := NewPushClient(brokerURL(srv), nil, discardLogger())
	err := p.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, p.Connected())
}

func TestPushClientSubscribeBeforeConnect(t *testing.T) {
	p := NewPushClient("ws://127.0.0.1:1", nil, discardLogger())
	_, err := p.Subscribe("BTCUSDT", func(domain.OrderBook) {})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestPushClientDisconnect(t *testing.T) {
	broker := &stompBroker{}
	srv := httptest.NewServer(broker)
	defer srv.Close()

	p := NewPushClient(brokerURL(srv), nil, discardLogger())
	drops := make(chan error, 2)
	p.OnDisconnect(func(err error) { drops <- err })
	require.NoError(t, p.Connect(context.Background()))
	defer p.Close()

	broker.hangUp()
	select {
	case err := <-drops:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not reported")
	}
}

func TestPushClientCloseSendsDisconnect(t *testing.T) {
	broker := &stompBroker{}
	srv := httptest.NewServer(broker)
	defer srv.Close()

	p := NewPushClient(brokerURL(srv), nil, discardLogger())
	fired := false
	p.OnDisconnect(func(error) { fired = true })
	require.NoError(t, p.Connect(context.Background()))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.False(t, p.Connected())

	require.Eventually(t, func() bool {
		cmds := broker.commands()
		return len(cmds) == 2 && cmds[1] == frame.DISCONNECT
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, fired)
}
