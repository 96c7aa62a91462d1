package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	handshakeTimeout = 15 * time.Second
)

// BookTopic is the push destination for a symbol's ladder.
func BookTopic(symbol string) string {
	return "/topic/orderBook/" + strings.ToUpper(symbol)
}

// BookHandler receives every ladder pushed for a subscription.
type BookHandler func(domain.OrderBook)

type pushSub struct {
	symbol  string
	handler BookHandler
}

// PushClient is a single-use STOMP session over websocket. Subscriptions
// die with the connection; the owner opens a new client to recover.
type PushClient struct {
	wsURL  string
	token  TokenFunc
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	subs   map[string]pushSub
	nextID int

	writeMu sync.Mutex

	disconnectHandlers []func(error)
	handlerMu          sync.RWMutex
	disconnectOnce     sync.Once

	done chan struct{}
}

// NewPushClient creates a client for the STOMP endpoint, e.g.
// "wss://exchange.example.com/ws".
func NewPushClient(wsURL string, token TokenFunc, logger *slog.Logger) *PushClient {
	return &PushClient{
		wsURL:  wsURL,
		token:  token,
		logger: logger.With(slog.String("component", "exchange_push")),
		subs:   make(map[string]pushSub),
		done:   make(chan struct{}),
	}
}

// OnDisconnect registers a handler for an unexpected connection loss. It
// fires at most once.
func (p *PushClient) OnDisconnect(h func(error)) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.disconnectHandlers = append(p.disconnectHandlers, h)
}

// Connect dials the endpoint and completes the STOMP handshake.
func (p *PushClient) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed || p.conn != nil {
		p.mu.Unlock()
		return fmt.Errorf("exchange/push: %w", domain.ErrClosed)
	}
	p.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{"v12.stomp"},
	}
	conn, _, err := dialer.DialContext(ctx, p.wsURL, nil)
	if err != nil {
		return fmt.Errorf("exchange/push: connect: %w", err)
	}

	connect := frame.New(frame.CONNECT,
		"accept-version", "1.2",
		"host", hostOf(p.wsURL),
		"heart-beat", "0,0",
	)
	if p.token != nil {
		if tok := p.token(); tok != "" {
			connect.Header.Add("Authorization", "Bearer "+tok)
		}
	}
	raw, err := encodeFrame(connect)
	if err != nil {
		conn.Close()
		return fmt.Errorf("exchange/push: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		conn.Close()
		return fmt.Errorf("exchange/push: send connect: %w", err)
	}
	if err := awaitConnected(conn, deadline); err != nil {
		conn.Close()
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return fmt.Errorf("exchange/push: %w", domain.ErrClosed)
	}
	p.conn = conn
	p.mu.Unlock()

	go p.readLoop(conn)
	go p.pingLoop(conn)
	return nil
}

func awaitConnected(conn *websocket.Conn, deadline time.Time) error {
	conn.SetReadDeadline(deadline)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("exchange/push: await connected: %w", err)
		}
		frames, err := decodeFrames(raw)
		if err != nil {
			return fmt.Errorf("exchange/push: await connected: %w", err)
		}
		for _, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				return nil
			case frame.ERROR:
				return fmt.Errorf("exchange/push: connect refused: %s: %w", f.Header.Get("message"), domain.ErrUnauthorized)
			}
		}
	}
}

// Connected reports whether the session is open.
func (p *PushClient) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.closed
}

// Subscribe starts delivery of symbol's ladder to h and returns the
// subscription id.
func (p *PushClient) Subscribe(symbol string, h BookHandler) (string, error) {
	p.mu.Lock()
	if p.conn == nil || p.closed {
		p.mu.Unlock()
		return "", fmt.Errorf("exchange/push: subscribe %s: %w", symbol, domain.ErrNotConnected)
	}
	p.nextID++
	id := "sub-" + strconv.Itoa(p.nextID)
	p.subs[id] = pushSub{symbol: strings.ToUpper(symbol), handler: h}
	conn := p.conn
	p.mu.Unlock()

	sub := frame.New(frame.SUBSCRIBE, "id", id, "destination", BookTopic(symbol), "ack", "auto")
	if err := p.write(conn, sub); err != nil {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
		return "", fmt.Errorf("exchange/push: subscribe %s: %w", symbol, err)
	}
	return id, nil
}

// Unsubscribe stops delivery for id. Unknown ids are ignored.
func (p *PushClient) Unsubscribe(id string) error {
	p.mu.Lock()
	if _, ok := p.subs[id]; !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.subs, id)
	conn := p.conn
	closed := p.closed
	p.mu.Unlock()

	if conn == nil || closed {
		return nil
	}
	if err := p.write(conn, frame.New(frame.UNSUBSCRIBE, "id", id)); err != nil {
		return fmt.Errorf("exchange/push: unsubscribe %s: %w", id, err)
	}
	return nil
}

// Close sends DISCONNECT and closes the socket. Disconnect handlers are not
// invoked.
func (p *PushClient) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	conn := p.conn
	p.subs = make(map[string]pushSub)
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = p.write(conn, frame.New(frame.DISCONNECT))
	p.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	p.writeMu.Unlock()
	return conn.Close()
}

func (p *PushClient) write(conn *websocket.Conn, f *frame.Frame) error {
	raw, err := encodeFrame(f)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (p *PushClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			p.fireDisconnect(fmt.Errorf("exchange/push: read: %w", err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		frames, err := decodeFrames(raw)
		if err != nil {
			p.logger.Debug("dropping malformed frame", slog.String("error", err.Error()))
		}
		for _, f := range frames {
			switch f.Command {
			case frame.ERROR:
				p.logger.Warn("push channel error frame", slog.String("message", f.Header.Get("message")))
			case frame.MESSAGE:
				p.dispatch(f)
			}
		}
	}
}

func (p *PushClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// dispatch routes a MESSAGE frame to its subscription. Unreadable ladders
// are dropped without affecting the session.
func (p *PushClient) dispatch(f *frame.Frame) {
	id := f.Header.Get("subscription")
	p.mu.Lock()
	sub, ok := p.subs[id]
	p.mu.Unlock()
	if !ok {
		return
	}

	book, err := ParseOrderBook(sub.symbol, f.Body, domain.BookSourcePush, time.Now())
	if err != nil {
		p.logger.Debug("dropping malformed order book",
			slog.String("symbol", sub.symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	sub.handler(book)
}

func (p *PushClient) fireDisconnect(err error) {
	p.disconnectOnce.Do(func() {
		p.mu.Lock()
		p.subs = make(map[string]pushSub)
		p.mu.Unlock()

		p.handlerMu.RLock()
		handlers := p.disconnectHandlers
		p.handlerMu.RUnlock()
		for _, h := range handlers {
			h(err)
		}
	})
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
