package binance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between frames before the connection is
	// considered dead. The ticker stream pushes every second.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// TickerBatchHandler is called with every validated ticker batch.
type TickerBatchHandler func([]domain.Ticker)

// DisconnectHandler is called once when the connection drops for any
// reason other than Close.
type DisconnectHandler func(error)

// StreamClient is a single-use connection to the ticker stream. It does not
// reconnect on its own; the owner creates a new client per attempt.
type StreamClient struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	tickerHandlers     []TickerBatchHandler
	disconnectHandlers []DisconnectHandler
	handlerMu          sync.RWMutex

	disconnectOnce sync.Once

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewStreamClient creates a client for the given stream URL, e.g.
// "wss://stream.binance.com:9443/ws/!ticker@arr".
func NewStreamClient(wsURL string, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "binance_ws")),
		done:   make(chan struct{}),
	}
}

// OnTickers registers a handler for ticker batches.
func (s *StreamClient) OnTickers(h TickerBatchHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.tickerHandlers = append(s.tickerHandlers, h)
}

// OnDisconnect registers a handler for an unexpected connection loss.
func (s *StreamClient) OnDisconnect(h DisconnectHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.disconnectHandlers = append(s.disconnectHandlers, h)
}

// Connect dials the stream and starts the read and ping loops.
func (s *StreamClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("binance/ws: %w", domain.ErrClosed)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}
	s.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop(conn)
	go s.pingLoop(conn)
	return nil
}

// Close shuts the connection down without invoking disconnect handlers.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

func (s *StreamClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.fireDisconnect(fmt.Errorf("binance/ws: read: %w", err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(message)
	}
}

func (s *StreamClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.mu.RUnlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage decodes a frame and dispatches it. Malformed frames are
// dropped; they never end the connection.
func (s *StreamClient) handleMessage(raw []byte) {
	tickers, dropped, err := ParseTickerBatch(raw)
	if err != nil {
		s.logger.Debug("dropping malformed frame", slog.String("error", err.Error()))
		return
	}
	if dropped > 0 {
		s.logger.Debug("dropped invalid ticker records", slog.Int("dropped", dropped))
	}
	if len(tickers) == 0 {
		return
	}

	s.handlerMu.RLock()
	handlers := s.tickerHandlers
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		h(tickers)
	}
}

func (s *StreamClient) fireDisconnect(err error) {
	s.disconnectOnce.Do(func() {
		s.handlerMu.RLock()
		handlers := s.disconnectHandlers
		s.handlerMu.RUnlock()

		for _, h := range handlers {
			h(err)
		}
	})
}
