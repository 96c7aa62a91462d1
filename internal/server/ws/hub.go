// Package ws relays signal-bus traffic to presentation clients over
// websocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// relayedChannels are the bus channels the hub listens on.
var relayedChannels = []string{
	domain.ChannelPrices,
	domain.ChannelBookAll,
	domain.ChannelOrder,
	domain.ChannelStatus,
	domain.ChannelToast,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusFunc reports the connection flags sent to a client on connect.
type StatusFunc func() domain.FeedStatus

// FocusFunc selects the asset whose order book is relayed.
type FocusFunc func(ctx context.Context, symbol string)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

// clientMsg is a control message sent by a client. Channels may be exact
// names or glob patterns such as "ch:book:*".
type clientMsg struct {
	Action   string   `json:"action"` // subscribe, unsubscribe, focus
	Channels []string `json:"channels"`
	Symbol   string   `json:"symbol"`
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub fans bus signals out to connected clients according to each client's
// subscriptions. New clients start subscribed to every relayed channel.
type Hub struct {
	bus    domain.SignalBus
	status StatusFunc
	focus  FocusFunc
	logger *slog.Logger

	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	ctx        context.Context
}

// NewHub creates a hub. focus may be nil.
func NewHub(bus domain.SignalBus, status StatusFunc, focus FocusFunc, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		status:     status,
		focus:      focus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		ctx:        context.Background(),
	}
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	for _, ch := range relayedChannels {
		if err := h.subscribe(ctx, ch); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) context() context.Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ctx
}

func (h *Hub) subscribe(ctx context.Context, channel string) error {
	sigs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigs:
				if !ok {
					return
				}
				select {
				case h.broadcast <- broadcastMsg{channel: sig.Channel, data: sig.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(relayedChannels)),
	}
	for _, ch := range relayedChannels {
		c.subs[ch] = true
	}

	c.sendStatus()
	select {
	case h.register <- c:
	case <-h.context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.context().Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg clientMsg) {
	switch msg.Action {
	case "subscribe":
		c.mu.Lock()
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
		c.mu.Unlock()
	case "focus":
		symbol := strings.ToUpper(strings.TrimSpace(msg.Symbol))
		if symbol == "" || c.hub.focus == nil {
			return
		}
		go c.hub.focus(c.hub.context(), symbol)
	}
}

// sendStatus gives the client the connection flags right away, before any
// market traffic flows.
func (c *client) sendStatus() {
	if c.hub.status == nil {
		return
	}
	msg, err := json.Marshal(domain.Envelope{Type: "status", Payload: c.hub.status()})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if ok, _ := path.Match(sub, channel); ok {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
