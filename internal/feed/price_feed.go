package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/platform/binance"
	"github.com/alanyoungcy/marketsync/internal/scheduler"
)

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultDirectionDecay = 800 * time.Millisecond

	reconnectKey   = "reconnect"
	connectTimeout = 15 * time.Second
)

// Config configures a PriceFeed.
type Config struct {
	StreamURL      string
	Catalog        []domain.AssetInfo
	ReconnectDelay time.Duration
	DirectionDecay time.Duration
	Clock          scheduler.Clock
}

// Batch describes the effect of one applied ticker batch. Changed holds the
// tracked assets whose state changed; Details holds every upserted symbol.
type Batch struct {
	Changed []domain.Asset
	Details map[string]domain.MarketDetails
}

// BatchHandler observes applied batches and direction resets.
type BatchHandler func(Batch)

// StatusHandler observes connected/disconnected transitions.
type StatusHandler func(connected bool)

// PriceFeed owns one persistent connection to the ticker stream. It keeps
// the tracked assets and a superset cache of market details, and reconnects
// after a fixed delay whenever the connection drops or cannot be opened.
type PriceFeed struct {
	cfg    Config
	logger *slog.Logger

	tracker    *DirectionTracker
	reconnects *scheduler.Arena

	mu        sync.RWMutex
	assets    []domain.Asset
	index     map[string]int
	seq       map[string]uint64
	details   map[string]domain.MarketDetails
	client    *binance.StreamClient
	connected bool
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc

	handlerMu      sync.RWMutex
	batchHandlers  []BatchHandler
	statusHandlers []StatusHandler
}

// NewPriceFeed creates a feed seeded from the catalog with price "0.00".
// Nothing connects until Start.
func NewPriceFeed(cfg Config, logger *slog.Logger) *PriceFeed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.DirectionDecay <= 0 {
		cfg.DirectionDecay = DefaultDirectionDecay
	}
	if cfg.Clock == nil {
		cfg.Clock = scheduler.RealClock()
	}

	assets := make([]domain.Asset, 0, len(cfg.Catalog))
	index := make(map[string]int, len(cfg.Catalog))
	for _, info := range cfg.Catalog {
		if _, dup := index[info.Symbol]; dup {
			continue
		}
		index[info.Symbol] = len(assets)
		assets = append(assets, domain.Asset{
			AssetInfo: info,
			Price:     "0.00",
			Direction: domain.DirectionNone,
		})
	}

	return &PriceFeed{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "price_feed")),
		tracker:    NewDirectionTracker(cfg.Clock, cfg.DirectionDecay),
		reconnects: scheduler.NewArena(cfg.Clock),
		assets:     assets,
		index:      index,
		seq:        make(map[string]uint64, len(assets)),
		details:    make(map[string]domain.MarketDetails),
	}
}

// OnBatch registers an observer for applied batches.
func (f *PriceFeed) OnBatch(h BatchHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.batchHandlers = append(f.batchHandlers, h)
}

// OnStatus registers an observer for connection state transitions.
func (f *PriceFeed) OnStatus(h StatusHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.statusHandlers = append(f.statusHandlers, h)
}

// Start makes the first connection attempt. Failures are not returned; they
// schedule a reconnect like any later drop. Start is a no-op after the first
// call or after Close.
func (f *PriceFeed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.closed || f.ctx != nil {
		f.mu.Unlock()
		return
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	f.connect()
}

// Close tears the feed down: the connection is closed, the pending
// reconnect is cancelled and every pending direction reset is cancelled.
func (f *PriceFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	client := f.client
	f.client = nil
	f.connected = false
	cancel := f.cancel
	f.mu.Unlock()

	f.reconnects.Close()
	f.tracker.Close()
	if cancel != nil {
		cancel()
	}
	if client != nil {
		_ = client.Close()
	}
	f.logger.Info("market feed closed")
}

// Connected reports whether the stream is currently open.
func (f *PriceFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Assets returns a copy of the tracked assets in catalog order.
func (f *PriceFeed) Assets() []domain.Asset {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.Asset, len(f.assets))
	copy(out, f.assets)
	return out
}

// Asset returns the tracked asset for symbol.
func (f *PriceFeed) Asset(symbol string) (domain.Asset, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx, ok := f.index[symbol]
	if !ok {
		return domain.Asset{}, false
	}
	return f.assets[idx], true
}

// Price returns the latest price of a tracked symbol.
func (f *PriceFeed) Price(symbol string) (string, bool) {
	a, ok := f.Asset(symbol)
	if !ok {
		return "", false
	}
	return a.Price, true
}

// Details returns the latest details for any symbol seen on the stream.
// Symbols never seen report false rather than a zero value.
func (f *PriceFeed) Details(symbol string) (domain.MarketDetails, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.details[symbol]
	return d, ok
}

func (f *PriceFeed) connect() {
	client := binance.NewStreamClient(f.cfg.StreamURL, f.logger)

	f.mu.Lock()
	if f.closed || f.client != nil || f.ctx == nil {
		f.mu.Unlock()
		return
	}
	f.client = client
	ctx := f.ctx
	f.mu.Unlock()

	client.OnTickers(f.applyBatch)
	client.OnDisconnect(func(err error) { f.handleDrop(client, err) })

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		f.mu.Lock()
		if f.client == client {
			f.client = nil
		}
		f.mu.Unlock()
		f.logger.Warn("market feed connect failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("delay", f.cfg.ReconnectDelay),
		)
		f.scheduleReconnect()
		return
	}

	f.mu.Lock()
	if f.client != client {
		// Closed or dropped while the handshake was completing.
		f.mu.Unlock()
		return
	}
	f.connected = true
	f.mu.Unlock()

	f.logger.Info("market feed connected", slog.String("url", f.cfg.StreamURL))
	f.emitStatus(true)
}

func (f *PriceFeed) handleDrop(client *binance.StreamClient, err error) {
	f.mu.Lock()
	if f.closed || f.client != client {
		f.mu.Unlock()
		return
	}
	f.client = nil
	wasConnected := f.connected
	f.connected = false
	f.mu.Unlock()

	_ = client.Close()
	f.logger.Warn("market feed disconnected, reconnecting",
		slog.String("error", err.Error()),
		slog.Duration("delay", f.cfg.ReconnectDelay),
	)
	if wasConnected {
		f.emitStatus(false)
	}
	f.scheduleReconnect()
}

func (f *PriceFeed) scheduleReconnect() {
	f.reconnects.Schedule(reconnectKey, f.cfg.ReconnectDelay, f.connect)
}

// applyBatch folds a ticker batch into the asset list and the details
// cache. All updates of one batch are applied under a single lock.
func (f *PriceFeed) applyBatch(tickers []domain.Ticker) {
	batch := Batch{Details: make(map[string]domain.MarketDetails, len(tickers))}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	for _, t := range tickers {
		d := t.Details()
		f.details[t.Symbol] = d
		batch.Details[t.Symbol] = d

		idx, ok := f.index[t.Symbol]
		if !ok || t.LastPrice == "" {
			continue
		}
		a := &f.assets[idx]
		if t.LastPrice == a.Price {
			continue
		}
		a.PrevPrice = a.Price
		a.Price = t.LastPrice
		a.Direction = Compare(a.PrevPrice, a.Price)

		f.seq[t.Symbol]++
		symbol, seq := t.Symbol, f.seq[t.Symbol]
		f.tracker.Mark(symbol, func() { f.clearDirection(symbol, seq) })

		batch.Changed = append(batch.Changed, *a)
	}
	f.mu.Unlock()

	f.emitBatch(batch)
}

// clearDirection resets the direction of symbol unless a newer price has
// been applied since the reset was scheduled.
func (f *PriceFeed) clearDirection(symbol string, seq uint64) {
	f.mu.Lock()
	idx, ok := f.index[symbol]
	if f.closed || !ok || f.seq[symbol] != seq {
		f.mu.Unlock()
		return
	}
	f.assets[idx].Direction = domain.DirectionNone
	asset := f.assets[idx]
	f.mu.Unlock()

	f.emitBatch(Batch{Changed: []domain.Asset{asset}})
}

func (f *PriceFeed) emitBatch(b Batch) {
	f.handlerMu.RLock()
	handlers := f.batchHandlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(b)
	}
}

func (f *PriceFeed) emitStatus(connected bool) {
	f.handlerMu.RLock()
	handlers := f.statusHandlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(connected)
	}
}
