// Package terminal composes the market feed, the order-book channel and the
// order coordinator into one read/command surface, and relays their state
// onto the signal bus for presentation clients.
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/feed"
	"github.com/alanyoungcy/marketsync/internal/notify"
	"github.com/alanyoungcy/marketsync/internal/orderbook"
	"github.com/alanyoungcy/marketsync/internal/service"
)

// Envelope types published on the bus.
const (
	EventPrices = "prices"
	EventBook   = "book"
	EventStatus = "status"
	EventOrders = "orders"
	EventForm   = "form"
)

const (
	msgMarketFeedLost = "Lost connection with market feed"
	publishTimeout    = 2 * time.Second
	mirrorTimeout     = 5 * time.Second
)

// OrderLister returns the backend's order list for a user.
type OrderLister interface {
	GetOrders(ctx context.Context, userID string) ([]domain.Order, error)
}

// CandleSource returns price history for charting.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol string, interval domain.CandleInterval, start, end time.Time) ([]domain.Candle, error)
}

// Deps groups the terminal's collaborators. History and Details are
// optional.
type Deps struct {
	Feed        *feed.PriceFeed
	Books       *orderbook.Manager
	Loader      *orderbook.Loader
	Store       *orderbook.Store
	Coordinator *service.OrderCoordinator
	Balances    *service.BalanceService
	Sessions    *service.SessionStore
	Orders      OrderLister
	History     domain.OrderHistory
	Candles     CandleSource
	Details     domain.DetailsCache
	Bus         domain.SignalBus
	Notifier    *notify.Notifier
}

// BookView is the payload of a book envelope.
type BookView struct {
	Symbol string            `json:"symbol"`
	Source domain.BookSource `json:"source"`
	domain.DisplayBook
}

type outboxKey struct {
	channel string
	typ     string
}

// Terminal is the composition root shared by every mode.
type Terminal struct {
	deps   Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mirrorMu      sync.Mutex
	mirrorPending map[string]domain.MarketDetails
	mirrorWake    chan struct{}

	outMu      sync.Mutex
	outQueue   []outboxKey
	outPending map[outboxKey]any
	outWake    chan struct{}

	mu        sync.Mutex
	focus     string
	unfocus   func()
	feedLost  bool
	started   bool
	closeOnce sync.Once
}

// New wires the observers between components. Nothing connects until
// Start.
func New(deps Deps, logger *slog.Logger) *Terminal {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Terminal{
		deps:          deps,
		logger:        logger.With(slog.String("component", "terminal")),
		ctx:           ctx,
		cancel:        cancel,
		mirrorPending: make(map[string]domain.MarketDetails),
		mirrorWake:    make(chan struct{}, 1),
		outPending:    make(map[outboxKey]any),
		outWake:       make(chan struct{}, 1),
	}
	if deps.Bus != nil {
		t.wg.Add(1)
		go t.publishLoop()
	}

	deps.Feed.OnBatch(t.onBatch)
	deps.Feed.OnStatus(t.onFeedStatus)
	deps.Books.OnStatus(func(bool) { t.publish(domain.ChannelStatus, EventStatus, t.Status()) })

	deps.Coordinator.OnNotice(func(n service.Notice) {
		t.notify(notify.Toast{Kind: notify.KindOrder, Level: notify.Level(n.Level), Message: n.Message, OrderID: n.OrderID})
	})
	deps.Coordinator.OnOrders(func(orders []domain.Order) { t.publish(domain.ChannelOrder, EventOrders, orders) })
	deps.Coordinator.OnFormReset(func(f domain.OrderForm) { t.publish(domain.ChannelOrder, EventForm, f) })

	return t
}

// Start connects the market feed and the order-book channel and loads the
// user's orders. Connection failures are logged, never returned: the feed
// retries on its own and the book channel reconnects on the next Focus.
func (t *Terminal) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	if t.deps.Details != nil {
		t.wg.Add(1)
		go t.mirrorLoop()
	}

	t.deps.Feed.Start(t.ctx)
	if err := t.deps.Books.Connect(ctx); err != nil {
		t.logger.WarnContext(ctx, "terminal: order book feed unavailable", slog.String("error", err.Error()))
	}
	t.loadOrders(ctx)
}

// Close stops every component. Subscriptions, timers and order streams are
// all released.
func (t *Terminal) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		unfocus := t.unfocus
		t.unfocus = nil
		t.mu.Unlock()
		if unfocus != nil {
			unfocus()
		}

		t.deps.Coordinator.Close()
		if err := t.deps.Books.Close(); err != nil {
			t.logger.Debug("terminal: order book close", slog.String("error", err.Error()))
		}
		t.deps.Feed.Close()
		t.cancel()
		t.wg.Wait()
	})
}

// Assets returns the tracked assets in catalog order.
func (t *Terminal) Assets() []domain.Asset {
	return t.deps.Feed.Assets()
}

// GetPrice returns the latest price of a tracked symbol.
func (t *Terminal) GetPrice(symbol string) (string, bool) {
	return t.deps.Feed.Price(strings.ToUpper(symbol))
}

// GetDetails returns the latest details for symbol, falling back to the
// shared mirror for symbols this process has not seen.
func (t *Terminal) GetDetails(ctx context.Context, symbol string) (domain.MarketDetails, bool) {
	symbol = strings.ToUpper(symbol)
	if d, ok := t.deps.Feed.Details(symbol); ok {
		return d, true
	}
	if t.deps.Details == nil {
		return domain.MarketDetails{}, false
	}
	d, err := t.deps.Details.GetDetails(ctx, symbol)
	if err != nil {
		return domain.MarketDetails{}, false
	}
	return d, true
}

// Status reports both connection flags.
func (t *Terminal) Status() domain.FeedStatus {
	return domain.FeedStatus{
		MarketFeed:    t.deps.Feed.Connected(),
		OrderBookFeed: t.deps.Books.Connected(),
	}
}

// SubscribeToOrderBook delivers pushed ladders for symbol to onUpdate. A
// closed channel is reopened first.
func (t *Terminal) SubscribeToOrderBook(ctx context.Context, symbol string, onUpdate orderbook.UpdateFunc) func() {
	if !t.deps.Books.Connected() {
		if err := t.deps.Books.Connect(ctx); err != nil {
			t.logger.WarnContext(ctx, "terminal: order book reconnect failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return t.deps.Books.Subscribe(symbol, func(book domain.OrderBook) {
		t.deps.Store.Apply(book)
		onUpdate(book)
	})
}

// LoadOrderBook fetches the REST snapshot for symbol. A failed fetch yields
// an empty book.
func (t *Terminal) LoadOrderBook(ctx context.Context, symbol string) domain.OrderBook {
	book := t.deps.Loader.Load(ctx, symbol)
	t.deps.Store.Apply(book)
	t.publishBook(book)
	return book
}

// OrderBook returns the latest ladder held for symbol from either path.
func (t *Terminal) OrderBook(symbol string) (domain.OrderBook, bool) {
	return t.deps.Store.Get(strings.ToUpper(symbol))
}

// Focus makes symbol the selected asset: its snapshot is loaded and its
// pushed ladders are relayed on the bus. The previously focused symbol's
// subscription is cancelled.
func (t *Terminal) Focus(ctx context.Context, symbol string) domain.OrderBook {
	symbol = strings.ToUpper(symbol)

	t.mu.Lock()
	if t.focus == symbol && t.unfocus != nil && t.deps.Books.Connected() {
		t.mu.Unlock()
		book, _ := t.deps.Store.Get(symbol)
		return book
	}
	prev := t.unfocus
	t.focus, t.unfocus = symbol, nil
	t.mu.Unlock()

	if prev != nil {
		prev()
	}

	book := t.LoadOrderBook(ctx, symbol)
	unsub := t.SubscribeToOrderBook(ctx, symbol, t.publishBook)

	t.mu.Lock()
	if t.focus == symbol {
		t.unfocus = unsub
		unsub = nil
	}
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return book
}

// SubmitOrder places an order for the current session.
func (t *Terminal) SubmitOrder(ctx context.Context, form domain.OrderForm) (string, error) {
	return t.deps.Coordinator.Submit(ctx, form)
}

// Orders returns the session's order list.
func (t *Terminal) Orders() []domain.Order {
	return t.deps.Coordinator.Orders()
}

// Form returns the order-entry state.
func (t *Terminal) Form() domain.OrderForm {
	return t.deps.Coordinator.Form()
}

// Balance returns the session user's wallet balance.
func (t *Terminal) Balance(ctx context.Context) decimal.Decimal {
	s := t.deps.Sessions.Current()
	if s.UserID == "" {
		return decimal.Zero
	}
	return t.deps.Balances.Balance(ctx, s.UserID)
}

// Candles returns price history for symbol. A zero end means now.
func (t *Terminal) Candles(ctx context.Context, symbol string, interval domain.CandleInterval, start, end time.Time) ([]domain.Candle, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("terminal: candles: interval %q: %w", interval, domain.ErrInvalidOrder)
	}
	if end.IsZero() {
		end = time.Now()
	}
	candles, err := t.deps.Candles.GetCandles(ctx, strings.ToUpper(symbol), interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("terminal: candles %s: %w", symbol, err)
	}
	return candles, nil
}

func (t *Terminal) loadOrders(ctx context.Context) {
	s := t.deps.Sessions.Current()
	if !s.Authenticated(time.Now()) {
		return
	}

	orders, err := t.deps.Orders.GetOrders(ctx, s.UserID)
	if err != nil {
		t.logger.WarnContext(ctx, "terminal: order list unavailable", slog.String("error", err.Error()))
		if t.deps.History == nil {
			return
		}
		if orders, err = t.deps.History.History(ctx, s.UserID); err != nil {
			t.logger.DebugContext(ctx, "terminal: order journal unavailable", slog.String("error", err.Error()))
			return
		}
	}
	t.deps.Coordinator.SetOrders(orders)
}

func (t *Terminal) onBatch(b feed.Batch) {
	if len(b.Changed) > 0 {
		t.publishPrices(b.Changed)
	}
	if t.deps.Details == nil || len(b.Details) == 0 {
		return
	}

	t.mirrorMu.Lock()
	for symbol, d := range b.Details {
		t.mirrorPending[symbol] = d
	}
	t.mirrorMu.Unlock()
	select {
	case t.mirrorWake <- struct{}{}:
	default:
	}
}

// mirrorLoop writes the newest details per symbol to the shared mirror.
// Intermediate updates that arrive while a write is in flight are merged.
func (t *Terminal) mirrorLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.mirrorWake:
		}

		t.mirrorMu.Lock()
		pending := t.mirrorPending
		t.mirrorPending = make(map[string]domain.MarketDetails, len(pending))
		t.mirrorMu.Unlock()

		ctx, cancel := context.WithTimeout(t.ctx, mirrorTimeout)
		for symbol, d := range pending {
			if err := t.deps.Details.SetDetails(ctx, symbol, d); err != nil {
				t.logger.Debug("terminal: details mirror failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				if errors.Is(err, context.Canceled) {
					break
				}
			}
		}
		cancel()
	}
}

func (t *Terminal) onFeedStatus(connected bool) {
	t.mu.Lock()
	announce := !connected && !t.feedLost
	t.feedLost = !connected
	t.mu.Unlock()

	if announce {
		t.notify(notify.Toast{Kind: notify.KindMarket, Level: notify.LevelError, Message: msgMarketFeedLost})
	}
	t.publish(domain.ChannelStatus, EventStatus, t.Status())
}

func (t *Terminal) publishBook(book domain.OrderBook) {
	t.publish(domain.BookChannel(book.Symbol), EventBook, BookView{
		Symbol:      book.Symbol,
		Source:      book.Source,
		DisplayBook: book.Display(),
	})
}

func (t *Terminal) notify(toast notify.Toast) {
	if t.deps.Notifier != nil {
		t.deps.Notifier.Notify(toast)
	}
}

// publish queues an envelope for the publish loop. A payload still queued
// for the same channel and type is replaced, so callers never wait on the
// bus.
func (t *Terminal) publish(channel, typ string, payload any) {
	t.enqueue(outboxKey{channel: channel, typ: typ}, func(any) any { return payload })
}

// publishPrices merges changed assets into the queued prices envelope by
// symbol.
func (t *Terminal) publishPrices(changed []domain.Asset) {
	t.enqueue(outboxKey{channel: domain.ChannelPrices, typ: EventPrices}, func(prev any) any {
		merged, _ := prev.([]domain.Asset)
		for _, a := range changed {
			i := slices.IndexFunc(merged, func(m domain.Asset) bool { return m.Symbol == a.Symbol })
			if i >= 0 {
				merged[i] = a
			} else {
				merged = append(merged, a)
			}
		}
		return merged
	})
}

func (t *Terminal) enqueue(key outboxKey, merge func(prev any) any) {
	if t.deps.Bus == nil {
		return
	}
	t.outMu.Lock()
	prev, queued := t.outPending[key]
	if !queued {
		t.outQueue = append(t.outQueue, key)
	}
	t.outPending[key] = merge(prev)
	t.outMu.Unlock()

	select {
	case t.outWake <- struct{}{}:
	default:
	}
}

// publishLoop drains the outbox in first-queued order.
func (t *Terminal) publishLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.outWake:
		}

		t.outMu.Lock()
		queue, pending := t.outQueue, t.outPending
		t.outQueue = nil
		t.outPending = make(map[outboxKey]any, len(pending))
		t.outMu.Unlock()

		for _, key := range queue {
			if t.ctx.Err() != nil {
				return
			}
			t.send(key, pending[key])
		}
	}
}

func (t *Terminal) send(key outboxKey, payload any) {
	raw, err := json.Marshal(domain.Envelope{Type: key.typ, Payload: payload})
	if err != nil {
		t.logger.Error("terminal: marshal envelope", slog.String("type", key.typ), slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(t.ctx, publishTimeout)
	defer cancel()
	if err := t.deps.Bus.Publish(ctx, key.channel, raw); err != nil && !errors.Is(err, domain.ErrClosed) {
		t.logger.Debug("terminal: publish failed",
			slog.String("channel", key.channel),
			slog.String("error", err.Error()),
		)
	}
}
