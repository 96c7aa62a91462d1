package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/platform/exchange"
)

// OrderState is the lifecycle position of one submitted order.
type OrderState string

const (
	StateIdle         OrderState = "IDLE"
	StateSubmitting   OrderState = "SUBMITTING"
	StateSubmitFailed OrderState = "SUBMIT_FAILED"
	StateSubmitted    OrderState = "SUBMITTED"
	StateListening    OrderState = "LISTENING"
	StateReconciled   OrderState = "RECONCILED"
	StateListenError  OrderState = "LISTEN_ERROR"
)

// Terminal reports whether no further transition is possible.
func (s OrderState) Terminal() bool {
	return s == StateSubmitFailed || s == StateReconciled || s == StateListenError
}

// NoticeLevel grades a user-facing notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
	NoticeWarning NoticeLevel = "warning"
)

// Notice is a short user-facing message.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	OrderID string      `json:"orderId,omitempty"`
}

const (
	msgQuantityRequired = "Please enter a quantity greater than zero."
	msgInvalidPrice     = "Please enter a valid limit price."
	msgInvalidLeverage  = "Leverage must be between 1 and 100."
	msgNoMarketPrice    = "Market price is not available yet, please try again."
	msgAssetRequired    = "Please select an asset."
	msgNotAuthenticated = "Please log in to place orders."
	msgBusy             = "Another order is being submitted, please wait."
	msgOrderUpdated     = "Order updated successfully."
	msgLostConnection   = "Lost connection with order updates."
	msgHighLeverage     = "High leverage warning."
)

const submitLockTTL = 15 * time.Second

// maxFinished bounds how many final order states State can still report.
const maxFinished = 256

// SubmitError is a submission failure carrying the message to show.
type SubmitError struct {
	Message string
	Err     error
}

func (e *SubmitError) Error() string { return fmt.Sprintf("%s: %v", e.Message, e.Err) }
func (e *SubmitError) Unwrap() error { return e.Err }

// PriceSource reports the latest market price for a symbol.
type PriceSource interface {
	Price(symbol string) (string, bool)
}

// SessionSource reports the current authenticated identity.
type SessionSource interface {
	Current() domain.Session
}

// CoordinatorDeps groups the coordinator's collaborators. Locks and
// Journal are optional.
type CoordinatorDeps struct {
	Gateway  OrderGateway
	Prices   PriceSource
	Sessions SessionSource
	Balances *BalanceService
	Locks    domain.LockManager
	Journal  domain.OrderJournal
	Now      func() time.Time
}

type trackedOrder struct {
	id     string
	userID string
	asset  string

	state  OrderState
	stream OrderStream
	once   sync.Once
}

// OrderCoordinator submits orders and reconciles each against its own
// update stream. Every stream it opens is closed exactly once: on the
// first update, on stream failure, or on Close.
type OrderCoordinator struct {
	deps   CoordinatorDeps
	logger *slog.Logger

	mu       sync.Mutex
	orders   []domain.Order
	tracked  map[string]*trackedOrder
	finished map[string]OrderState
	retired  []string
	form     domain.OrderForm
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	handlerMu      sync.RWMutex
	noticeHandlers []func(Notice)
	orderHandlers  []func([]domain.Order)
	formHandlers   []func(domain.OrderForm)
}

// NewOrderCoordinator creates a coordinator.
func NewOrderCoordinator(deps CoordinatorDeps, logger *slog.Logger) *OrderCoordinator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OrderCoordinator{
		deps:     deps,
		logger:   logger.With(slog.String("component", "order_coordinator")),
		tracked:  make(map[string]*trackedOrder),
		finished: make(map[string]OrderState),
		form:     domain.OrderForm{OrderType: domain.OrderTypeLimit, OrderSide: domain.OrderSideBuy, Leverage: domain.MinLeverage},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnNotice registers an observer for user-facing notices.
func (c *OrderCoordinator) OnNotice(h func(Notice)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.noticeHandlers = append(c.noticeHandlers, h)
}

// OnOrders registers an observer for the updated order list.
func (c *OrderCoordinator) OnOrders(h func([]domain.Order)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.orderHandlers = append(c.orderHandlers, h)
}

// OnFormReset registers an observer for form resets.
func (c *OrderCoordinator) OnFormReset(h func(domain.OrderForm)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.formHandlers = append(c.formHandlers, h)
}

// SetOrders replaces the order list, e.g. with the backend's initial list.
func (c *OrderCoordinator) SetOrders(orders []domain.Order) {
	c.mu.Lock()
	c.orders = append([]domain.Order(nil), orders...)
	out := c.ordersLocked()
	c.mu.Unlock()
	c.emitOrders(out)
}

// Orders returns a copy of the order list.
func (c *OrderCoordinator) Orders() []domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ordersLocked()
}

// Form returns the current order-entry state.
func (c *OrderCoordinator) Form() domain.OrderForm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// State returns the lifecycle state of orderID. Unknown orders are IDLE.
func (c *OrderCoordinator) State(orderID string) OrderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tracked[orderID]; ok {
		return t.state
	}
	if s, ok := c.finished[orderID]; ok {
		return s
	}
	return StateIdle
}

// InFlight returns the number of orders that have not reached a final
// state.
func (c *OrderCoordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracked)
}

// Listening returns the number of open update streams.
func (c *OrderCoordinator) Listening() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tracked {
		if t.state == StateListening {
			n++
		}
	}
	return n
}

// Submit validates form, publishes the order and starts listening for its
// update. Local validation and authentication failures return before any
// network call. Every error is a *SubmitError with a message to show.
func (c *OrderCoordinator) Submit(ctx context.Context, form domain.OrderForm) (string, error) {
	payload, err := c.buildPayload(form)
	if err != nil {
		return "", c.fail("", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", c.fail("", &SubmitError{Message: msgLostConnection, Err: domain.ErrClosed})
	}
	c.form = form
	t := &trackedOrder{id: payload.ID, userID: payload.UserID, asset: payload.Asset, state: StateSubmitting}
	c.tracked[t.id] = t
	c.mu.Unlock()

	if HighLeverage(form.Leverage) {
		c.emitNotice(Notice{Level: NoticeWarning, Message: msgHighLeverage, OrderID: t.id})
	}

	if c.deps.Locks != nil {
		unlock, err := c.deps.Locks.Acquire(ctx, "submit:"+payload.UserID, submitLockTTL)
		if err != nil {
			c.setState(t, StateSubmitFailed)
			msg := exchange.PublishFailureMessage(err)
			if errors.Is(err, domain.ErrLockHeld) {
				msg = msgBusy
			}
			return "", c.fail(t.id, &SubmitError{Message: msg, Err: err})
		}
		defer unlock()
	}

	ack, err := c.deps.Gateway.PublishOrder(ctx, payload)
	if err != nil {
		c.setState(t, StateSubmitFailed)
		c.logger.WarnContext(ctx, "order_coordinator: publish failed",
			slog.String("order_id", t.id),
			slog.String("error", err.Error()),
		)
		return "", c.fail(t.id, &SubmitError{Message: exchange.PublishFailureMessage(err), Err: err})
	}
	c.setState(t, StateSubmitted)
	c.emitNotice(Notice{Level: NoticeSuccess, Message: ack, OrderID: t.id})

	if c.deps.Balances != nil {
		if _, err := c.deps.Balances.Debit(ctx, payload.UserID, payload.Margin); err != nil {
			c.logger.DebugContext(ctx, "order_coordinator: optimistic debit not cached",
				slog.String("order_id", t.id),
				slog.String("error", err.Error()),
			)
		}
	}

	c.listen(t)
	return t.id, nil
}

func (c *OrderCoordinator) buildPayload(form domain.OrderForm) (domain.OrderPayload, error) {
	quantity, err := parseQuantity(form.Quantity)
	if err != nil {
		return domain.OrderPayload{}, &SubmitError{Message: msgQuantityRequired, Err: err}
	}

	session := c.deps.Sessions.Current()
	if !session.Authenticated(c.deps.Now()) {
		return domain.OrderPayload{}, &SubmitError{Message: msgNotAuthenticated, Err: domain.ErrNotAuthenticated}
	}

	if form.Leverage == 0 {
		form.Leverage = domain.MinLeverage
	}
	if err := validLeverage(form.Leverage); err != nil {
		return domain.OrderPayload{}, &SubmitError{Message: msgInvalidLeverage, Err: err}
	}

	asset := strings.ToUpper(strings.TrimSpace(form.Asset))
	if asset == "" {
		return domain.OrderPayload{}, &SubmitError{Message: msgAssetRequired, Err: fmt.Errorf("%w: asset is required", domain.ErrInvalidOrder)}
	}
	orderType := form.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeLimit
	}
	side := form.OrderSide
	if side == "" {
		side = domain.OrderSideBuy
	}

	var (
		price   decimal.Decimal
		sendPx  *decimal.Decimal
		pxError error
	)
	switch orderType {
	case domain.OrderTypeLimit:
		price, pxError = parsePrice(form.Price)
		if pxError != nil {
			return domain.OrderPayload{}, &SubmitError{Message: msgInvalidPrice, Err: pxError}
		}
		sendPx = &price
	case domain.OrderTypeMarket:
		raw, ok := c.deps.Prices.Price(asset)
		if ok {
			price, pxError = parsePrice(raw)
		}
		if !ok || pxError != nil {
			return domain.OrderPayload{}, &SubmitError{Message: msgNoMarketPrice, Err: fmt.Errorf("%w: no market price for %s", domain.ErrInvalidOrder, asset)}
		}
		sendPx = &price
	default:
		return domain.OrderPayload{}, &SubmitError{Message: msgInvalidPrice, Err: fmt.Errorf("%w: order type %q", domain.ErrInvalidOrder, orderType)}
	}

	id := uuid.NewString()
	return domain.OrderPayload{
		ID:        id,
		Asset:     asset,
		UserID:    session.UserID,
		OrderType: orderType,
		Price:     sendPx,
		CallURL:   c.deps.Gateway.CallbackURL(session.UserID, id),
		Quantity:  quantity,
		Margin:    Margin(price, quantity, form.Leverage),
		Status:    domain.OrderStatusPending,
		OrderSide: side,
	}, nil
}

// listen opens the order's update stream and reconciles the first update.
func (c *OrderCoordinator) listen(t *trackedOrder) {
	stream, err := c.deps.Gateway.OpenOrderStream(c.ctx, t.userID, t.id)
	if err != nil {
		if c.isClosed() {
			return
		}
		c.logger.Warn("order_coordinator: open update stream failed",
			slog.String("order_id", t.id),
			slog.String("error", err.Error()),
		)
		c.setState(t, StateListenError)
		c.emitNotice(Notice{Level: NoticeError, Message: msgLostConnection, OrderID: t.id})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.once.Do(func() { _ = stream.Close() })
		return
	}
	t.stream = stream
	t.state = StateListening
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.readUpdates(t, stream)
	}()
}

func (c *OrderCoordinator) readUpdates(t *trackedOrder, stream OrderStream) {
	for {
		ev, err := stream.Next()
		if err != nil {
			c.closeStream(t)
			if c.isClosed() {
				return
			}
			c.logger.Warn("order_coordinator: update stream lost",
				slog.String("order_id", t.id),
				slog.String("error", err.Error()),
			)
			if c.transition(t, StateListening, StateListenError) {
				c.emitNotice(Notice{Level: NoticeError, Message: msgLostConnection, OrderID: t.id})
			}
			return
		}

		if ev.Name != exchange.EventOrderUpdate && ev.Name != exchange.EventMessage {
			continue
		}
		order, err := exchange.ParseOrder(ev.Data)
		if err != nil || order.ID != t.id {
			c.logger.Debug("order_coordinator: dropping unrelated update",
				slog.String("order_id", t.id),
				slog.String("event", ev.Name),
			)
			continue
		}

		c.reconcile(t, order)
		return
	}
}

// reconcile applies the first update for t. Later updates never arrive
// because the stream is closed here.
func (c *OrderCoordinator) reconcile(t *trackedOrder, order domain.Order) {
	if !c.transition(t, StateListening, StateReconciled) {
		return
	}
	c.closeStream(t)

	ctx := c.ctx
	c.mu.Lock()
	c.orders = domain.UpsertOrder(c.orders, order)
	orders := c.ordersLocked()
	reset := c.resetFormLocked(t.asset)
	c.mu.Unlock()

	if c.deps.Balances != nil {
		if err := c.deps.Balances.Invalidate(ctx, t.userID); err != nil {
			c.logger.Warn("order_coordinator: balance invalidation failed",
				slog.String("order_id", t.id),
				slog.String("error", err.Error()),
			)
		}
	}
	if c.deps.Journal != nil {
		if err := c.deps.Journal.Record(ctx, order); err != nil {
			c.logger.Warn("order_coordinator: journal write failed",
				slog.String("order_id", t.id),
				slog.String("error", err.Error()),
			)
		}
	}

	c.logger.Info("order_coordinator: order reconciled",
		slog.String("order_id", order.ID),
		slog.String("status", string(order.Status)),
	)
	c.emitOrders(orders)
	c.emitForm(reset)
	c.emitNotice(Notice{Level: NoticeSuccess, Message: msgOrderUpdated, OrderID: t.id})
}

func (c *OrderCoordinator) resetFormLocked(asset string) domain.OrderForm {
	price, _ := c.deps.Prices.Price(asset)
	c.form = domain.OrderForm{
		Asset:     asset,
		OrderType: c.form.OrderType,
		OrderSide: c.form.OrderSide,
		Price:     price,
		Quantity:  "",
		Leverage:  domain.MinLeverage,
	}
	return c.form
}

// Close closes every open update stream. Pending orders are left
// unreconciled and no notices are emitted.
func (c *OrderCoordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	tracked := make([]*trackedOrder, 0, len(c.tracked))
	for _, t := range c.tracked {
		tracked = append(tracked, t)
	}
	c.mu.Unlock()

	c.cancel()
	for _, t := range tracked {
		c.closeStream(t)
	}
	c.wg.Wait()
}

func (c *OrderCoordinator) closeStream(t *trackedOrder) {
	c.mu.Lock()
	stream := t.stream
	c.mu.Unlock()
	if stream == nil {
		return
	}
	t.once.Do(func() {
		if err := stream.Close(); err != nil {
			c.logger.Debug("order_coordinator: close update stream",
				slog.String("order_id", t.id),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (c *OrderCoordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *OrderCoordinator) setState(t *trackedOrder, s OrderState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.state = s
	c.retireLocked(t)
}

func (c *OrderCoordinator) transition(t *trackedOrder, from, to OrderState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.state != from {
		return false
	}
	t.state = to
	c.retireLocked(t)
	return true
}

// retireLocked moves t out of the in-flight set once it reaches a final
// state. Only the last maxFinished final states are remembered.
func (c *OrderCoordinator) retireLocked(t *trackedOrder) {
	if !t.state.Terminal() {
		return
	}
	if _, ok := c.tracked[t.id]; !ok {
		return
	}
	delete(c.tracked, t.id)
	c.finished[t.id] = t.state
	c.retired = append(c.retired, t.id)
	if len(c.retired) > maxFinished {
		delete(c.finished, c.retired[0])
		c.retired = c.retired[1:]
	}
}

func (c *OrderCoordinator) ordersLocked() []domain.Order {
	out := make([]domain.Order, len(c.orders))
	copy(out, c.orders)
	return out
}

// fail reports err as an error notice and returns it.
func (c *OrderCoordinator) fail(orderID string, err error) error {
	var se *SubmitError
	if !errors.As(err, &se) {
		se = &SubmitError{Message: exchange.PublishFailureMessage(err), Err: err}
	}
	c.emitNotice(Notice{Level: NoticeError, Message: se.Message, OrderID: orderID})
	return se
}

func (c *OrderCoordinator) emitNotice(n Notice) {
	c.handlerMu.RLock()
	handlers := c.noticeHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(n)
	}
}

func (c *OrderCoordinator) emitOrders(orders []domain.Order) {
	c.handlerMu.RLock()
	handlers := c.orderHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(orders)
	}
}

func (c *OrderCoordinator) emitForm(f domain.OrderForm) {
	c.handlerMu.RLock()
	handlers := c.formHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(f)
	}
}
