// Package notify delivers short user-facing toasts. Toasts are queued
// without blocking the caller and fanned out to every registered sender
// (log, signal bus, Discord, Telegram). Remote senders can be limited to
// selected kinds so operators only receive the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Level grades a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Kinds of toast, usable as filter entries.
const (
	KindOrder     = "order"
	KindMarket    = "market"
	KindOrderBook = "orderbook"
)

// Toast is one notification.
type Toast struct {
	Kind    string `json:"kind"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
	OrderID string `json:"orderId,omitempty"`
}

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, t Toast) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

const queueSize = 64

type route struct {
	sender Sender
	kinds  map[string]bool
}

// Notifier queues toasts and dispatches them to its senders from Run.
type Notifier struct {
	routes []route
	queue  chan Toast
	logger *slog.Logger
}

// NewNotifier creates a Notifier with no senders.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		queue:  make(chan Toast, queueSize),
		logger: logger.With(slog.String("component", "notifier")),
	}
}

// AddSender registers s. When kinds is non-empty only toasts of those kinds
// reach s. Senders must be added before Run.
func (n *Notifier) AddSender(s Sender, kinds ...string) {
	r := route{sender: s}
	if len(kinds) > 0 {
		r.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			r.kinds[strings.TrimSpace(k)] = true
		}
	}
	n.routes = append(n.routes, r)
}

// Notify queues t. It never blocks; when the queue is full the toast is
// dropped and logged.
func (n *Notifier) Notify(t Toast) {
	select {
	case n.queue <- t:
	default:
		n.logger.Warn("notifier: queue full, toast dropped",
			slog.String("kind", t.Kind),
			slog.String("message", t.Message),
		)
	}
}

// Run dispatches queued toasts until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-n.queue:
			if err := n.dispatch(ctx, t); err != nil {
				n.logger.DebugContext(ctx, "notifier: dispatch incomplete", slog.String("error", err.Error()))
			}
		}
	}
}

// dispatch sends t to every matching sender. One sender failing does not
// stop delivery to the others.
func (n *Notifier) dispatch(ctx context.Context, t Toast) error {
	var errs []string
	for _, r := range n.routes {
		if r.kinds != nil && !r.kinds[t.Kind] {
			continue
		}
		if err := r.sender.Send(ctx, t); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", r.sender.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", r.sender.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// title renders the heading used by the chat senders.
func title(t Toast) string {
	kind := t.Kind
	if kind == "" {
		kind = "marketsync"
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(t.Level)), kind)
}
