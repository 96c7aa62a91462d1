package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// LogSender writes toasts to the structured log.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "toast"))}
}

func (l *LogSender) Send(ctx context.Context, t Toast) error {
	level := slog.LevelInfo
	switch t.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, t.Message,
		slog.String("kind", t.Kind),
		slog.String("order_id", t.OrderID),
	)
	return nil
}

func (l *LogSender) Name() string { return "log" }

// BusSender publishes toasts on the signal bus toast channel for local
// presentation clients.
type BusSender struct {
	bus domain.SignalBus
}

// NewBusSender creates a BusSender.
func NewBusSender(bus domain.SignalBus) *BusSender {
	return &BusSender{bus: bus}
}

func (b *BusSender) Send(ctx context.Context, t Toast) error {
	raw, err := json.Marshal(domain.Envelope{Type: "toast", Payload: t})
	if err != nil {
		return fmt.Errorf("notify: marshal toast: %w", err)
	}
	return b.bus.Publish(ctx, domain.ChannelToast, raw)
}

func (b *BusSender) Name() string { return "bus" }
