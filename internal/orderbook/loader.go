package orderbook

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/platform/exchange"
)

var _ Transport = (*exchange.PushClient)(nil)

// SnapshotSource fetches a full ladder on request.
type SnapshotSource interface {
	GetOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error)
}

// Loader bootstraps a symbol's ladder from the REST snapshot endpoint.
type Loader struct {
	source SnapshotSource
	mirror domain.OrderBookCache
	logger *slog.Logger
}

// NewLoader creates a loader. mirror may be nil.
func NewLoader(source SnapshotSource, mirror domain.OrderBookCache, logger *slog.Logger) *Loader {
	return &Loader{
		source: source,
		mirror: mirror,
		logger: logger.With(slog.String("component", "orderbook_loader")),
	}
}

// Load returns the current ladder for symbol. Any failure yields an empty
// book instead of an error.
func (l *Loader) Load(ctx context.Context, symbol string) domain.OrderBook {
	symbol = strings.ToUpper(symbol)

	book, err := l.source.GetOrderBook(ctx, symbol)
	if err != nil {
		l.logger.WarnContext(ctx, "order book snapshot failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		empty := domain.EmptyOrderBook(symbol)
		empty.Source = domain.BookSourceSnapshot
		return empty
	}

	if l.mirror != nil {
		if err := l.mirror.SetSnapshot(ctx, book); err != nil {
			l.logger.DebugContext(ctx, "order book mirror failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return book
}
