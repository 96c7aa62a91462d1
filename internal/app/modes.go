package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/server"
	"github.com/alanyoungcy/marketsync/internal/server/handler"
	"github.com/alanyoungcy/marketsync/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// StreamMode runs the terminal headless: it starts both streaming
// connections, focuses the first asset and logs connection transitions.
func (a *App) StreamMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting stream mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startTerminal(ctx, g, deps)

	if assets := deps.Terminal.Assets(); len(assets) > 0 {
		book := deps.Terminal.Focus(ctx, assets[0].Symbol)
		a.logger.InfoContext(ctx, "focused order book",
			slog.String("symbol", assets[0].Symbol),
			slog.String("source", string(book.Source)),
			slog.Int("bids", len(book.Bids)),
			slog.Int("asks", len(book.Asks)),
		)
	}

	return g.Wait()
}

// ServerMode runs the terminal plus the local HTTP and websocket surface.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startTerminal(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// startTerminal runs the notifier and the status logger, then starts the
// terminal. The terminal is closed when ctx ends.
func (a *App) startTerminal(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})

	statuses, err := deps.Bus.Subscribe(ctx, domain.ChannelStatus)
	if err != nil {
		a.logger.WarnContext(ctx, "status subscription failed", slog.String("error", err.Error()))
	} else {
		g.Go(func() error {
			a.logStatus(ctx, statuses)
			return nil
		})
	}

	deps.Terminal.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		deps.Terminal.Close()
		return nil
	})
}

// logStatus logs each change of the connection flags.
func (a *App) logStatus(ctx context.Context, sigs <-chan domain.Signal) {
	var last domain.FeedStatus
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigs:
			if !ok {
				return
			}
			var env struct {
				Payload domain.FeedStatus `json:"payload"`
			}
			if err := json.Unmarshal(sig.Payload, &env); err != nil {
				continue
			}
			if !first && env.Payload == last {
				continue
			}
			first = false
			last = env.Payload
			a.logger.InfoContext(ctx, "connection status",
				slog.Bool("market_feed", last.MarketFeed),
				slog.Bool("order_book_feed", last.OrderBookFeed),
			)
		}
	}
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	term := deps.Terminal
	hub := ws.NewHub(deps.Bus, term.Status, func(ctx context.Context, symbol string) {
		term.Focus(ctx, symbol)
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler(a.cfg.Mode, term),
		Markets: handler.NewMarketHandler(term, a.logger),
		Orders:  handler.NewOrderHandler(term, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
