package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/marketsync/internal/blob/s3"
	"github.com/alanyoungcy/marketsync/internal/cache/memory"
	"github.com/alanyoungcy/marketsync/internal/cache/redis"
	"github.com/alanyoungcy/marketsync/internal/config"
	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/feed"
	"github.com/alanyoungcy/marketsync/internal/notify"
	"github.com/alanyoungcy/marketsync/internal/orderbook"
	"github.com/alanyoungcy/marketsync/internal/platform/binance"
	"github.com/alanyoungcy/marketsync/internal/platform/exchange"
	"github.com/alanyoungcy/marketsync/internal/service"
	"github.com/alanyoungcy/marketsync/internal/terminal"
)

// Dependencies bundles what the modes need. It is built by Wire and torn
// down by the cleanup function Wire returns.
type Dependencies struct {
	Bus         domain.SignalBus
	RateLimiter domain.RateLimiter // nil without Redis
	Journal     *s3blob.OrderJournal

	Notifier *notify.Notifier
	Terminal *terminal.Terminal
}

// Wire builds every component from cfg. Redis and S3 are optional; without
// Redis the caches, locks and bus are in-process.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Caches, locks and signal bus ---
	var (
		profiles domain.ProfileCache
		locks    domain.LockManager
		details  domain.DetailsCache
		books    domain.OrderBookCache
	)
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		profiles = redis.NewProfileCache(rc, cfg.Redis.ProfileTTL.Duration)
		locks = redis.NewLockManager(rc)
		details = redis.NewDetailsCache(rc)
		books = redis.NewOrderBookCache(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.Bus = redis.NewSignalBus(rc)
	} else {
		bus := memory.NewSignalBus()
		closers = append(closers, bus.Close)
		profiles = memory.NewProfileCache()
		locks = memory.NewLockManager()
		deps.Bus = bus
	}

	// --- Order journal ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := sc.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket unreachable, journal writes will fail",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.Journal = s3blob.NewOrderJournal(s3blob.NewWriter(sc), s3blob.NewReader(sc), logger)
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(logger)
	deps.Notifier.AddSender(notify.NewLogSender(logger))
	deps.Notifier.AddSender(notify.NewBusSender(deps.Bus))
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		deps.Notifier.AddSender(notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID), cfg.Notify.Events...)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		deps.Notifier.AddSender(notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL), cfg.Notify.Events...)
	}

	// --- Session and exchange ---
	session, err := service.ParseSession(cfg.Session.UserID, cfg.Session.Token)
	if err != nil {
		return fail(fmt.Errorf("wire: session: %w", err))
	}
	sessions := service.NewSessionStore(session)
	client := exchange.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.RequestTimeout.Duration, sessions.Token)

	// --- Market feed ---
	catalog, err := feed.CatalogFor(cfg.MarketFeed.Symbols)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	priceFeed := feed.NewPriceFeed(feed.Config{
		StreamURL:      cfg.MarketFeed.WSURL,
		Catalog:        catalog,
		ReconnectDelay: cfg.MarketFeed.ReconnectDelay.Duration,
		DirectionDecay: cfg.MarketFeed.DirectionDecay.Duration,
	}, logger)

	// --- Order book channel ---
	bookManager := orderbook.NewManager(func() orderbook.Transport {
		return exchange.NewPushClient(cfg.Exchange.PushURL, sessions.Token, logger)
	}, logger)

	// --- Orders ---
	balances := service.NewBalanceService(client, profiles, logger)
	coordDeps := service.CoordinatorDeps{
		Gateway:  service.NewExchangeGateway(client),
		Prices:   priceFeed,
		Sessions: sessions,
		Balances: balances,
		Locks:    locks,
	}
	termDeps := terminal.Deps{
		Feed:     priceFeed,
		Books:    bookManager,
		Loader:   orderbook.NewLoader(client, books, logger),
		Store:    orderbook.NewStore(),
		Balances: balances,
		Sessions: sessions,
		Orders:   client,
		Candles:  binance.NewRESTClient(cfg.MarketFeed.RESTURL, cfg.MarketFeed.RequestTimeout.Duration),
		Details:  details,
		Bus:      deps.Bus,
		Notifier: deps.Notifier,
	}
	if deps.Journal != nil {
		coordDeps.Journal = deps.Journal
		termDeps.History = deps.Journal
	}
	termDeps.Coordinator = service.NewOrderCoordinator(coordDeps, logger)

	deps.Terminal = terminal.New(termDeps, logger)
	closers = append(closers, deps.Terminal.Close)

	return deps, cleanup, nil
}
