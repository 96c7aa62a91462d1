package domain

import (
	"context"
	"time"
)

// DetailsCache mirrors the latest per-symbol market details.
type DetailsCache interface {
	SetDetails(ctx context.Context, symbol string, details MarketDetails) error
	GetDetails(ctx context.Context, symbol string) (MarketDetails, error)
}

// OrderBookCache mirrors the latest full order book per symbol.
type OrderBookCache interface {
	SetSnapshot(ctx context.Context, book OrderBook) error
	GetSnapshot(ctx context.Context, symbol string) (OrderBook, error)
}

// ProfileCache holds user profiles between fetches.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (UserProfile, error)
	Set(ctx context.Context, profile UserProfile) error
	Invalidate(ctx context.Context, userID string) error
}

// LockManager provides short-lived exclusive locks.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Signal is one message received from the signal bus.
type Signal struct {
	Channel string
	Payload []byte
}

// SignalBus provides pub/sub fan-out to local consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan Signal, error)
}

// RateLimiter admits at most limit requests per key within window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
