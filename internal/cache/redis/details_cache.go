package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// DetailsCache implements domain.DetailsCache. Each symbol is a hash at
// "ticker:{SYMBOL}" with the OHLCV fields plus "ts".
type DetailsCache struct {
	rdb *redis.Client
	now func() time.Time
}

// NewDetailsCache creates a DetailsCache backed by the given Client.
func NewDetailsCache(c *Client) *DetailsCache {
	return &DetailsCache{rdb: c.Underlying(), now: time.Now}
}

func tickerKey(symbol string) string {
	return "ticker:" + strings.ToUpper(symbol)
}

// SetDetails overwrites the stored details for symbol.
func (dc *DetailsCache) SetDetails(ctx context.Context, symbol string, d domain.MarketDetails) error {
	fields := map[string]any{
		"open":   d.Open,
		"high":   d.High,
		"low":    d.Low,
		"close":  d.Close,
		"volume": d.Volume,
		"ts":     dc.now().UnixMilli(),
	}
	if err := dc.rdb.HSet(ctx, tickerKey(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set details %s: %w", symbol, err)
	}
	return nil
}

// GetDetails returns the stored details, or domain.ErrNotFound.
func (dc *DetailsCache) GetDetails(ctx context.Context, symbol string) (domain.MarketDetails, error) {
	vals, err := dc.rdb.HGetAll(ctx, tickerKey(symbol)).Result()
	if err != nil {
		return domain.MarketDetails{}, fmt.Errorf("redis: get details %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.MarketDetails{}, fmt.Errorf("redis: details %s: %w", symbol, domain.ErrNotFound)
	}
	return domain.MarketDetails{
		Open:   vals["open"],
		High:   vals["high"],
		Low:    vals["low"],
		Close:  vals["close"],
		Volume: vals["volume"],
	}, nil
}

var _ domain.DetailsCache = (*DetailsCache)(nil)
