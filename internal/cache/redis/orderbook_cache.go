package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// OrderBookCache implements domain.OrderBookCache with sorted sets and
// hashes. Levels sharing a price collapse into one.
//
// Key schema:
//
//	book:{SYMBOL}:bids     - sorted set of bid prices (score = price)
//	book:{SYMBOL}:asks     - sorted set of ask prices (score = price)
//	book:{SYMBOL}:bid:size - hash mapping price -> quantity for bids
//	book:{SYMBOL}:ask:size - hash mapping price -> quantity for asks
//	book:{SYMBOL}:meta     - hash with "ts" (received at, unix nanos)
type OrderBookCache struct {
	rdb *redis.Client
}

// NewOrderBookCache creates an OrderBookCache backed by the given Client.
func NewOrderBookCache(c *Client) *OrderBookCache {
	return &OrderBookCache{rdb: c.Underlying()}
}

func bookBidsKey(symbol string) string    { return "book:" + symbol + ":bids" }
func bookAsksKey(symbol string) string    { return "book:" + symbol + ":asks" }
func bookBidSizeKey(symbol string) string { return "book:" + symbol + ":bid:size" }
func bookAskSizeKey(symbol string) string { return "book:" + symbol + ":ask:size" }
func bookMetaKey(symbol string) string    { return "book:" + symbol + ":meta" }

// SetSnapshot atomically replaces the stored book for book.Symbol.
func (oc *OrderBookCache) SetSnapshot(ctx context.Context, book domain.OrderBook) error {
	symbol := strings.ToUpper(book.Symbol)
	bidsKey, asksKey := bookBidsKey(symbol), bookAsksKey(symbol)
	bidSizeKey, askSizeKey := bookBidSizeKey(symbol), bookAskSizeKey(symbol)
	metaKey := bookMetaKey(symbol)

	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey)

	addSide(ctx, pipe, bidsKey, bidSizeKey, book.Bids)
	addSide(ctx, pipe, asksKey, askSizeKey, book.Asks)

	ts := book.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(ts.UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set order book %s: %w", symbol, err)
	}
	return nil
}

func addSide(ctx context.Context, pipe redis.Pipeliner, zKey, hKey string, levels []domain.BookLevel) {
	for _, lvl := range levels {
		price := lvl.Price.String()
		score, _ := lvl.Price.Float64()
		pipe.ZAdd(ctx, zKey, redis.Z{Score: score, Member: price})
		pipe.HSet(ctx, hKey, price, lvl.Quantity.String())
	}
}

// GetSnapshot reads the stored book back in display order. It returns
// domain.ErrNotFound when nothing is stored for symbol.
func (oc *OrderBookCache) GetSnapshot(ctx context.Context, symbol string) (domain.OrderBook, error) {
	symbol = strings.ToUpper(symbol)

	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRange(ctx, bookBidsKey(symbol), 0, -1)
	asksCmd := pipe.ZRange(ctx, bookAsksKey(symbol), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(symbol))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(symbol))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(symbol))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.OrderBook{}, fmt.Errorf("redis: get order book %s: %w", symbol, err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return domain.OrderBook{}, fmt.Errorf("redis: order book %s: %w", symbol, domain.ErrNotFound)
	}

	book := domain.EmptyOrderBook(symbol)
	book.Source = domain.BookSourceCache
	if nanos, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		book.ReceivedAt = time.Unix(0, nanos)
	}

	var err error
	if book.Bids, err = readSide(bidsCmd.Val(), bidSizeCmd.Val()); err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: order book %s bids: %w", symbol, err)
	}
	if book.Asks, err = readSide(asksCmd.Val(), askSizeCmd.Val()); err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: order book %s asks: %w", symbol, err)
	}
	return book, nil
}

func readSide(prices []string, sizes map[string]string) ([]domain.BookLevel, error) {
	levels := make([]domain.BookLevel, 0, len(prices))
	for _, p := range prices {
		price, err := decimal.NewFromString(p)
		if err != nil {
			return nil, err
		}
		qty := decimal.Zero
		if s, ok := sizes[p]; ok {
			if qty, err = decimal.NewFromString(s); err != nil {
				return nil, err
			}
		}
		levels = append(levels, domain.BookLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

var _ domain.OrderBookCache = (*OrderBookCache)(nil)
