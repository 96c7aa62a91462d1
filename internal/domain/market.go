package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeDirection is the short-lived "price just moved" state of an asset.
type ChangeDirection string

const (
	DirectionNone ChangeDirection = "none"
	DirectionUp   ChangeDirection = "up"
	DirectionDown ChangeDirection = "down"
)

// AssetInfo is a static catalog entry for a tradable symbol.
type AssetInfo struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	IconRef string `json:"iconRef"`
}

// Asset is the live view of a tracked symbol. Prices are decimal strings
// exactly as received from the ticker stream; PrevPrice is empty until the
// first change has been applied.
type Asset struct {
	AssetInfo
	Price     string          `json:"price"`
	PrevPrice string          `json:"prevPrice,omitempty"`
	Direction ChangeDirection `json:"changeDirection"`
}

// Ticker is one validated record of a ticker batch.
type Ticker struct {
	Symbol    string
	LastPrice string
	Open      string
	High      string
	Low       string
	Volume    string
}

// Details projects the ticker onto the per-symbol OHLCV snapshot.
func (t Ticker) Details() MarketDetails {
	return MarketDetails{
		Open:   t.Open,
		High:   t.High,
		Low:    t.Low,
		Close:  t.LastPrice,
		Volume: t.Volume,
	}
}

// MarketDetails is the latest OHLCV snapshot for a symbol.
type MarketDetails struct {
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// FeedStatus reports the connection state of both streaming connections.
type FeedStatus struct {
	MarketFeed    bool `json:"marketFeed"`
	OrderBookFeed bool `json:"orderBookFeed"`
}

// CandleInterval is a kline bucket width accepted by the market data REST API.
type CandleInterval string

const (
	Interval15m CandleInterval = "15m"
	Interval1h  CandleInterval = "1h"
	Interval4h  CandleInterval = "4h"
	Interval1d  CandleInterval = "1d"
	Interval1w  CandleInterval = "1w"
	Interval1M  CandleInterval = "1M"
)

// Valid reports whether the interval is one the chart supports.
func (i CandleInterval) Valid() bool {
	switch i {
	case Interval15m, Interval1h, Interval4h, Interval1d, Interval1w, Interval1M:
		return true
	}
	return false
}

// Candle is one OHLCV bucket of price history.
type Candle struct {
	OpenTime  time.Time       `json:"openTime"`
	CloseTime time.Time       `json:"closeTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}
