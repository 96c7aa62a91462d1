// Package binance contains clients for Binance public market data: the
// all-market ticker websocket stream and the klines REST endpoint.
package binance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// TickerMessage is one record of the !ticker@arr stream.
type TickerMessage struct {
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

// ToDomain validates the record. Records without a symbol, or with a
// numeric field that is not a decimal, are rejected.
func (m *TickerMessage) ToDomain() (domain.Ticker, bool) {
	if m.Symbol == "" {
		return domain.Ticker{}, false
	}
	for _, v := range []string{m.LastPrice, m.Open, m.High, m.Low, m.Volume} {
		if v == "" {
			continue
		}
		if _, err := decimal.NewFromString(v); err != nil {
			return domain.Ticker{}, false
		}
	}
	return domain.Ticker{
		Symbol:    m.Symbol,
		LastPrice: m.LastPrice,
		Open:      m.Open,
		High:      m.High,
		Low:       m.Low,
		Volume:    m.Volume,
	}, true
}

// ParseTickerBatch decodes a stream frame into validated tickers. A frame
// that is not a JSON array fails with domain.ErrMalformedMessage; invalid
// records inside a valid array are skipped and counted in dropped.
func ParseTickerBatch(raw []byte) (tickers []domain.Ticker, dropped int, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, 0, fmt.Errorf("binance: ticker batch: %w", domain.ErrMalformedMessage)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, 0, fmt.Errorf("binance: ticker batch: %w: %v", domain.ErrMalformedMessage, err)
	}

	tickers = make([]domain.Ticker, 0, len(records))
	for _, rec := range records {
		var msg TickerMessage
		if err := json.Unmarshal(rec, &msg); err != nil {
			dropped++
			continue
		}
		t, ok := msg.ToDomain()
		if !ok {
			dropped++
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers, dropped, nil
}

// parseKline converts one klines row
// [openTime, open, high, low, close, volume, closeTime, ...] into a Candle.
func parseKline(row []json.RawMessage) (domain.Candle, error) {
	if len(row) < 7 {
		return domain.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}

	openMs, err := strconv.ParseInt(string(row[0]), 10, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("open time: %w", err)
	}
	closeMs, err := strconv.ParseInt(string(row[6]), 10, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("close time: %w", err)
	}

	var vals [5]decimal.Decimal
	for i := range vals {
		if err := json.Unmarshal(row[i+1], &vals[i]); err != nil {
			return domain.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}

	return domain.Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
