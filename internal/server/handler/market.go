package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// MarketSource is the read side of the terminal used by the market
// endpoints.
type MarketSource interface {
	Assets() []domain.Asset
	GetPrice(symbol string) (string, bool)
	GetDetails(ctx context.Context, symbol string) (domain.MarketDetails, bool)
	Focus(ctx context.Context, symbol string) domain.OrderBook
	Candles(ctx context.Context, symbol string, interval domain.CandleInterval, start, end time.Time) ([]domain.Candle, error)
}

// MarketHandler serves asset, price, details, order-book and candle
// endpoints.
type MarketHandler struct {
	market MarketSource
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(market MarketSource, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: market, logger: logger}
}

// ListAssets returns the tracked assets in catalog order.
// GET /api/assets
func (h *MarketHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": h.market.Assets()})
}

// GetPrice returns the latest price of a tracked symbol.
// GET /api/prices/{symbol}
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	price, ok := h.market.GetPrice(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown symbol")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "price": price})
}

// GetDetails returns the OHLCV snapshot for any symbol seen on the stream.
// GET /api/details/{symbol}
func (h *MarketHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	d, ok := h.market.GetDetails(r.Context(), symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no details for symbol")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type orderBookResponse struct {
	Symbol string            `json:"symbol"`
	Source domain.BookSource `json:"source"`
	domain.DisplayBook
}

// GetOrderBook focuses symbol and returns its current ladder, sorted for
// display. Later ladders arrive on the websocket.
// GET /api/orderbook/{symbol}
func (h *MarketHandler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}
	book := h.market.Focus(r.Context(), symbol)
	writeJSON(w, http.StatusOK, orderBookResponse{
		Symbol:      symbol,
		Source:      book.Source,
		DisplayBook: book.Display(),
	})
}

// GetCandles returns price history.
// GET /api/candles/{symbol}?interval=1h&start=<ms>&end=<ms>
func (h *MarketHandler) GetCandles(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	interval := domain.CandleInterval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = domain.Interval1h
	}
	if !interval.Valid() {
		writeError(w, http.StatusBadRequest, "unsupported interval")
		return
	}
	start, ok := parseMillis(r, "start")
	end, ok2 := parseMillis(r, "end")
	if !ok || !ok2 {
		writeError(w, http.StatusBadRequest, "start and end must be unix milliseconds")
		return
	}

	candles, err := h.market.Candles(r.Context(), symbol, interval, start, end)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		h.logger.WarnContext(r.Context(), "handler: candles failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "failed to load candles")
		return
	}
	if candles == nil {
		candles = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "interval": interval, "candles": candles})
}
