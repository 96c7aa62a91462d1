package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/alanyoungcy/marketsync/internal/cache/redis"
	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/server"
	"github.com/alanyoungcy/marketsync/internal/server/handler"
	"github.com/alanyoungcy/marketsync/internal/service"
)

type fakeTerminal struct {
	focused   []string
	submitted []domain.OrderForm
	submitErr error
	candleArg domain.CandleInterval
	start     time.Time
}

func (f *fakeTerminal) Assets() []domain.Asset {
	return []domain.Asset{{AssetInfo: domain.AssetInfo{Symbol: "BTCUSDT"}, Price: "42000.1"}}
}

func (f *fakeTerminal) GetPrice(symbol string) (string, bool) {
	if symbol == "BTCUSDT" {
		return "42000.1", true
	}
	return "", false
}

func (f *fakeTerminal) GetDetails(_ context.Context, symbol string) (domain.MarketDetails, bool) {
	if symbol != "BTCUSDT" {
		return domain.MarketDetails{}, false
	}
	return domain.MarketDetails{Close: "42000.1"}, true
}

func (f *fakeTerminal) Focus(_ context.Context, symbol string) domain.OrderBook {
	f.focused = append(f.focused, symbol)
	return domain.OrderBook{
		Symbol: symbol,
		Source: domain.BookSourceSnapshot,
		Bids: []domain.BookLevel{
			{Price: decimal.RequireFromString("99"), Quantity: decimal.NewFromInt(1)},
			{Price: decimal.RequireFromString("100"), Quantity: decimal.NewFromInt(2)},
		},
		Asks: []domain.BookLevel{
			{Price: decimal.RequireFromString("102"), Quantity: decimal.NewFromInt(1)},
			{Price: decimal.RequireFromString("101"), Quantity: decimal.NewFromInt(3)},
		},
	}
}

func (f *fakeTerminal) Candles(_ context.Context, _ string, interval domain.CandleInterval, start, _ time.Time) ([]domain.Candle, error) {
	f.candleArg = interval
	f.start = start
	return nil, nil
}

func (f *fakeTerminal) Status() domain.FeedStatus {
	return domain.FeedStatus{MarketFeed: true}
}

func (f *fakeTerminal) Balance(context.Context) decimal.Decimal {
	return decimal.RequireFromString("1500.25")
}

func (f *fakeTerminal) Orders() []domain.Order { return nil }

func (f *fakeTerminal) Form() domain.OrderForm {
	return domain.OrderForm{Asset: "BTCUSDT", Leverage: 1}
}

func (f *fakeTerminal) SubmitOrder(_ context.Context, form domain.OrderForm) (string, error) {
	f.submitted = append(f.submitted, form)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "o-1", nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(t *testing.T, cfg server.Config, limiter domain.RateLimiter) (*httptest.Server, *fakeTerminal) {
	t.Helper()
	term := &fakeTerminal{}
	logger := discard()
	h := server.NewHandler(cfg, server.Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler("server", term),
		Markets: handler.NewMarketHandler(term, logger),
		Orders:  handler.NewOrderHandler(term, logger),
	}, nil, limiter, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, term
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestMarketRoutes(t *testing.T) {
	srv, term := newTestServer(t, server.Config{}, nil)

	var price map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/prices/btcusdt", &price))
	assert.Equal(t, "42000.1", price["price"])

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/prices/XRPUSDT", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/details/XRPUSDT", nil))

	var book struct {
		Symbol string             `json:"symbol"`
		Source string             `json:"source"`
		Bids   []domain.BookLevel `json:"bids"`
		Asks   []domain.BookLevel `json:"asks"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/orderbook/ethusdt", &book))
	assert.Equal(t, []string{"ETHUSDT"}, term.focused)
	assert.Equal(t, "snapshot", book.Source)
	require.Len(t, book.Bids, 2)
	assert.Equal(t, "100", book.Bids[0].Price.String())
	assert.Equal(t, "101", book.Asks[0].Price.String())
}

func TestCandlesQuery(t *testing.T) {
	srv, term := newTestServer(t, server.Config{}, nil)

	var body struct {
		Candles []domain.Candle `json:"candles"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/candles/BTCUSDT?start=1700000000000", &body))
	assert.Equal(t, domain.Interval1h, term.candleArg)
	assert.Equal(t, int64(1700000000000), term.start.UnixMilli())
	assert.NotNil(t, body.Candles)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/candles/BTCUSDT?interval=7m", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/candles/BTCUSDT?start=yesterday", nil))
}

func TestStatusRoute(t *testing.T) {
	srv, _ := newTestServer(t, server.Config{}, nil)

	var body struct {
		Mode    string            `json:"mode"`
		Status  domain.FeedStatus `json:"status"`
		Balance string            `json:"balance"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/status", &body))
	assert.Equal(t, "server", body.Mode)
	assert.True(t, body.Status.MarketFeed)
	assert.False(t, body.Status.OrderBookFeed)
	assert.Equal(t, "1500.25", body.Balance)
}

func TestPlaceOrder(t *testing.T) {
	srv, term := newTestServer(t, server.Config{}, nil)
	post := func(body string) (int, map[string]string) {
		resp, err := http.Post(srv.URL+"/api/orders", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]string
		json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	status, out := post(`{"asset":"BTCUSDT","orderType":"MARKET","orderSide":"BUY","quantity":"0.5","leverage":5}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "o-1", out["orderId"])
	require.Len(t, term.submitted, 1)
	assert.Equal(t, 5, term.submitted[0].Leverage)

	status, _ = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	term.submitErr = &service.SubmitError{Message: "Insufficient balance", Err: domain.ErrInvalidOrder}
	status, out = post(`{"asset":"BTCUSDT","quantity":"100"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Insufficient balance", out["error"])

	term.submitErr = &service.SubmitError{Message: "Please log in", Err: domain.ErrNotAuthenticated}
	status, _ = post(`{"asset":"BTCUSDT","quantity":"1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	term.submitErr = fmt.Errorf("boom")
	status, _ = post(`{"asset":"BTCUSDT","quantity":"1"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestAuthRequiresKey(t *testing.T) {
	srv, _ := newTestServer(t, server.Config{APIKey: "secret"}, nil)

	assert.Equal(t, http.StatusUnauthorized, getJSON(t, srv.URL+"/api/assets", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/assets?api_key=secret", nil))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/assets", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rediscache.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rdb.Close() })

	srv, _ := newTestServer(t, server.Config{RateLimit: 2, RateWindow: time.Minute}, rediscache.NewRateLimiter(rdb))

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, getJSON(t, srv.URL+"/api/health", nil))
}

func TestRequestID(t *testing.T) {
	srv, _ := newTestServer(t, server.Config{}, nil)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}
