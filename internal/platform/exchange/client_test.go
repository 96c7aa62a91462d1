package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func staticToken(tok string) TokenFunc {
	return func() string { return tok }
}

func TestGetOrderBook(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"bids":[{"price":100.5,"quantity":2},{"price":"101","remainingQuantity":"0.5","asset":"BTCUSDT"}],"asks":null}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken("tok"))
	book, err := c.GetOrderBook(context.Background(), "btcusdt")
	require.NoError(t, err)

	assert.Equal(t, "/api/order/order-book/BTCUSDT", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "BTCUSDT", book.Symbol)
	assert.Equal(t, domain.BookSourceSnapshot, book.Source)
	require.Len(t, book.Bids, 2)
	assert.True(t, book.Bids[1].Quantity.Equal(decimal.RequireFromString("0.5")))
	assert.NotNil(t, book.Asks)
	assert.Empty(t, book.Asks)
}

func TestGetOrderBookWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"bids":[],"asks":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken(""))
	book, err := c.GetOrderBook(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, book.IsEmpty())
}

func TestGetOrderBookMalformed(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>`},
		{name: "bad price", body: `{"bids":[{"price":"abc","quantity":1}]}`},
		{name: "no quantity", body: `{"asks":[{"price":1}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, nil).GetOrderBook(context.Background(), "BTCUSDT")
			assert.ErrorIs(t, err, domain.ErrMalformedMessage)
		})
	}
}

func TestPublishOrder(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/order/publish", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		assert.NoError(t, dec.Decode(&got))
		w.Write([]byte(`{"message":"Order queued"}`))
	}))
	defer srv.Close()

	price := decimal.RequireFromString("100.25")
	c := NewClient(srv.URL, time.Second, nil)
	msg, err := c.PublishOrder(context.Background(), domain.OrderPayload{
		ID:        "o-1",
		Asset:     "BTCUSDT",
		UserID:    "u-1",
		OrderType: domain.OrderTypeLimit,
		Price:     &price,
		CallURL:   c.CallbackURL("u-1", "o-1"),
		Quantity:  decimal.RequireFromString("0.5"),
		Margin:    decimal.RequireFromString("5.0125").Round(2),
		Status:    domain.OrderStatusPending,
		OrderSide: domain.OrderSideBuy,
	})
	require.NoError(t, err)
	assert.Equal(t, "Order queued", msg)

	assert.Equal(t, "o-1", got["id"])
	assert.Equal(t, json.Number("100.25"), got["price"])
	assert.Equal(t, json.Number("0.5"), got["quantity"])
	assert.Equal(t, json.Number("5.01"), got["margin"])
	assert.Equal(t, "PENDING", got["status"])
	assert.Equal(t, "BUY", got["orderSide"])
	assert.Equal(t, srv.URL+"/order/webhook/u-1/o-1", got["callUrl"])
}

func TestPublishOrderMarketHasNullPrice(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		raw = buf.Bytes()
	}))
	defer srv.Close()

	msg, err := NewClient(srv.URL, time.Second, nil).PublishOrder(context.Background(), domain.OrderPayload{
		ID:        "o-2",
		OrderType: domain.OrderTypeMarket,
		Quantity:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, publishAccepted, msg)
	assert.Contains(t, string(raw), `"price":null`)
}

func TestPublishOrderFailureMessage(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "backend message", status: http.StatusBadRequest, body: `{"message":"Insufficient balance"}`, want: "Insufficient balance", wantErr: domain.ErrInvalidOrder},
		{name: "no message", status: http.StatusInternalServerError, body: `oops`, want: publishFailed},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, want: publishFailed, wantErr: domain.ErrUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, nil).PublishOrder(context.Background(), domain.OrderPayload{ID: "x"})
			require.Error(t, err)
			assert.Equal(t, tc.want, PublishFailureMessage(err))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestGetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/u-9", r.URL.Path)
		w.Write([]byte(`{"_id":"u-9","username":"sam","email":"s@example.com","amount":1520.75}`))
	}))
	defer srv.Close()

	u, err := NewClient(srv.URL, time.Second, nil).GetUser(context.Background(), "u-9")
	require.NoError(t, err)
	assert.Equal(t, "u-9", u.ID)
	assert.Equal(t, "sam", u.Name)
	assert.True(t, u.Amount.Equal(decimal.RequireFromString("1520.75")))
}

func TestGetOrdersSkipsUnreadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/order/u-1", r.URL.Path)
		w.Write([]byte(`[{"id":"a","status":"OPEN","quantity":1},{"status":"OPEN"},{"id":"b","status":"CLOSED","price":null}]`))
	}))
	defer srv.Close()

	orders, err := NewClient(srv.URL, time.Second, nil).GetOrders(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "a", orders[0].ID)
	assert.Nil(t, orders[1].Price)
}

func TestUpdateBalance(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = r.URL.Path == "/api/user/update-balance/u-1"
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, time.Second, nil).UpdateBalance(context.Background(), "u-1"))
	assert.True(t, called)
}

func TestCheckHTTPStatus(t *testing.T) {
	testCases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}

	for _, tc := range testCases {
		err := checkHTTPStatus(tc.status, nil)
		assert.ErrorIs(t, err, tc.want)
	}
	assert.NoError(t, checkHTTPStatus(http.StatusNoContent, nil))
}

func TestRESTTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 20*time.Millisecond, nil).GetOrderBook(context.Background(), "BTCUSDT")
	require.Error(t, err)
}
