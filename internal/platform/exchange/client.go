package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// DefaultTimeout bounds every REST call.
const DefaultTimeout = 10 * time.Second

const (
	publishAccepted = "Order is Queued, Please wait."
	publishFailed   = "Order failed to push to queue!"
)

// TokenFunc returns the bearer token to attach, or "" for none.
type TokenFunc func() string

// APIError is a non-2xx response. Message carries the backend's own
// explanation when the body had one.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// UserMessage returns the backend's message carried by err, or fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// Client is the REST client for the trading backend.
type Client struct {
	baseURL    string
	apiURL     string
	httpClient *http.Client
	token      TokenFunc
}

// NewClient creates a client for the backend rooted at baseURL, e.g.
// "https://exchange.example.com". REST resources live under baseURL/api;
// the webhook endpoints live directly under baseURL.
func NewClient(baseURL string, timeout time.Duration, token TokenFunc) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:    base,
		apiURL:     base + "/api",
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
	}
}

// CallbackURL is the webhook address the backend reports order progress
// to. It embeds both the user and the order id.
func (c *Client) CallbackURL(userID, orderID string) string {
	return fmt.Sprintf("%s/order/webhook/%s/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(orderID))
}

// GetOrderBook fetches the current ladder for symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	symbol = strings.ToUpper(symbol)
	body, err := c.do(ctx, http.MethodGet, "/order/order-book/"+url.PathEscape(symbol), nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("exchange: get order book %s: %w", symbol, err)
	}
	return ParseOrderBook(symbol, body, domain.BookSourceSnapshot, time.Now())
}

// PublishOrder submits an order and returns the backend's acknowledgement.
func (c *Client) PublishOrder(ctx context.Context, p domain.OrderPayload) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/order/publish", NewOrderRequest(p))
	if err != nil {
		return "", fmt.Errorf("exchange: publish order %s: %w", p.ID, err)
	}

	var resp messageResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Message == "" {
		return publishAccepted, nil
	}
	return resp.Message, nil
}

// PublishFailureMessage is the text shown when a publish fails.
func PublishFailureMessage(err error) string {
	return UserMessage(err, publishFailed)
}

// GetUser fetches the profile, including the wallet balance.
func (c *Client) GetUser(ctx context.Context, userID string) (domain.UserProfile, error) {
	body, err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(userID), nil)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("exchange: get user %s: %w", userID, err)
	}

	var u userMessage
	if err := json.Unmarshal(body, &u); err != nil {
		return domain.UserProfile{}, fmt.Errorf("exchange: decode user: %w", err)
	}
	profile := u.toDomain()
	if profile.ID == "" {
		profile.ID = userID
	}
	return profile, nil
}

// GetOrders fetches the user's order list. Unreadable records are skipped.
func (c *Client) GetOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	body, err := c.do(ctx, http.MethodGet, "/order/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: get orders %s: %w", userID, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("exchange: decode orders: %w", err)
	}
	orders := make([]domain.Order, 0, len(raw))
	for _, r := range raw {
		o, err := ParseOrder(r)
		if err != nil {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// UpdateBalance asks the backend to recompute the user's balance.
func (c *Client) UpdateBalance(ctx context.Context, userID string) error {
	if _, err := c.do(ctx, http.MethodGet, "/user/update-balance/"+url.PathEscape(userID), nil); err != nil {
		return fmt.Errorf("exchange: update balance %s: %w", userID, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to an *APIError wrapping the
// matching domain error.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	apiErr := &APIError{StatusCode: statusCode, Body: string(body)}
	var msg messageResponse
	if json.Unmarshal(body, &msg) == nil {
		apiErr.Message = msg.Message
	}

	switch statusCode {
	case http.StatusNotFound:
		apiErr.Err = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.Err = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		apiErr.Err = domain.ErrRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		apiErr.Err = domain.ErrInvalidOrder
	}
	return apiErr
}
