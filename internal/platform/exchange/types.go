// Package exchange talks to the trading backend: its REST API, the STOMP
// push channel carrying order-book ladders, and the per-order event stream.
package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// BookLevelMessage is one ladder level as the backend sends it. Older
// backend revisions carry remainingQuantity instead of quantity.
type BookLevelMessage struct {
	Price             json.Number  `json:"price"`
	Quantity          *json.Number `json:"quantity"`
	RemainingQuantity *json.Number `json:"remainingQuantity"`
	Asset             string       `json:"asset,omitempty"`
}

// BookMessage is the order-book body shared by the REST snapshot and the
// push topic. Either side may be null.
type BookMessage struct {
	Bids []BookLevelMessage `json:"bids"`
	Asks []BookLevelMessage `json:"asks"`
}

func (m BookLevelMessage) toDomain() (domain.BookLevel, error) {
	price, err := decimal.NewFromString(m.Price.String())
	if err != nil {
		return domain.BookLevel{}, fmt.Errorf("price %q: %w", m.Price, err)
	}

	qty := m.Quantity
	if qty == nil {
		qty = m.RemainingQuantity
	}
	if qty == nil {
		return domain.BookLevel{}, fmt.Errorf("level %s has no quantity", price)
	}
	quantity, err := decimal.NewFromString(qty.String())
	if err != nil {
		return domain.BookLevel{}, fmt.Errorf("quantity %q: %w", *qty, err)
	}
	return domain.BookLevel{Price: price, Quantity: quantity}, nil
}

// ParseOrderBook decodes an order-book body. A level that cannot be read
// rejects the whole book with domain.ErrMalformedMessage.
func ParseOrderBook(symbol string, raw []byte, source domain.BookSource, now time.Time) (domain.OrderBook, error) {
	var msg BookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.OrderBook{}, fmt.Errorf("exchange: order book: %w: %v", domain.ErrMalformedMessage, err)
	}

	book := domain.EmptyOrderBook(strings.ToUpper(symbol))
	book.Source = source
	book.ReceivedAt = now

	for _, l := range msg.Bids {
		level, err := l.toDomain()
		if err != nil {
			return domain.OrderBook{}, fmt.Errorf("exchange: order book bid: %w: %v", domain.ErrMalformedMessage, err)
		}
		book.Bids = append(book.Bids, level)
	}
	for _, l := range msg.Asks {
		level, err := l.toDomain()
		if err != nil {
			return domain.OrderBook{}, fmt.Errorf("exchange: order book ask: %w: %v", domain.ErrMalformedMessage, err)
		}
		book.Asks = append(book.Asks, level)
	}
	return book, nil
}

// OrderRequest is the wire form of domain.OrderPayload. Amounts travel as
// JSON numbers.
type OrderRequest struct {
	ID        string       `json:"id"`
	Asset     string       `json:"asset"`
	UserID    string       `json:"userId"`
	OrderType string       `json:"orderType"`
	Price     *json.Number `json:"price"`
	CallURL   string       `json:"callUrl"`
	Quantity  json.Number  `json:"quantity"`
	Margin    json.Number  `json:"margin"`
	Status    string       `json:"status"`
	OrderSide string       `json:"orderSide"`
}

// NewOrderRequest converts a payload to its wire form.
func NewOrderRequest(p domain.OrderPayload) OrderRequest {
	req := OrderRequest{
		ID:        p.ID,
		Asset:     p.Asset,
		UserID:    p.UserID,
		OrderType: string(p.OrderType),
		CallURL:   p.CallURL,
		Quantity:  json.Number(p.Quantity.String()),
		Margin:    json.Number(p.Margin.StringFixed(2)),
		Status:    string(p.Status),
		OrderSide: string(p.OrderSide),
	}
	if p.Price != nil {
		n := json.Number(p.Price.String())
		req.Price = &n
	}
	return req
}

// ParseOrder decodes an order record from the order list or an
// order-update event. Records without an id are rejected.
func ParseOrder(raw []byte) (domain.Order, error) {
	var o domain.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.Order{}, fmt.Errorf("exchange: order: %w: %v", domain.ErrMalformedMessage, err)
	}
	if o.ID == "" {
		return domain.Order{}, fmt.Errorf("exchange: order without id: %w", domain.ErrMalformedMessage)
	}
	return o, nil
}

// userMessage is the user document. Some deployments key it by _id.
type userMessage struct {
	ID       string          `json:"id"`
	MongoID  string          `json:"_id"`
	Name     string          `json:"name"`
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Amount   decimal.Decimal `json:"amount"`
}

func (u userMessage) toDomain() domain.UserProfile {
	id := u.ID
	if id == "" {
		id = u.MongoID
	}
	name := u.Name
	if name == "" {
		name = u.Username
	}
	return domain.UserProfile{ID: id, Name: name, Email: u.Email, Amount: u.Amount}
}

type messageResponse struct {
	Message string `json:"message"`
}
