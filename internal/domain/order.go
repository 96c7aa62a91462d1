package domain

import (
	"github.com/shopspring/decimal"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus tracks the order lifecycle as reported by the backend.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusOpen     OrderStatus = "OPEN"
	OrderStatusClosed   OrderStatus = "CLOSED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// OrderPayload is the request sent to the order-submission endpoint. It is
// built once per submission and never mutated after sending.
type OrderPayload struct {
	ID        string           `json:"id"`
	Asset     string           `json:"asset"`
	UserID    string           `json:"userId"`
	OrderType OrderType        `json:"orderType"`
	Price     *decimal.Decimal `json:"price"`
	CallURL   string           `json:"callUrl"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Margin    decimal.Decimal  `json:"margin"`
	Status    OrderStatus      `json:"status"`
	OrderSide OrderSide        `json:"orderSide"`
}

// Order is an order record as the backend reports it, either in the order
// list or in an order-update push event.
type Order struct {
	ID                string           `json:"id"`
	Asset             string           `json:"asset"`
	UserID            string           `json:"userId"`
	OrderType         OrderType        `json:"orderType"`
	Price             *decimal.Decimal `json:"price"`
	Quantity          decimal.Decimal  `json:"quantity"`
	RemainingQuantity decimal.Decimal  `json:"remainingQuantity"`
	Margin            decimal.Decimal  `json:"margin"`
	Status            OrderStatus      `json:"status"`
	OrderSide         OrderSide        `json:"orderSide"`
	CreatedAt         string           `json:"createdAt,omitempty"`
}

// UpsertOrder drops every record with the same id as o and appends o, so
// exactly one record per id survives. The input slice is not modified.
func UpsertOrder(orders []Order, o Order) []Order {
	out := make([]Order, 0, len(orders)+1)
	for _, existing := range orders {
		if existing.ID != o.ID {
			out = append(out, existing)
		}
	}
	return append(out, o)
}

// OrderForm is the raw order-entry state supplied by the presentation layer.
// Price and Quantity are kept as entered text.
type OrderForm struct {
	Asset     string    `json:"asset"`
	OrderType OrderType `json:"orderType"`
	OrderSide OrderSide `json:"orderSide"`
	Price     string    `json:"price"`
	Quantity  string    `json:"quantity"`
	Leverage  int       `json:"leverage"`
}

const (
	MinLeverage = 1
	MaxLeverage = 100

	// HighLeverage is the threshold above which a risk warning is reported.
	HighLeverage = 20
)
