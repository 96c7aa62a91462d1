package service

import (
	"context"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/platform/exchange"
)

// OrderStream is an open per-order event stream.
type OrderStream interface {
	Next() (exchange.Event, error)
	Close() error
}

// OrderGateway is the backend surface the coordinator needs.
type OrderGateway interface {
	CallbackURL(userID, orderID string) string
	PublishOrder(ctx context.Context, p domain.OrderPayload) (string, error)
	OpenOrderStream(ctx context.Context, userID, orderID string) (OrderStream, error)
}

type exchangeGateway struct {
	*exchange.Client
}

// NewExchangeGateway adapts the REST client to OrderGateway.
func NewExchangeGateway(c *exchange.Client) OrderGateway {
	return exchangeGateway{Client: c}
}

func (g exchangeGateway) OpenOrderStream(ctx context.Context, userID, orderID string) (OrderStream, error) {
	s, err := g.Client.OpenOrderStream(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s, nil
}
