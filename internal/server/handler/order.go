package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/service"
)

// OrderDesk is the order side of the terminal.
type OrderDesk interface {
	Orders() []domain.Order
	Form() domain.OrderForm
	SubmitOrder(ctx context.Context, form domain.OrderForm) (string, error)
}

// OrderHandler serves the order endpoints.
type OrderHandler struct {
	orders OrderDesk
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderDesk, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

type listOrdersResponse struct {
	Orders []domain.Order   `json:"orders"`
	Form   domain.OrderForm `json:"form"`
}

// ListOrders returns the session's orders and the order-entry state.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.orders.Orders()
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders, Form: h.orders.Form()})
}

// PlaceOrder submits an order form. The outcome of the order itself is
// reported later on the websocket.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var form domain.OrderForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.orders.SubmitOrder(r.Context(), form)
	if err != nil {
		var se *service.SubmitError
		if !errors.As(err, &se) {
			h.logger.ErrorContext(r.Context(), "handler: place order failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to place order")
			return
		}
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, domain.ErrInvalidOrder):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrUnauthorized):
			status = http.StatusUnauthorized
		case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrRateLimited):
			status = http.StatusTooManyRequests
		}
		writeError(w, status, se.Message)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"orderId": id})
}
