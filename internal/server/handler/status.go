package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// StatusSource reports connection flags and the wallet balance.
type StatusSource interface {
	Status() domain.FeedStatus
	Balance(ctx context.Context) decimal.Decimal
}

// StatusHandler serves the terminal status for presentation clients.
type StatusHandler struct {
	mode   string
	source StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, source StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, source: source}
}

// GetStatus returns the mode, both connection flags and the balance.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    h.mode,
		"status":  h.source.Status(),
		"balance": h.source.Balance(r.Context()),
	})
}
