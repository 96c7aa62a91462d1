package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// Notional is price × quantity.
func Notional(price, quantity decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity)
}

// Margin is notional / leverage rounded to cents. Leverage below 1 counts
// as 1.
func Margin(price, quantity decimal.Decimal, leverage int) decimal.Decimal {
	if leverage < domain.MinLeverage {
		leverage = domain.MinLeverage
	}
	return Notional(price, quantity).Div(decimal.NewFromInt(int64(leverage))).Round(2)
}

// HighLeverage reports whether leverage warrants a risk warning.
func HighLeverage(leverage int) bool {
	return leverage > domain.HighLeverage
}

// parseQuantity accepts a strictly positive decimal.
func parseQuantity(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: quantity is required", domain.ErrInvalidOrder)
	}
	q, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: quantity %q is not a number", domain.ErrInvalidOrder, raw)
	}
	if !q.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: quantity must be greater than zero", domain.ErrInvalidOrder)
	}
	return q, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %q is not a number", domain.ErrInvalidOrder, raw)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price must be greater than zero", domain.ErrInvalidOrder)
	}
	return p, nil
}

func validLeverage(l int) error {
	if l < domain.MinLeverage || l > domain.MaxLeverage {
		return fmt.Errorf("%w: leverage must be between %d and %d", domain.ErrInvalidOrder, domain.MinLeverage, domain.MaxLeverage)
	}
	return nil
}
