package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func TestUpsertOrder(t *testing.T) {
	pending := domain.Order{ID: "x", Status: domain.OrderStatusPending}
	other := domain.Order{ID: "y", Status: domain.OrderStatusOpen}
	open := domain.Order{ID: "x", Status: domain.OrderStatusOpen}

	testCases := []struct {
		name   string
		orders []domain.Order
		in     domain.Order
		want   []domain.Order
	}{
		{
			name: "empty list",
			in:   open,
			want: []domain.Order{open},
		},
		{
			name:   "replaces record with same id",
			orders: []domain.Order{pending, other},
			in:     open,
			want:   []domain.Order{other, open},
		},
		{
			name:   "removes duplicate ids",
			orders: []domain.Order{pending, pending, other},
			in:     open,
			want:   []domain.Order{other, open},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := append([]domain.Order(nil), tc.orders...)
			got := domain.UpsertOrder(tc.orders, tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, before, tc.orders)
		})
	}
}

func TestSessionAuthenticated(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, domain.Session{}.Authenticated(now))
	assert.True(t, domain.Session{UserID: "u1"}.Authenticated(now))
	assert.True(t, domain.Session{UserID: "u1", ExpiresAt: now.Add(time.Minute)}.Authenticated(now))
	assert.False(t, domain.Session{UserID: "u1", ExpiresAt: now.Add(-time.Minute)}.Authenticated(now))
}

func TestCandleIntervalValid(t *testing.T) {
	for _, i := range []domain.CandleInterval{"15m", "1h", "4h", "1d", "1w", "1M"} {
		assert.True(t, i.Valid(), i)
	}
	assert.False(t, domain.CandleInterval("5m").Valid())
}
