package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func TestProfileCache(t *testing.T) {
	ctx := context.Background()
	c := NewProfileCache()

	_, err := c.Get(ctx, "u-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.Set(ctx, domain.UserProfile{ID: "u-1", Amount: decimal.NewFromInt(5)}))
	p, err := c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(5)))

	require.NoError(t, c.Invalidate(ctx, "u-1"))
	_, err = c.Get(ctx, "u-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignalBusPatternDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus()

	books, err := bus.Subscribe(ctx, domain.ChannelBookAll)
	require.NoError(t, err)
	prices, err := bus.Subscribe(ctx, domain.ChannelPrices)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.BookChannel("btcusdt"), []byte("b")))
	require.NoError(t, bus.Publish(ctx, domain.ChannelPrices, []byte("p")))

	sig := <-books
	assert.Equal(t, "ch:book:BTCUSDT", sig.Channel)
	assert.Equal(t, []byte("b"), sig.Payload)

	sig = <-prices
	assert.Equal(t, domain.ChannelPrices, sig.Channel)
	assert.Len(t, books, 0)
}

func TestSignalBusUnsubscribeOnCancel(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, domain.ChannelOrder)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	bus.Close()
	assert.ErrorIs(t, bus.Publish(context.Background(), domain.ChannelOrder, nil), domain.ErrClosed)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	m := NewLockManager()
	now := time.Unix(0, 0)
	m.now = func() time.Time { return now }

	unlock, err := m.Acquire(ctx, "submit:u-1", time.Second)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "submit:u-1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := m.Acquire(ctx, "submit:u-1", time.Second)
	require.NoError(t, err)

	// An expired lock can be taken over; the stale unlock leaves it alone.
	now = now.Add(2 * time.Second)
	_, err = m.Acquire(ctx, "submit:u-1", time.Second)
	require.NoError(t, err)
	unlock2()
	_, err = m.Acquire(ctx, "submit:u-1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}
