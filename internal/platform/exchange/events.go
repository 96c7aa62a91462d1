package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// Event names on the per-order stream.
const (
	EventOrderUpdate = "order-update"
	EventMessage     = "message"
)

const maxEventSize = 1 << 20

// Event is one dispatched server-sent event.
type Event struct {
	ID   string
	Name string
	Data []byte
}

// OrderStream is an open per-order event stream. It is read by one
// goroutine through Next and may be closed from any goroutine. A stream
// makes exactly one connection attempt; once it ends it stays ended.
type OrderStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	done chan struct{}
	err  error

	closeOnce sync.Once
}

// SubscribeOrderURL is the event-stream address for one order.
func (c *Client) SubscribeOrderURL(userID, orderID string) string {
	return fmt.Sprintf("%s/order/webhook/subscribe/%s/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(orderID))
}

// OpenOrderStream opens the event stream for orderID and returns once the
// backend has answered. The stream has no client-side timeout; it ends on
// Close, ctx cancellation, or when the server hangs up.
func (c *Client) OpenOrderStream(ctx context.Context, userID, orderID string) (*OrderStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &OrderStream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event),
		done:   make(chan struct{}),
	}

	client := sse.NewClient(c.SubscribeOrderURL(userID, orderID), sse.ClientMaxBufferSize(maxEventSize))
	// The REST client's timeout would cut the stream.
	client.Connection = &http.Client{Transport: c.httpClient.Transport}
	client.ReconnectStrategy = &backoff.StopBackOff{}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			client.Headers["Authorization"] = "Bearer " + tok
		}
	}

	opened := make(chan error, 1)
	client.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		var err error
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			err = checkHTTPStatus(resp.StatusCode, body)
		}
		opened <- err
		return err
	}

	go func() {
		err := client.SubscribeRawWithContext(ctx, s.deliver)
		select {
		case opened <- err:
		default:
		}
		s.err = err
		close(s.done)
	}()

	if err := <-opened; err != nil {
		cancel()
		return nil, fmt.Errorf("exchange: order stream %s: %w", orderID, err)
	}
	return s, nil
}

func (s *OrderStream) deliver(msg *sse.Event) {
	ev := Event{ID: string(msg.ID), Name: string(msg.Event), Data: msg.Data}
	if ev.Name == "" {
		ev.Name = EventMessage
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// Next blocks until the next event is dispatched. It returns
// domain.ErrStreamClosed once the stream has ended for any reason.
func (s *OrderStream) Next() (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
	}

	if s.err != nil && !errors.Is(s.err, context.Canceled) {
		return Event{}, fmt.Errorf("exchange: order stream: %w: %v", domain.ErrStreamClosed, s.err)
	}
	return Event{}, fmt.Errorf("exchange: order stream: %w", domain.ErrStreamClosed)
}

// Close ends the stream. It is safe to call more than once.
func (s *OrderStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}
