package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const journalPrefix = "orders/"

// OrderJournal writes reconciled orders as JSON objects at
// orders/{userId}/{orderId}.json and reads them back as order history.
type OrderJournal struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	logger *slog.Logger
}

// NewOrderJournal creates a journal. reader may be nil, in which case
// History always fails.
func NewOrderJournal(writer domain.BlobWriter, reader domain.BlobReader, logger *slog.Logger) *OrderJournal {
	return &OrderJournal{
		writer: writer,
		reader: reader,
		logger: logger.With(slog.String("component", "order_journal")),
	}
}

// OrderPath returns the object key for one order.
func OrderPath(userID, orderID string) string {
	return journalPrefix + userID + "/" + orderID + ".json"
}

// Record stores o, replacing any earlier record for the same order.
func (j *OrderJournal) Record(ctx context.Context, o domain.Order) error {
	if o.ID == "" || o.UserID == "" {
		return fmt.Errorf("s3blob: record order: %w", domain.ErrInvalidOrder)
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("s3blob: marshal order %s: %w", o.ID, err)
	}
	return j.writer.Put(ctx, OrderPath(o.UserID, o.ID), bytes.NewReader(raw), "application/json")
}

// History returns every journaled order for userID. Unreadable objects are
// skipped.
func (j *OrderJournal) History(ctx context.Context, userID string) ([]domain.Order, error) {
	if j.reader == nil {
		return nil, fmt.Errorf("s3blob: history: %w", domain.ErrNotFound)
	}
	keys, err := j.reader.List(ctx, journalPrefix+userID+"/")
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		o, err := j.read(ctx, key)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				j.logger.WarnContext(ctx, "order_journal: skipping unreadable record",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (j *OrderJournal) read(ctx context.Context, key string) (domain.Order, error) {
	body, err := j.reader.Get(ctx, key)
	if err != nil {
		return domain.Order{}, err
	}
	defer body.Close()

	var o domain.Order
	if err := json.NewDecoder(body).Decode(&o); err != nil {
		return domain.Order{}, fmt.Errorf("s3blob: decode %s: %w", key, err)
	}
	return o, nil
}

var (
	_ domain.OrderJournal = (*OrderJournal)(nil)
	_ domain.OrderHistory = (*OrderJournal)(nil)
)
