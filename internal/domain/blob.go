package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader reads objects back from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// OrderJournal keeps a durable copy of reconciled order records.
type OrderJournal interface {
	Record(ctx context.Context, order Order) error
}

// OrderHistory lists a user's journaled orders.
type OrderHistory interface {
	History(ctx context.Context, userID string) ([]Order, error)
}
