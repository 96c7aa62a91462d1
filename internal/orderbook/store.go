package orderbook

import (
	"strings"
	"sync"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// Store holds the latest ladder per symbol. Snapshots and pushes both
// replace the whole book; whichever is applied last wins.
type Store struct {
	mu    sync.RWMutex
	books map[string]domain.OrderBook
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{books: make(map[string]domain.OrderBook)}
}

// Apply replaces the stored book for book.Symbol.
func (s *Store) Apply(book domain.OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[strings.ToUpper(book.Symbol)] = book
}

// Get returns the stored book for symbol.
func (s *Store) Get(symbol string) (domain.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[strings.ToUpper(symbol)]
	return b, ok
}

// Forget drops the stored book for symbol.
func (s *Store) Forget(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, strings.ToUpper(symbol))
}
