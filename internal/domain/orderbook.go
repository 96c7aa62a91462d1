package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// BookLevel is a single aggregated price level of an order book.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BookSource records which path produced an order book.
type BookSource string

const (
	BookSourceSnapshot BookSource = "snapshot"
	BookSourcePush     BookSource = "push"
	BookSourceCache    BookSource = "cache"
)

// OrderBook is a full bid/ask ladder for one symbol. Books are always
// replaced wholesale; nothing patches individual levels.
type OrderBook struct {
	Symbol     string      `json:"symbol"`
	Bids       []BookLevel `json:"bids"`
	Asks       []BookLevel `json:"asks"`
	Source     BookSource  `json:"source"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// EmptyOrderBook returns a book with non-nil, empty sides.
func EmptyOrderBook(symbol string) OrderBook {
	return OrderBook{
		Symbol: symbol,
		Bids:   []BookLevel{},
		Asks:   []BookLevel{},
	}
}

// IsEmpty reports whether both sides are empty.
func (b OrderBook) IsEmpty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// DisplayBook is an order book in rendering order.
type DisplayBook struct {
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}

// Display returns sorted copies of both sides: bids highest price first and
// asks lowest price first, so the levels nearest the spread lead. Equal
// prices keep their received order.
func (b OrderBook) Display() DisplayBook {
	bids := slices.Clone(b.Bids)
	asks := slices.Clone(b.Asks)
	if bids == nil {
		bids = []BookLevel{}
	}
	if asks == nil {
		asks = []BookLevel{}
	}
	slices.SortStableFunc(bids, func(x, y BookLevel) int { return y.Price.Cmp(x.Price) })
	slices.SortStableFunc(asks, func(x, y BookLevel) int { return x.Price.Cmp(y.Price) })
	return DisplayBook{Bids: bids, Asks: asks}
}

// BestBid returns the highest bid, if any.
func (b OrderBook) BestBid() (BookLevel, bool) {
	d := b.Display()
	if len(d.Bids) == 0 {
		return BookLevel{}, false
	}
	return d.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b OrderBook) BestAsk() (BookLevel, bool) {
	d := b.Display()
	if len(d.Asks) == 0 {
		return BookLevel{}, false
	}
	return d.Asks[0], true
}
