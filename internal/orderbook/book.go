// Package orderbook indexes the bot's outstanding and completed orders,
// partitioned by side, with a back-reference from each order to the grid
// level (if any) that produced it.
package orderbook

import (
	"fmt"
	"sync"

	"gridbot/internal/domain"
	"gridbot/internal/grid"
)

// Book is the order-to-grid index. Side lists keep insertion order; the
// level association is lookup-only (the book does not own levels). Orders
// that belong to no level — the initial purchase, take-profit and stop-loss
// liquidations — are tracked in the non-grid set instead. Fill and cancel
// handlers touch the book concurrently, so it carries its own mutex.
type Book struct {
	mu sync.Mutex

	buyOrders  []*domain.Order
	sellOrders []*domain.Order

	levelByID  map[string]*grid.Level
	nonGridIDs map[string]bool
}

// New returns an empty Book.
func New() *Book {
	return &Book{
		levelByID:  make(map[string]*grid.Level),
		nonGridIDs: make(map[string]bool),
	}
}

// Add indexes an order placed for the given grid level; pass a nil level for
// non-grid orders. An order is either level-mapped or non-grid, never both.
func (b *Book) Add(order *domain.Order, lvl *grid.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if order.Side == domain.OrderSideBuy {
		b.buyOrders = append(b.buyOrders, order)
	} else {
		b.sellOrders = append(b.sellOrders, order)
	}
	if lvl != nil {
		b.levelByID[order.ID] = lvl
	} else {
		b.nonGridIDs[order.ID] = true
	}
}

// Remove drops the order with the given ID from its side list, its level
// association, and the non-grid set, returning the removed order. A miss
// returns domain.ErrNotFound and leaves the book untouched.
func (b *Book) Remove(orderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, o := range b.buyOrders {
		if o.ID == orderID {
			b.buyOrders = append(b.buyOrders[:i], b.buyOrders[i+1:]...)
			delete(b.levelByID, orderID)
			delete(b.nonGridIDs, orderID)
			return o, nil
		}
	}
	for i, o := range b.sellOrders {
		if o.ID == orderID {
			b.sellOrders = append(b.sellOrders[:i], b.sellOrders[i+1:]...)
			delete(b.levelByID, orderID)
			delete(b.nonGridIDs, orderID)
			return o, nil
		}
	}
	return nil, fmt.Errorf("orderbook: remove %s: %w", orderID, domain.ErrNotFound)
}

// LevelFor returns the grid level the order was placed for, or nil for
// non-grid and unknown orders.
func (b *Book) LevelFor(order *domain.Order) *grid.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levelByID[order.ID]
}

// Get returns the indexed order with the given ID.
func (b *Book) Get(orderID string) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, o := range b.buyOrders {
		if o.ID == orderID {
			return o, true
		}
	}
	for _, o := range b.sellOrders {
		if o.ID == orderID {
			return o, true
		}
	}
	return nil, false
}

// OpenOrders returns every order whose own status predicate reports open,
// buys first, each side in insertion order.
func (b *Book) OpenOrders() []*domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*domain.Order
	for _, o := range b.buyOrders {
		if o.IsOpen() {
			out = append(out, o)
		}
	}
	for _, o := range b.sellOrders {
		if o.IsOpen() {
			out = append(out, o)
		}
	}
	return out
}

// CompletedOrders returns every filled order, buys first, in insertion order.
func (b *Book) CompletedOrders() []*domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*domain.Order
	for _, o := range b.buyOrders {
		if o.IsFilled() {
			out = append(out, o)
		}
	}
	for _, o := range b.sellOrders {
		if o.IsFilled() {
			out = append(out, o)
		}
	}
	return out
}

// Counts returns the number of indexed buy and sell orders.
func (b *Book) Counts() (buys, sells int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buyOrders), len(b.sellOrders)
}

// Snapshot returns copies of every indexed order, buys first. The copies
// are safe to serialize without holding the book's lock.
func (b *Book) Snapshot() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Order, 0, len(b.buyOrders)+len(b.sellOrders))
	for _, o := range b.buyOrders {
		out = append(out, *o)
	}
	for _, o := range b.sellOrders {
		out = append(out, *o)
	}
	return out
}
