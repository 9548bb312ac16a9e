package grid

import (
	"sync"

	"gridcore/internal/order"
)

// Level is a fixed price point in the trading ladder.
type Level struct {
	Pair  string
	Price float64
	Side  order.Side
}

// Book tracks which order currently sits at each grid level. It is the
// in-process order-book view the retry manager consults when a cancellation
// arrives.
type Book struct {
	mu      sync.RWMutex
	byOrder map[string]Level  // order id -> level
	byLevel map[Level]string  // level -> current order id
	pending map[Level]bool    // level awaiting a replacement order
}

// NewBook creates an empty grid book.
func NewBook() *Book {
	return &Book{
		byOrder: make(map[string]Level),
		byLevel: make(map[Level]string),
		pending: make(map[Level]bool),
	}
}

// AddOrder associates an order with a grid level, clearing any pending mark.
func (b *Book) AddOrder(orderID string, level Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.byLevel[level]; ok {
		delete(b.byOrder, prev)
	}
	b.byOrder[orderID] = level
	b.byLevel[level] = orderID
	delete(b.pending, level)
}

// MarkOrderPending flags a level as waiting for a replacement order. The
// cancelled order keeps its association so retries can still resolve it.
func (b *Book) MarkOrderPending(level Level, orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[level] = true
	b.byOrder[orderID] = level
}

// LevelForOrder returns the grid level an order is tied to, if any.
func (b *Book) LevelForOrder(orderID string) (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.byOrder[orderID]
	return l, ok
}

// RemoveOrder drops an order's association, leaving the level unoccupied.
func (b *Book) RemoveOrder(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	level, ok := b.byOrder[orderID]
	if !ok {
		return
	}
	delete(b.byOrder, orderID)
	if b.byLevel[level] == orderID {
		delete(b.byLevel, level)
	}
	delete(b.pending, level)
}

// OpenLevels returns levels that currently have an order attached.
func (b *Book) OpenLevels() []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Level, 0, len(b.byLevel))
	for l := range b.byLevel {
		out = append(out, l)
	}
	return out
}
