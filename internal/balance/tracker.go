package balance

import (
	"fmt"
	"log"
	"sync"
)

// Snapshot is a point-in-time view of tracked balances.
type Snapshot struct {
	Quote         float64 `json:"quote"`
	QuoteReserved float64 `json:"quote_reserved"`
	Base          float64 `json:"base"`
	BaseReserved  float64 `json:"base_reserved"`
}

// Tracker keeps fiat (quote) and asset (base) balances with reservations for
// in-flight orders. Buys reserve quote, sells reserve base; settlement moves
// the reserved amounts to the other side.
type Tracker struct {
	mu            sync.RWMutex
	quote         float64
	quoteReserved float64
	base          float64
	baseReserved  float64
}

// NewTracker creates a tracker seeded with starting balances.
func NewTracker(quote, base float64) *Tracker {
	return &Tracker{quote: quote, base: base}
}

// ReserveFundsForBuy sets aside quote currency for a pending buy order.
func (t *Tracker) ReserveFundsForBuy(amount float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount > t.quote {
		return fmt.Errorf("insufficient funds: need %.2f, have %.2f", amount, t.quote)
	}
	t.quote -= amount
	t.quoteReserved += amount
	log.Printf("balance: reserved %.2f quote for buy (available %.2f)", amount, t.quote)
	return nil
}

// ReserveFundsForSell sets aside asset quantity for a pending sell order.
func (t *Tracker) ReserveFundsForSell(qty float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if qty > t.base {
		return fmt.Errorf("insufficient asset: need %.8f, have %.8f", qty, t.base)
	}
	t.base -= qty
	t.baseReserved += qty
	log.Printf("balance: reserved %.8f base for sell (available %.8f)", qty, t.base)
	return nil
}

// ReleaseBuyReservation returns reserved quote after a failed or cancelled buy.
func (t *Tracker) ReleaseBuyReservation(amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.quoteReserved -= amount
	t.quote += amount
}

// ReleaseSellReservation returns reserved asset after a failed or cancelled sell.
func (t *Tracker) ReleaseSellReservation(qty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.baseReserved -= qty
	t.base += qty
}

// SettleBuy consumes a buy reservation and credits the bought asset.
func (t *Tracker) SettleBuy(spent, qty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.quoteReserved -= spent
	t.base += qty
	log.Printf("balance: buy settled, spent %.2f for %.8f (quote %.2f, base %.8f)",
		spent, qty, t.quote, t.base)
}

// SettleSell consumes a sell reservation and credits the proceeds.
func (t *Tracker) SettleSell(qty, proceeds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.baseReserved -= qty
	t.quote += proceeds
	log.Printf("balance: sell settled, %.8f for %.2f (quote %.2f, base %.8f)",
		qty, proceeds, t.quote, t.base)
}

// AvailableQuote returns unreserved fiat balance.
func (t *Tracker) AvailableQuote() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.quote
}

// AvailableBase returns unreserved asset quantity.
func (t *Tracker) AvailableBase() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.base
}

// Snapshot returns all tracked balances.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Quote:         t.quote,
		QuoteReserved: t.quoteReserved,
		Base:          t.base,
		BaseReserved:  t.baseReserved,
	}
}
