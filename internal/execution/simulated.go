package execution

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridcore/internal/order"
)

// Simulated fills orders against supplied prices without contacting a venue.
// Market orders fill immediately; limit orders stay open until a price tick
// crosses them via CheckAndFillOrders. This lets a backtest or paper-trading
// loop drive fills purely from price ticks.
type Simulated struct {
	feeRate float64

	mu     sync.Mutex
	orders map[string]*order.Order
}

// NewSimulated creates a simulated execution strategy. feeRate is a decimal
// (0.0026 = 26 bps) applied to every fill.
func NewSimulated(feeRate float64) *Simulated {
	return &Simulated{
		feeRate: feeRate,
		orders:  make(map[string]*order.Order),
	}
}

// ExecuteMarketOrder returns an order already filled at the given price.
func (s *Simulated) ExecuteMarketOrder(ctx context.Context, side order.Side, pair string, qty, price float64) (*order.Order, error) {
	now := time.Now()
	o := &order.Order{
		ID:        uuid.NewString(),
		Pair:      pair,
		Side:      side,
		Type:      order.TypeMarket,
		Status:    order.StatusOpen,
		Price:     price,
		Quantity:  qty,
		Fee:       qty * price * s.feeRate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.Fill(price, now)

	s.store(o)
	log.Printf("sim: market %s %s qty=%.8f price=%.2f filled", side, pair, qty, price)
	return s.clone(o.ID), nil
}

// ExecuteLimitOrder returns an open order that fills once the price crosses it.
func (s *Simulated) ExecuteLimitOrder(ctx context.Context, side order.Side, pair string, qty, price float64) (*order.Order, error) {
	now := time.Now()
	o := &order.Order{
		ID:        uuid.NewString(),
		Pair:      pair,
		Side:      side,
		Type:      order.TypeLimit,
		Status:    order.StatusOpen,
		Price:     price,
		Quantity:  qty,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.store(o)
	log.Printf("sim: limit %s %s qty=%.8f price=%.2f open", side, pair, qty, price)
	return s.clone(o.ID), nil
}

// GetOrder looks up an order by id.
func (s *Simulated) GetOrder(ctx context.Context, id, pair string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.Pair != pair {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

// CancelOrder cancels an open order. Returns false for terminal or unknown
// orders.
func (s *Simulated) CancelOrder(ctx context.Context, id, pair string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.IsTerminal() {
		return false, nil
	}
	o.SetStatus(order.StatusCanceled)
	return true, nil
}

// CheckAndFillOrders scans open limit orders for the pair and fills any whose
// limit price has been crossed: buys fill when current <= limit, sells when
// current >= limit. Filled orders are mutated in place and returned.
func (s *Simulated) CheckAndFillOrders(currentPrice float64, pair string) []*order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var filled []*order.Order
	now := time.Now()
	for _, o := range s.orders {
		if o.Pair != pair || o.Status != order.StatusOpen || o.Type != order.TypeLimit {
			continue
		}
		crossed := (o.Side == order.SideBuy && currentPrice <= o.Price) ||
			(o.Side == order.SideSell && currentPrice >= o.Price)
		if !crossed {
			continue
		}

		o.Fee = o.Quantity * o.Price * s.feeRate
		o.Fill(o.Price, now)
		cp := *o
		filled = append(filled, &cp)
		log.Printf("sim: limit %s %s filled at %.2f (tick %.2f)", o.Side, o.Pair, o.Price, currentPrice)
	}
	return filled
}

// OpenOrders returns copies of all open orders for the pair, all pairs when
// pair is empty.
func (s *Simulated) OpenOrders(pair string) []*order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*order.Order
	for _, o := range s.orders {
		if o.Status != order.StatusOpen {
			continue
		}
		if pair != "" && o.Pair != pair {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out
}

func (s *Simulated) store(o *order.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *Simulated) clone(id string) *order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.orders[id]
	return &cp
}
