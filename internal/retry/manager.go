package retry

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"gridcore/internal/breaker"
	"gridcore/internal/events"
	"gridcore/internal/execution"
	"gridcore/internal/grid"
	"gridcore/internal/order"
	"gridcore/internal/validator"
	"gridcore/pkg/db"
)

// GridTracker is the order-book view consumed from the grid layer.
type GridTracker interface {
	LevelForOrder(orderID string) (grid.Level, bool)
	AddOrder(orderID string, level grid.Level)
	MarkOrderPending(level grid.Level, orderID string)
	RemoveOrder(orderID string)
}

// FundsTracker reserves and releases balances for in-flight orders.
type FundsTracker interface {
	ReserveFundsForBuy(amount float64) error
	ReserveFundsForSell(qty float64) error
	ReleaseBuyReservation(amount float64)
	ReleaseSellReservation(qty float64)
	SettleBuy(spent, qty float64)
	SettleSell(qty, proceeds float64)
	AvailableQuote() float64
}

// Repository persists orders and trades. Persistence failures are logged and
// swallowed here: a storage hiccup never aborts trading.
type Repository interface {
	SaveOrder(ctx context.Context, o db.Order) error
	SaveTrade(ctx context.Context, t db.Trade) (int64, error)
}

// Config bounds the retry behavior.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns the standard retry bounds.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  5 * time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// Stats describes in-flight retry state for observability.
type Stats struct {
	Active     int      `json:"active"`
	MaxRetries int      `json:"max_retries"`
	OrderIDs   []string `json:"order_ids"`
}

// Manager orchestrates the execution pipeline (validate, breaker-gate,
// execute, persist) and retries cancelled grid orders with exponential
// backoff up to a ceiling. Retry counters are ephemeral by design: a restart
// treats any still-open order as not yet retried; durable history lives in
// the repository.
type Manager struct {
	cfg       Config
	strategy  execution.Strategy
	validator *validator.Validator
	breaker   *breaker.TradingBreaker
	repo      Repository
	bus       *events.Bus
	grid      GridTracker
	funds     FundsTracker

	// portfolioValue supplies total portfolio value for position sizing;
	// may be nil when position limits are disabled.
	portfolioValue func() float64

	// mu guards the maps, the position cost basis and all mutation of
	// tracked orders: cancel, fill and expiry pushes arrive on separate
	// goroutines.
	mu      sync.Mutex
	retries map[string]int          // order id -> attempts so far
	orders  map[string]*order.Order // orders this manager placed, by id
	posQty  float64                 // settled base position
	posCost float64                 // quote spent acquiring posQty
}

// NewManager creates a retry manager. repo may be nil (no persistence).
func NewManager(cfg Config, strategy execution.Strategy, v *validator.Validator,
	tb *breaker.TradingBreaker, repo Repository, bus *events.Bus,
	gt GridTracker, funds FundsTracker, portfolioValue func() float64) *Manager {

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	return &Manager{
		cfg:            cfg,
		strategy:       strategy,
		validator:      v,
		breaker:        tb,
		repo:           repo,
		bus:            bus,
		grid:           gt,
		funds:          funds,
		portfolioValue: portfolioValue,
		retries:        make(map[string]int),
		orders:         make(map[string]*order.Order),
	}
}

// Start subscribes the manager to cancellation and fill events. Events for a
// given order are processed sequentially: the retry path runs to completion,
// including its backoff, before the next event is handled.
func (m *Manager) Start(ctx context.Context) {
	m.bus.SubscribeFunc(ctx, events.EventOrderCancelled, 64, func(payload any) {
		ev, ok := payload.(events.OrderCancelled)
		if !ok {
			return
		}
		if err := m.HandleCancellationByID(ctx, ev.OrderID, ev.Reason); err != nil {
			log.Printf("retry: cancellation handling for %s: %v", ev.OrderID, err)
		}
	})
	m.bus.SubscribeFunc(ctx, events.EventOrderFilled, 64, func(payload any) {
		upd, ok := payload.(execution.OrderUpdate)
		if !ok {
			return
		}
		m.HandleFillUpdate(ctx, upd)
	})
	m.bus.SubscribeFunc(ctx, events.EventOrderUpdate, 64, func(payload any) {
		upd, ok := payload.(execution.OrderUpdate)
		if !ok {
			return
		}
		if upd.Status == "expired" {
			m.HandleExpiry(ctx, upd.OrderID)
		}
	})
}

// PlaceLimitOrder runs the full placement pipeline for a grid-level limit
// order: reserve funds, validate, gate through the breaker, execute, persist
// and track.
func (m *Manager) PlaceLimitOrder(ctx context.Context, side order.Side, pair string, qty, price float64, level grid.Level) (*order.Order, error) {
	return m.place(ctx, order.TypeLimit, side, pair, qty, price, level)
}

// PlaceMarketOrder runs the same pipeline for a market order.
func (m *Manager) PlaceMarketOrder(ctx context.Context, side order.Side, pair string, qty, price float64, level grid.Level) (*order.Order, error) {
	return m.place(ctx, order.TypeMarket, side, pair, qty, price, level)
}

func (m *Manager) place(ctx context.Context, typ order.Type, side order.Side, pair string, qty, price float64, level grid.Level) (*order.Order, error) {
	pv := 0.0
	if m.portfolioValue != nil {
		pv = m.portfolioValue()
	}

	// Reserve first, then size the order from the reservation.
	var adjusted float64
	var err error
	switch side {
	case order.SideBuy:
		amount := qty * price
		if err := m.funds.ReserveFundsForBuy(amount); err != nil {
			return nil, fmt.Errorf("%w: %v", validator.ErrInsufficientBalance, err)
		}
		adjusted, err = m.validator.AdjustAndValidateBuyQuantity(amount, qty, price, pv)
		if err != nil {
			m.funds.ReleaseBuyReservation(amount)
			return nil, err
		}
		if excess := amount - adjusted*price; excess > 0 {
			m.funds.ReleaseBuyReservation(excess)
		}
	case order.SideSell:
		if err := m.funds.ReserveFundsForSell(qty); err != nil {
			return nil, fmt.Errorf("%w: %v", validator.ErrInsufficientAsset, err)
		}
		adjusted, err = m.validator.AdjustAndValidateSellQuantity(qty, qty, price, pv)
		if err != nil {
			m.funds.ReleaseSellReservation(qty)
			return nil, err
		}
		if excess := qty - adjusted; excess > 0 {
			m.funds.ReleaseSellReservation(excess)
		}
	default:
		return nil, fmt.Errorf("unknown order side %q", side)
	}

	var placed *order.Order
	execErr := m.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		if typ == order.TypeMarket {
			placed, err = m.strategy.ExecuteMarketOrder(ctx, side, pair, adjusted, price)
		} else {
			placed, err = m.strategy.ExecuteLimitOrder(ctx, side, pair, adjusted, price)
		}
		return err
	})
	if execErr != nil {
		m.releaseReservation(side, adjusted, price)
		return nil, execErr
	}

	placed.GridLevel = level.Price

	// The order becomes reachable by concurrent fill/cancel pushes the moment
	// it lands in the map, so the whole tail runs under mu.
	m.mu.Lock()
	m.orders[placed.ID] = placed
	delete(m.retries, placed.ID) // fresh order: not retried yet
	m.grid.AddOrder(placed.ID, level)
	m.persistOrder(ctx, placed)
	m.bus.Publish(events.EventOrderPlaced, *placed)
	if placed.Status == order.StatusClosed {
		m.settleFill(ctx, placed)
	}
	m.mu.Unlock()

	return placed, nil
}

// HandleCancellationByID resolves the order and runs the cancellation path.
// Unknown order ids are ignored with a log line.
func (m *Manager) HandleCancellationByID(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	o, ok := m.orders[id]
	m.mu.Unlock()
	if !ok {
		log.Printf("retry: cancellation for unknown order %s ignored", id)
		return nil
	}
	return m.HandleCancellation(ctx, o, reason)
}

// HandleCancellation processes a venue cancellation: if the order belongs to
// a grid level and the retry ceiling allows, it waits out an exponential
// backoff and re-runs the placement pipeline for a new order at the same
// price, side and quantity. The cancelled order's id is never reused.
func (m *Manager) HandleCancellation(ctx context.Context, o *order.Order, reason string) error {
	m.mu.Lock()
	_, tracked := m.orders[o.ID]
	if !o.SetStatus(order.StatusCanceled) {
		// Already terminal: duplicate or late push, nothing to do.
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if tracked {
		// Only orders placed through the pipeline hold a reservation.
		m.releaseReservation(o.Side, o.RemainingQty(), o.Price)
	}
	m.persistOrder(ctx, o)

	level, hasLevel := m.grid.LevelForOrder(o.ID)
	if !hasLevel {
		// Nothing meaningful to retry without a grid level.
		m.bus.Publish(events.EventOrderRetryExhausted, events.OrderFailed{
			OrderID: o.ID,
			Pair:    o.Pair,
			Error:   "cancelled order has no grid level, not retrying",
		})
		return nil
	}

	m.mu.Lock()
	attempts := m.retries[o.ID]
	if attempts >= m.cfg.MaxRetries {
		delete(m.retries, o.ID)
		m.mu.Unlock()
		m.giveUp(o, level, attempts, "retry limit reached")
		return nil
	}
	attempts++
	m.retries[o.ID] = attempts
	m.mu.Unlock()

	delay := m.backoff(attempts - 1)
	log.Printf("retry: order %s at grid %.2f, attempt %d/%d in %v",
		o.ID, level.Price, attempts, m.cfg.MaxRetries, delay)
	m.bus.Publish(events.EventOrderRetrying, events.OrderRetry{
		OrderID:   o.ID,
		Pair:      o.Pair,
		GridPrice: level.Price,
		Attempt:   attempts,
		Max:       m.cfg.MaxRetries,
	})
	m.grid.MarkOrderPending(level, o.ID)

	timer := time.NewTimer(delay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}

	replacement, err := m.place(ctx, o.Type, o.Side, o.Pair, o.Quantity, o.Price, level)
	if err != nil {
		if attempts >= m.cfg.MaxRetries {
			m.mu.Lock()
			delete(m.retries, o.ID)
			m.mu.Unlock()
			m.giveUp(o, level, attempts, err.Error())
			return nil
		}
		// Counter stays: the next cancellation retries again up to the ceiling.
		return fmt.Errorf("retry attempt %d for order %s: %w", attempts, o.ID, err)
	}

	// Replacement carries over the retry history of the slot so a repeat
	// cancellation counts against the same ceiling.
	m.mu.Lock()
	delete(m.retries, o.ID)
	m.retries[replacement.ID] = attempts
	delete(m.orders, o.ID)
	m.mu.Unlock()

	log.Printf("retry: order %s replaced by %s at grid %.2f", o.ID, replacement.ID, level.Price)
	return nil
}

// HandleFillUpdate applies a venue fill push to the tracked order. Pushes for
// unknown or already-terminal orders are dropped: a duplicate fill must never
// settle the balance twice or append a second trade row.
func (m *Manager) HandleFillUpdate(ctx context.Context, upd execution.OrderUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[upd.OrderID]
	if !ok || o.IsTerminal() {
		return
	}

	avg := upd.Avg
	if avg == 0 {
		avg = o.Price
	}
	o.Fee = upd.Fee
	o.Fill(avg, time.Now())
	delete(m.retries, o.ID)
	m.settleFill(ctx, o)
}

// HandleExpiry finalizes a venue-expired order: terminal status, reservation
// released, grid level freed. Expired grid orders are not retried; the level
// waits for the next placement cycle.
func (m *Manager) HandleExpiry(ctx context.Context, id string) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok || !o.SetStatus(order.StatusExpired) {
		m.mu.Unlock()
		return
	}
	delete(m.retries, o.ID)
	delete(m.orders, o.ID)
	m.mu.Unlock()

	m.releaseReservation(o.Side, o.RemainingQty(), o.Price)
	m.grid.RemoveOrder(o.ID)
	m.persistOrder(ctx, o)
	log.Printf("retry: order %s expired at the venue, level freed", o.ID)
}

// RetryStats reports orders currently mid-retry.
func (m *Manager) RetryStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.retries))
	for id := range m.retries {
		ids = append(ids, id)
	}
	return Stats{
		Active:     len(m.retries),
		MaxRetries: m.cfg.MaxRetries,
		OrderIDs:   ids,
	}
}

// TrackedOrder returns the manager's in-memory copy of an order.
func (m *Manager) TrackedOrder(id string) (*order.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// settleFill settles balances, updates the cost basis, persists the final
// order state and appends the trade row. Sell fills record realized profit
// against the average entry price of the settled position; with no position
// to price against the profit stays null. Callers must hold mu.
func (m *Manager) settleFill(ctx context.Context, o *order.Order) {
	price := o.Average
	if price == 0 {
		price = o.Price
	}

	var profit sql.NullFloat64
	switch o.Side {
	case order.SideBuy:
		m.funds.SettleBuy(o.Filled*price, o.Filled)
		m.posQty += o.Filled
		m.posCost += o.Filled * price
	case order.SideSell:
		m.funds.SettleSell(o.Filled, o.Filled*price-o.Fee)
		if m.posQty > 0 {
			avgEntry := m.posCost / m.posQty
			profit = sql.NullFloat64{Float64: (price-avgEntry)*o.Filled - o.Fee, Valid: true}
			sold := math.Min(o.Filled, m.posQty)
			m.posQty -= sold
			m.posCost -= sold * avgEntry
		}
	}

	m.persistOrder(ctx, o)
	m.persistTrade(ctx, o, price, profit)

	if m.breaker != nil {
		if err := m.breaker.CheckBalance(m.funds.AvailableQuote()); err != nil {
			m.bus.Publish(events.EventBreakerTripped, events.BreakerTripped{
				Name:   "trading",
				Reason: err.Error(),
			})
		}
	}
}

// giveUp emits the final-failure notification and removes the slot's order.
// The grid level is left without an open order until a future cycle
// reconsiders it.
func (m *Manager) giveUp(o *order.Order, level grid.Level, attempts int, reason string) {
	log.Printf("retry: giving up on order %s at grid %.2f after %d attempts: %s",
		o.ID, level.Price, attempts, reason)
	m.bus.Publish(events.EventOrderRetryExhausted, events.OrderFailed{
		OrderID:   o.ID,
		Pair:      o.Pair,
		GridPrice: level.Price,
		Attempts:  attempts,
		Error:     reason,
	})
	m.mu.Lock()
	delete(m.orders, o.ID)
	m.mu.Unlock()
}

// backoff computes BaseDelay * 2^attempt capped at MaxDelay.
func (m *Manager) backoff(attempt int) time.Duration {
	if attempt < 0 {
		return m.cfg.BaseDelay
	}
	if attempt > 30 {
		return m.cfg.MaxDelay
	}
	d := m.cfg.BaseDelay * time.Duration(1<<attempt)
	if d > m.cfg.MaxDelay {
		return m.cfg.MaxDelay
	}
	return d
}

// releaseReservation undoes the funds reservation for an unfilled order.
func (m *Manager) releaseReservation(side order.Side, qty, price float64) {
	switch side {
	case order.SideBuy:
		m.funds.ReleaseBuyReservation(qty * price)
	case order.SideSell:
		m.funds.ReleaseSellReservation(qty)
	}
}

// persistOrder saves best-effort; a storage error never aborts trading.
func (m *Manager) persistOrder(ctx context.Context, o *order.Order) {
	if m.repo == nil {
		return
	}
	rec := db.Order{
		ID:        o.ID,
		Pair:      o.Pair,
		Side:      string(o.Side),
		Type:      string(o.Type),
		Status:    string(o.Status),
		Price:     o.Price,
		Quantity:  o.Quantity,
		Filled:    o.Filled,
		Average:   o.Average,
		Fee:       o.Fee,
		GridLevel: o.GridLevel,
		Metadata:  o.Metadata,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	if o.FilledAt != nil {
		rec.FilledAt = sql.NullTime{Time: *o.FilledAt, Valid: true}
	}
	if err := m.repo.SaveOrder(ctx, rec); err != nil {
		log.Printf("retry: persist order %s error: %v", o.ID, err)
	}
}

func (m *Manager) persistTrade(ctx context.Context, o *order.Order, price float64, profit sql.NullFloat64) {
	if m.repo == nil {
		return
	}
	t := db.Trade{
		OrderID:      o.ID,
		Pair:         o.Pair,
		Side:         string(o.Side),
		Price:        price,
		Quantity:     o.Filled,
		Fee:          o.Fee,
		Profit:       profit,
		BalanceAfter: m.funds.AvailableQuote(),
		Timestamp:    time.Now(),
	}
	if _, err := m.repo.SaveTrade(ctx, t); err != nil {
		log.Printf("retry: persist trade for order %s error: %v", o.ID, err)
	}
}
