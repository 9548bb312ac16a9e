package order

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Type distinguishes market and limit orders.
type Type string

const (
	TypeMarket Type = "market"
	TypeLimit  Type = "limit"
)

// Status is the lifecycle state of an order. Closed, canceled and expired
// are terminal; an order never leaves a terminal status.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Order represents a single exchange instruction.
type Order struct {
	ID        string
	Pair      string
	Side      Side
	Type      Type
	Status    Status
	Price     float64 // requested price
	Quantity  float64 // requested quantity
	Filled    float64 // cumulative filled quantity
	Average   float64 // average fill price
	Fee       float64
	GridLevel float64 // grid ladder price this order sits at; 0 when not grid-tied
	Metadata  string
	CreatedAt time.Time
	UpdatedAt time.Time
	FilledAt  *time.Time
}

// IsTerminal reports whether the order reached a final status.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusClosed, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// IsFullyFilled checks if the order is completely filled.
func (o *Order) IsFullyFilled() bool {
	return o.Filled >= o.Quantity
}

// RemainingQty returns the unfilled quantity.
func (o *Order) RemainingQty() float64 {
	return o.Quantity - o.Filled
}

// SetStatus moves the order to a new status. Terminal statuses are sticky:
// once closed/canceled/expired the order refuses further transitions.
func (o *Order) SetStatus(s Status) bool {
	if o.IsTerminal() {
		return false
	}
	o.Status = s
	o.UpdatedAt = time.Now()
	return true
}

// Fill marks the order fully filled at the given price. Filled quantity is
// capped at the requested quantity.
func (o *Order) Fill(price float64, at time.Time) bool {
	if o.IsTerminal() {
		return false
	}
	o.Filled = o.Quantity
	o.Average = price
	o.Status = StatusClosed
	o.FilledAt = &at
	o.UpdatedAt = at
	return true
}
