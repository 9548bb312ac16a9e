package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridcore/internal/order"
	"gridcore/internal/ratelimit"
	"gridcore/pkg/venue"
)

// ErrOrderNotFound is returned by GetOrder when neither the venue nor the
// simulation knows the order id.
var ErrOrderNotFound = errors.New("execution: order not found")

// Live submits orders to a real venue through a venue.Client, throttled by
// the per-endpoint-class venue rate limiter. Venue-level rejections surface
// as typed *venue.Error values, never silently swallowed.
type Live struct {
	client venue.Client
	limits *ratelimit.VenueLimiter
}

// NewLive creates a live execution strategy.
func NewLive(client venue.Client, limits *ratelimit.VenueLimiter) *Live {
	return &Live{client: client, limits: limits}
}

func (l *Live) ExecuteMarketOrder(ctx context.Context, side order.Side, pair string, qty, price float64) (*order.Order, error) {
	return l.submit(ctx, side, order.TypeMarket, pair, qty, price)
}

func (l *Live) ExecuteLimitOrder(ctx context.Context, side order.Side, pair string, qty, price float64) (*order.Order, error) {
	return l.submit(ctx, side, order.TypeLimit, pair, qty, price)
}

func (l *Live) submit(ctx context.Context, side order.Side, typ order.Type, pair string, qty, price float64) (*order.Order, error) {
	if err := l.limits.Acquire(ctx, ratelimit.ClassOrders); err != nil {
		return nil, err
	}

	res, err := l.client.AddOrder(ctx, venue.OrderRequest{
		Pair:  pair,
		Side:  string(side),
		Type:  string(typ),
		Qty:   qty,
		Price: price,
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s %s order: %w", side, typ, err)
	}
	return fromResult(res, pair), nil
}

// GetOrder fetches the venue's current view of an order.
func (l *Live) GetOrder(ctx context.Context, id, pair string) (*order.Order, error) {
	if err := l.limits.Acquire(ctx, ratelimit.ClassPrivate); err != nil {
		return nil, err
	}

	res, err := l.client.QueryOrder(ctx, id, pair)
	if err != nil {
		if errors.Is(err, venue.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return fromResult(res, pair), nil
}

// CancelOrder cancels an open order at the venue.
func (l *Live) CancelOrder(ctx context.Context, id, pair string) (bool, error) {
	if err := l.limits.Acquire(ctx, ratelimit.ClassOrders); err != nil {
		return false, err
	}
	return l.client.CancelOrder(ctx, id, pair)
}

// fromResult converts the venue's order view into the domain order.
func fromResult(res venue.OrderResult, pair string) *order.Order {
	o := &order.Order{
		ID:        res.OrderID,
		Pair:      pair,
		Side:      order.Side(res.Side),
		Type:      order.Type(res.Type),
		Status:    fromStatus(res.Status),
		Price:     res.Price,
		Quantity:  res.Qty,
		Filled:    res.Filled,
		Average:   res.Avg,
		Fee:       res.Fee,
		CreatedAt: res.Created,
		UpdatedAt: time.Now(),
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = o.UpdatedAt
	}
	if o.Status == order.StatusClosed && o.FilledAt == nil {
		now := o.UpdatedAt
		o.FilledAt = &now
	}
	return o
}

func fromStatus(s venue.Status) order.Status {
	switch s {
	case venue.StatusOpen:
		return order.StatusOpen
	case venue.StatusClosed:
		return order.StatusClosed
	case venue.StatusCanceled:
		return order.StatusCanceled
	case venue.StatusExpired:
		return order.StatusExpired
	default:
		return order.StatusOpen
	}
}
