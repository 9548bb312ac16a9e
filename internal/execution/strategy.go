package execution

import (
	"context"

	"gridcore/internal/order"
)

// Strategy executes orders against a venue or a simulation. Live and
// Simulated implement the same contract so callers are mode-agnostic; the
// implementation is chosen once at startup and injected everywhere.
type Strategy interface {
	ExecuteMarketOrder(ctx context.Context, side order.Side, pair string, qty, price float64) (*order.Order, error)
	ExecuteLimitOrder(ctx context.Context, side order.Side, pair string, qty, price float64) (*order.Order, error)
	GetOrder(ctx context.Context, id, pair string) (*order.Order, error)
	CancelOrder(ctx context.Context, id, pair string) (bool, error)
}
