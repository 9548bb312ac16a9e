package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventOrderPlaced         Event = "order.placed"
	EventOrderFilled         Event = "order.filled"
	EventOrderCancelled      Event = "order.cancelled"
	EventOrderUpdate         Event = "order.update"
	EventOrderRetrying       Event = "order.retrying"
	EventOrderRetryExhausted Event = "order.retry_exhausted"
	EventBreakerTripped      Event = "breaker.tripped"
)

// OrderCancelled is published when the venue cancels an order.
type OrderCancelled struct {
	OrderID   string
	Pair      string
	GridPrice float64
	Reason    string
}

// OrderRetry is published before each retry attempt.
type OrderRetry struct {
	OrderID   string
	Pair      string
	GridPrice float64
	Attempt   int
	Max       int
}

// OrderFailed is published when an order is abandoned, either because it has
// no grid level to retry against or because the retry ceiling was reached.
type OrderFailed struct {
	OrderID   string
	Pair      string
	GridPrice float64
	Attempts  int
	Error     string
}

// BreakerTripped is published when a circuit breaker opens.
type BreakerTripped struct {
	Name        string
	Reason      string
	Loss        float64
	LossPercent float64
}
