package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gridcore/internal/events"
)

// AlertSink delivers an operator-facing alert line.
type AlertSink interface {
	Send(msg string) error
}

// LogSink writes alerts to the process log. The default sink.
type LogSink struct{}

func (LogSink) Send(msg string) error {
	log.Printf("ALERT: %s", msg)
	return nil
}

// Monitor watches the event bus for conditions an operator should know about:
// venue cancellations, abandoned orders and breaker trips. It keeps rolling
// counters for the status API.
type Monitor struct {
	bus   *events.Bus
	sinks []AlertSink

	mu         sync.Mutex
	cancelled  int64
	retries    int64
	exhausted  int64
	trips      int64
	lastAlert  string
	lastAlertT time.Time
}

// Summary is a snapshot of monitor counters.
type Summary struct {
	Cancelled      int64     `json:"cancelled"`
	Retries        int64     `json:"retries"`
	RetryExhausted int64     `json:"retry_exhausted"`
	BreakerTrips   int64     `json:"breaker_trips"`
	LastAlert      string    `json:"last_alert,omitempty"`
	LastAlertAt    time.Time `json:"last_alert_at,omitzero"`
}

// New creates a monitor. With no sinks it alerts via the process log.
func New(bus *events.Bus, sinks ...AlertSink) *Monitor {
	if len(sinks) == 0 {
		sinks = []AlertSink{LogSink{}}
	}
	return &Monitor{bus: bus, sinks: sinks}
}

// Start subscribes to the bus until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.bus.SubscribeFunc(ctx, events.EventOrderCancelled, 64, func(payload any) {
		ev, ok := payload.(events.OrderCancelled)
		if !ok {
			return
		}
		m.count(&m.cancelled)
		log.Printf("monitor: order %s cancelled (%s)", ev.OrderID, ev.Reason)
	})

	m.bus.SubscribeFunc(ctx, events.EventOrderRetrying, 64, func(payload any) {
		ev, ok := payload.(events.OrderRetry)
		if !ok {
			return
		}
		m.count(&m.retries)
		log.Printf("monitor: retrying order %s at %.2f (attempt %d/%d)",
			ev.OrderID, ev.GridPrice, ev.Attempt, ev.Max)
	})

	m.bus.SubscribeFunc(ctx, events.EventOrderRetryExhausted, 64, func(payload any) {
		ev, ok := payload.(events.OrderFailed)
		if !ok {
			return
		}
		m.count(&m.exhausted)
		m.alert(fmt.Sprintf("order %s on %s abandoned after %d attempts: %s",
			ev.OrderID, ev.Pair, ev.Attempts, ev.Error))
	})

	m.bus.SubscribeFunc(ctx, events.EventBreakerTripped, 8, func(payload any) {
		ev, ok := payload.(events.BreakerTripped)
		if !ok {
			return
		}
		m.count(&m.trips)
		m.alert(fmt.Sprintf("breaker %s tripped: %s", ev.Name, ev.Reason))
	})
}

// Summary returns current counters.
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Summary{
		Cancelled:      m.cancelled,
		Retries:        m.retries,
		RetryExhausted: m.exhausted,
		BreakerTrips:   m.trips,
		LastAlert:      m.lastAlert,
		LastAlertAt:    m.lastAlertT,
	}
}

func (m *Monitor) count(c *int64) {
	m.mu.Lock()
	*c++
	m.mu.Unlock()
}

func (m *Monitor) alert(msg string) {
	m.mu.Lock()
	m.lastAlert = msg
	m.lastAlertT = time.Now()
	m.mu.Unlock()

	for _, s := range m.sinks {
		if err := s.Send(msg); err != nil {
			log.Printf("monitor: alert delivery failed: %v", err)
		}
	}
}
