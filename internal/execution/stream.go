package execution

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"gridcore/internal/events"
)

const (
	streamBaseDelay = 1 * time.Second
	streamMaxDelay  = 60 * time.Second
)

// OrderUpdate is the wire shape of a venue order-status push.
type OrderUpdate struct {
	OrderID string  `json:"order_id"`
	Pair    string  `json:"pair"`
	Status  string  `json:"status"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
	Filled  float64 `json:"filled"`
	Avg     float64 `json:"avg_price"`
	Fee     float64 `json:"fee"`
	Reason  string  `json:"reason,omitempty"`
}

// Stream consumes venue order-status pushes over a websocket and republishes
// them on the event bus. Cancellations published here are what drive the
// retry manager.
type Stream struct {
	url    string
	bus    *events.Bus
	dialer *websocket.Dialer
}

// NewStream creates a stream consumer for the given websocket URL.
func NewStream(url string, bus *events.Bus) *Stream {
	return &Stream{
		url:    url,
		bus:    bus,
		dialer: websocket.DefaultDialer,
	}
}

// Run connects and reads until ctx is done, reconnecting with exponential
// backoff on errors. It logs errors but does not return them.
func (s *Stream) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			delay := streamBackoff(attempt)
			attempt++
			log.Printf("stream: dial %s failed: %v (retry in %v)", s.url, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		attempt = 0
		log.Printf("stream: connected to %s", s.url)

		s.readLoop(ctx, conn)
		conn.Close()
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("stream: read error: %v", err)
			}
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Stream) handleMessage(msg []byte) {
	var upd OrderUpdate
	if err := json.Unmarshal(msg, &upd); err != nil {
		log.Printf("stream: parse error: %v", err)
		return
	}
	if upd.OrderID == "" {
		return
	}

	switch upd.Status {
	case "canceled", "cancelled":
		s.bus.Publish(events.EventOrderCancelled, events.OrderCancelled{
			OrderID: upd.OrderID,
			Pair:    upd.Pair,
			Reason:  upd.Reason,
		})
	case "closed", "filled":
		s.bus.Publish(events.EventOrderFilled, upd)
	default:
		s.bus.Publish(events.EventOrderUpdate, upd)
	}
}

// streamBackoff returns the reconnect delay for a given attempt count:
// baseDelay * 2^attempt, capped at maxDelay.
func streamBackoff(attempt int) time.Duration {
	if attempt < 0 {
		return streamBaseDelay
	}
	if attempt > 30 {
		return streamMaxDelay
	}
	d := streamBaseDelay * time.Duration(1<<attempt)
	if d > streamMaxDelay {
		return streamMaxDelay
	}
	return d
}
