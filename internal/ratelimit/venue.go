package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Class groups venue endpoints by rate ceiling.
type Class string

const (
	ClassPublic  Class = "public"  // unauthenticated market data
	ClassPrivate Class = "private" // account endpoints
	ClassOrders  Class = "orders"  // order placement/cancellation
)

// Ceiling is a call budget: at most Calls per Window.
type Ceiling struct {
	Calls  int
	Window time.Duration
}

// VenueLimits holds one ceiling per endpoint class.
type VenueLimits struct {
	Public  Ceiling
	Private Ceiling
	Orders  Ceiling
}

// DefaultLimits returns the built-in ceilings for known venues. Unknown
// venues get a conservative default.
func DefaultLimits(venue string) VenueLimits {
	switch venue {
	case "kraken":
		return VenueLimits{
			Public:  Ceiling{Calls: 1, Window: time.Second},
			Private: Ceiling{Calls: 15, Window: 3 * time.Second},
			Orders:  Ceiling{Calls: 10, Window: time.Second},
		}
	case "binance":
		return VenueLimits{
			Public:  Ceiling{Calls: 20, Window: time.Second},
			Private: Ceiling{Calls: 10, Window: time.Second},
			Orders:  Ceiling{Calls: 10, Window: time.Second},
		}
	default:
		log.Printf("ratelimit: unknown venue %q, using conservative defaults", venue)
		return VenueLimits{
			Public:  Ceiling{Calls: 10, Window: time.Second},
			Private: Ceiling{Calls: 5, Window: time.Second},
			Orders:  Ceiling{Calls: 5, Window: time.Second},
		}
	}
}

// VenueLimiter throttles outbound venue calls per endpoint class.
type VenueLimiter struct {
	venue    string
	limiters map[Class]*Limiter
}

// NewVenueLimiter creates a limiter with the built-in ceilings for venue.
func NewVenueLimiter(venue string) *VenueLimiter {
	return NewVenueLimiterWithLimits(venue, DefaultLimits(venue))
}

// NewVenueLimiterWithLimits creates a limiter with explicit ceilings.
func NewVenueLimiterWithLimits(venue string, lim VenueLimits) *VenueLimiter {
	return &VenueLimiter{
		venue: venue,
		limiters: map[Class]*Limiter{
			ClassPublic:  NewLimiter(lim.Public.Calls, lim.Public.Window),
			ClassPrivate: NewLimiter(lim.Private.Calls, lim.Private.Window),
			ClassOrders:  NewLimiter(lim.Orders.Calls, lim.Orders.Window),
		},
	}
}

// Acquire blocks until the class ceiling admits another call.
func (v *VenueLimiter) Acquire(ctx context.Context, class Class) error {
	l, ok := v.limiters[class]
	if !ok {
		return fmt.Errorf("ratelimit: unknown endpoint class %q", class)
	}
	return l.Acquire(ctx, v.venue+"/"+string(class))
}

// Stats returns usage per endpoint class, for observability.
func (v *VenueLimiter) Stats() map[Class]Stats {
	out := make(map[Class]Stats, len(v.limiters))
	for class, l := range v.limiters {
		out[class] = l.Stats()
	}
	return out
}

// Venue returns the venue name the limiter was built for.
func (v *VenueLimiter) Venue() string {
	return v.venue
}
