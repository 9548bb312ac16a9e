package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"
)

// Limiter admits at most max calls within any trailing window. Callers block
// cooperatively in Acquire until a slot frees up; an admission gate sized to
// max bounds how many callers can be mid-acquisition at once.
type Limiter struct {
	max    int
	window time.Duration

	mu    sync.Mutex
	calls []time.Time
	gate  chan struct{}
}

// Stats is a point-in-time view of limiter usage.
type Stats struct {
	Limit       int           `json:"limit"`
	Window      time.Duration `json:"window"`
	Used        int           `json:"used"`
	Remaining   int           `json:"remaining"`
	Utilization float64       `json:"utilization_pct"`
}

// NewLimiter creates a sliding-window limiter admitting max calls per window.
func NewLimiter(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		max:    max,
		window: window,
		gate:   make(chan struct{}, max),
	}
}

// Acquire blocks until a call slot is available or ctx is done. The label is
// used for logging only.
func (l *Limiter) Acquire(ctx context.Context, label string) error {
	select {
	case l.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.gate }()

	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)

		if len(l.calls) < l.max {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}

		// Window full: wait until the oldest call ages out.
		sleep := l.calls[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if sleep <= 0 {
			continue
		}
		log.Printf("ratelimit: %s window full, waiting %v", label, sleep.Round(time.Millisecond))

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// prune drops call timestamps older than the window. Must hold mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// Stats returns the configured ceiling and recent usage.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())

	used := len(l.calls)
	return Stats{
		Limit:       l.max,
		Window:      l.window,
		Used:        used,
		Remaining:   l.max - used,
		Utilization: float64(used) / float64(l.max) * 100,
	}
}
