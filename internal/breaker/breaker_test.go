package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errVenue = errors.New("venue unavailable")

func failing(context.Context) error { return errVenue }
func succeeding(context.Context) error { return nil }

func newTestBreaker(recovery time.Duration) *Breaker {
	return New(Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  recovery,
	})
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newTestBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failing); !errors.Is(err, errVenue) {
			t.Fatalf("call %d: got %v, want operation error", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", b.State())
	}

	// Open breaker must reject without invoking the operation.
	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("got %v, want *OpenError", err)
	}
	if invoked {
		t.Error("operation must not run while the breaker is open")
	}
	if openErr.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", openErr.RetryAfter)
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := newTestBreaker(time.Minute)
	ctx := context.Background()

	b.Execute(ctx, failing)
	b.Execute(ctx, failing)
	b.Execute(ctx, succeeding)
	b.Execute(ctx, failing)
	b.Execute(ctx, failing)

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED: success must reset the failure streak", b.State())
	}
}

func TestBreakerLazyRecovery(t *testing.T) {
	b := newTestBreaker(50 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", b.State())
	}

	time.Sleep(60 * time.Millisecond)

	// State only moves on the next call attempt.
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN after first probe", b.State())
	}

	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED after %d probe successes", b.State(), 2)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(50 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, failing)
	}
	time.Sleep(60 * time.Millisecond)

	if err := b.Execute(ctx, failing); !errors.Is(err, errVenue) {
		t.Fatalf("probe: got %v, want operation error", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN after failed probe", b.State())
	}
}

func TestBreakerHalfOpenProbeCap(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
	})
	ctx := context.Background()

	b.Execute(ctx, failing)
	time.Sleep(30 * time.Millisecond)

	// Hold one recovery probe in flight.
	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Execute(ctx, func(context.Context) error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()
	<-probeStarted

	// While the probe is in flight, further calls must be rejected without
	// running the operation.
	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("got %v, want *OpenError while a probe is in flight", err)
	}
	if invoked {
		t.Error("operation must not run past the probe cap")
	}

	close(probeRelease)
	if err := <-probeDone; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED after the probe succeeds", b.State())
	}
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("call after recovery: %v", err)
	}
}

func TestBreakerReset(t *testing.T) {
	b := newTestBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, failing)
	}
	b.Reset()

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED after reset", b.State())
	}
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}

func TestBreakerStats(t *testing.T) {
	b := newTestBreaker(time.Minute)
	ctx := context.Background()

	b.Execute(ctx, succeeding)
	b.Execute(ctx, succeeding)
	b.Execute(ctx, succeeding)
	b.Execute(ctx, failing)

	s := b.Stats()
	if s.State != "CLOSED" {
		t.Errorf("state = %s, want CLOSED", s.State)
	}
	if s.TotalSuccesses != 3 || s.TotalFailures != 1 {
		t.Errorf("totals = %d/%d, want 3/1", s.TotalSuccesses, s.TotalFailures)
	}
	if s.SuccessRate != 75 {
		t.Errorf("success rate = %.1f, want 75", s.SuccessRate)
	}
}
