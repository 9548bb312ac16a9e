package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTradingBreaker(initial, maxPct, maxAbs float64) *TradingBreaker {
	return NewTrading(TradingConfig{
		Config: Config{
			Name:             "trading-test",
			FailureThreshold: 3,
			SuccessThreshold: 1,
			RecoveryTimeout:  50 * time.Millisecond,
		},
		InitialBalance:  initial,
		MaxLossPercent:  maxPct,
		MaxLossAbsolute: maxAbs,
	})
}

func TestCheckBalanceTripsOnPercentLoss(t *testing.T) {
	tb := newTradingBreaker(1000, 10, 0)

	// 10.5% loss exceeds the 10% ceiling.
	err := tb.CheckBalance(895)
	var dd *DrawdownError
	if !errors.As(err, &dd) {
		t.Fatalf("got %v, want *DrawdownError", err)
	}
	if dd.Loss != 105 {
		t.Errorf("loss = %.2f, want 105", dd.Loss)
	}
	if dd.LossPercent != 10.5 {
		t.Errorf("loss pct = %.2f, want 10.5", dd.LossPercent)
	}
	if tb.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN after drawdown trip", tb.State())
	}
	if tb.LastTrip().IsZero() {
		t.Error("LastTrip should be recorded")
	}
}

func TestCheckBalanceWithinLimit(t *testing.T) {
	tb := newTradingBreaker(1000, 10, 0)

	tests := []struct {
		name    string
		balance float64
	}{
		{"small loss", 910},
		{"exactly at limit", 900}, // 10% is not over 10%
		{"no loss", 1000},
		{"profit", 1100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tb.CheckBalance(tt.balance); err != nil {
				t.Fatalf("CheckBalance(%v) = %v, want nil", tt.balance, err)
			}
			if tb.State() != StateClosed {
				t.Fatalf("state = %v, want CLOSED", tb.State())
			}
		})
	}
}

func TestCheckBalanceAbsoluteLimit(t *testing.T) {
	tb := newTradingBreaker(10000, 0, 200)

	if err := tb.CheckBalance(9850); err != nil {
		t.Fatalf("loss 150 under 200 abs limit: %v", err)
	}
	if err := tb.CheckBalance(9750); err == nil {
		t.Fatal("loss 250 over 200 abs limit should trip")
	}
	if tb.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", tb.State())
	}
}

func TestDrawdownRecoveryProtocol(t *testing.T) {
	tb := newTradingBreaker(1000, 10, 0)
	ctx := context.Background()

	tb.CheckBalance(850)
	if tb.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", tb.State())
	}

	// A trading trip follows the normal half-open recovery path.
	time.Sleep(60 * time.Millisecond)
	if err := tb.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe after recovery timeout: %v", err)
	}
	if tb.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED after successful probe", tb.State())
	}

	// While the drawdown persists, the next balance check simply re-trips.
	if err := tb.CheckBalance(850); err == nil {
		t.Fatal("persistent drawdown should re-trip")
	}
	if tb.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN after re-trip", tb.State())
	}
}

func TestSetInitialBalance(t *testing.T) {
	tb := newTradingBreaker(1000, 10, 0)
	tb.SetInitialBalance(2000)

	// 895 against 2000 is a 55% loss.
	if err := tb.CheckBalance(895); err == nil {
		t.Fatal("expected trip against the updated initial balance")
	}
}

func TestCheckBalanceDisabledWithoutInitial(t *testing.T) {
	tb := newTradingBreaker(0, 10, 0)
	if err := tb.CheckBalance(1); err != nil {
		t.Fatalf("zero initial balance disables the check, got %v", err)
	}
}
