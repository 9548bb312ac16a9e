package breaker

import (
	"fmt"
	"sync"
	"time"
)

// DrawdownError is returned by CheckBalance when account losses exceed the
// configured limits.
type DrawdownError struct {
	Loss           float64
	LossPercent    float64
	MaxLossPercent float64
	MaxLossAbs     float64
}

func (e *DrawdownError) Error() string {
	return fmt.Sprintf("drawdown limit exceeded: loss=%.2f (%.2f%%), limits: %.2f%% / %.2f abs",
		e.Loss, e.LossPercent, e.MaxLossPercent, e.MaxLossAbs)
}

// TradingConfig extends the generic breaker config with drawdown limits.
// A zero MaxLossAbsolute disables the absolute-loss check.
type TradingConfig struct {
	Config
	InitialBalance  float64
	MaxLossPercent  float64
	MaxLossAbsolute float64
}

// TradingBreaker gates trading calls and additionally halts on portfolio
// drawdown: CheckBalance trips the breaker directly when losses since the
// tracked initial balance exceed the configured limits.
type TradingBreaker struct {
	*Breaker

	mu         sync.Mutex
	initial    float64
	maxLossPct float64
	maxLossAbs float64
	lastTrip   time.Time
}

// NewTrading creates a trading breaker.
func NewTrading(cfg TradingConfig) *TradingBreaker {
	if cfg.Name == "" {
		cfg.Name = "trading"
	}
	return &TradingBreaker{
		Breaker:    New(cfg.Config),
		initial:    cfg.InitialBalance,
		maxLossPct: cfg.MaxLossPercent,
		maxLossAbs: cfg.MaxLossAbsolute,
	}
}

// SetInitialBalance updates the balance losses are measured against.
func (t *TradingBreaker) SetInitialBalance(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initial = v
}

// CheckBalance computes the loss since the initial balance and trips the
// breaker when it exceeds the percent or absolute ceiling. Returns a
// *DrawdownError on trip, nil otherwise. A balance trip records the trip time
// and then follows the normal half-open recovery protocol; while the drawdown
// persists the next check simply re-trips.
func (t *TradingBreaker) CheckBalance(current float64) error {
	t.mu.Lock()
	initial := t.initial
	maxPct := t.maxLossPct
	maxAbs := t.maxLossAbs
	t.mu.Unlock()

	if initial <= 0 {
		return nil
	}

	loss := initial - current
	if loss <= 0 {
		return nil
	}
	lossPct := loss / initial * 100

	tripped := (maxPct > 0 && lossPct > maxPct) || (maxAbs > 0 && loss > maxAbs)
	if !tripped {
		return nil
	}

	t.mu.Lock()
	t.lastTrip = time.Now()
	t.mu.Unlock()

	err := &DrawdownError{
		Loss:           loss,
		LossPercent:    lossPct,
		MaxLossPercent: maxPct,
		MaxLossAbs:     maxAbs,
	}
	t.ForceOpen(err.Error())
	return err
}

// LastTrip returns the time of the most recent drawdown trip, zero if none.
func (t *TradingBreaker) LastTrip() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTrip
}
