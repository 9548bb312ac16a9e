package validator

import (
	"errors"
	"fmt"
	"math"
)

// Validation failures callers can branch on with errors.Is.
var (
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrInvalidPrice        = errors.New("price must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientAsset   = errors.New("insufficient asset quantity")
	ErrOrderTooSmall       = errors.New("order value below minimum")
)

// Config holds sizing limits.
type Config struct {
	Tolerance              float64 // fractional slack when comparing against balance
	MaxPositionSizePercent float64 // max order value as percent of portfolio value
	MinOrderValue          float64 // smallest order value the venue accepts
	MinBalancePerPair      float64 // minimum viable balance to run one pair
}

// DefaultConfig returns conservative sizing defaults.
func DefaultConfig() Config {
	return Config{
		Tolerance:              0.001,
		MaxPositionSizePercent: 20,
		MinOrderValue:          10,
		MinBalancePerPair:      100,
	}
}

// Validator performs pre-submission order sizing checks. Stateless and safe
// for concurrent use.
type Validator struct {
	cfg Config
}

// New creates a validator.
func New(cfg Config) *Validator {
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	return &Validator{cfg: cfg}
}

// AdjustAndValidateBuyQuantity sizes a buy order from the balance reserved
// for it. The balance argument is the quote amount allocated to this order
// (the grid-level reservation); the returned quantity spends it at the given
// price. It fails when the requested quantity is non-positive or its value
// exceeds the reservation beyond the tolerance. When portfolioValue is
// supplied, the order value is capped at MaxPositionSizePercent of it; an
// order shrunk below MinOrderValue is rejected rather than submitted as dust.
func (v *Validator) AdjustAndValidateBuyQuantity(balance, quantity, price, portfolioValue float64) (float64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidQuantity, quantity)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidPrice, price)
	}

	required := quantity * price
	if required > balance*(1+v.cfg.Tolerance) {
		return 0, fmt.Errorf("%w: order value %.2f exceeds reserved balance %.2f",
			ErrInsufficientBalance, required, balance)
	}

	// Spend the reservation: the grid layer reserved exactly the amount this
	// order should use.
	adjusted := balance / price

	return v.applyPositionLimit(adjusted, price, portfolioValue)
}

// AdjustAndValidateSellQuantity clamps a sell to the held asset quantity and
// applies the same position-sizing cap to the resulting order value.
func (v *Validator) AdjustAndValidateSellQuantity(available, quantity, price, portfolioValue float64) (float64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidQuantity, quantity)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidPrice, price)
	}
	if quantity > available*(1+v.cfg.Tolerance) {
		return 0, fmt.Errorf("%w: requested %.8f, held %.8f",
			ErrInsufficientAsset, quantity, available)
	}

	adjusted := math.Min(quantity, available)

	return v.applyPositionLimit(adjusted, price, portfolioValue)
}

// applyPositionLimit shrinks the quantity so the order value fits within
// MaxPositionSizePercent of the portfolio, and rejects dust orders.
func (v *Validator) applyPositionLimit(quantity, price, portfolioValue float64) (float64, error) {
	if portfolioValue <= 0 || v.cfg.MaxPositionSizePercent <= 0 {
		return quantity, nil
	}

	maxValue := portfolioValue * v.cfg.MaxPositionSizePercent / 100
	if quantity*price > maxValue {
		quantity = maxValue / price
		if quantity*price < v.cfg.MinOrderValue {
			return 0, fmt.Errorf("%w: %.2f < %.2f after position-size cap (%.1f%% of %.2f)",
				ErrOrderTooSmall, quantity*price, v.cfg.MinOrderValue,
				v.cfg.MaxPositionSizePercent, portfolioValue)
		}
	}
	return quantity, nil
}

// AllocationResult is a planning answer, not an execution-path validation.
type AllocationResult struct {
	OK      bool
	Message string
}

// ValidatePortfolioAllocation answers whether totalBalance can support
// numPairs at minBalancePerPair each. minBalancePerPair of zero falls back to
// the configured minimum.
func (v *Validator) ValidatePortfolioAllocation(numPairs int, totalBalance, minBalancePerPair float64) AllocationResult {
	if numPairs <= 0 {
		return AllocationResult{OK: false, Message: "number of pairs must be positive"}
	}
	if minBalancePerPair <= 0 {
		minBalancePerPair = v.cfg.MinBalancePerPair
	}

	required := float64(numPairs) * minBalancePerPair
	if totalBalance < required {
		return AllocationResult{
			OK: false,
			Message: fmt.Sprintf("balance %.2f supports at most %d pairs at %.2f each, requested %d (need %.2f)",
				totalBalance, int(totalBalance/minBalancePerPair), minBalancePerPair, numPairs, required),
		}
	}
	return AllocationResult{
		OK: true,
		Message: fmt.Sprintf("balance %.2f supports %d pairs at %.2f each (%.2f headroom)",
			totalBalance, numPairs, minBalancePerPair, totalBalance-required),
	}
}

// RecommendedGridCount suggests how many grid levels per side the balance can
// afford given the minimum order value, halved between buy-side and sell-side
// levels, bounded to [2, 10].
func (v *Validator) RecommendedGridCount(balancePerPair float64) int {
	if balancePerPair <= 0 || v.cfg.MinOrderValue <= 0 {
		return 2
	}
	count := int(balancePerPair / v.cfg.MinOrderValue / 2)
	if count < 2 {
		return 2
	}
	if count > 10 {
		return 10
	}
	return count
}
