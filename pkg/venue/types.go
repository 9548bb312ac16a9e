package venue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the order status a venue reports.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
	StatusUnknown  Status = "unknown"
)

// OrderRequest describes an order to be submitted.
type OrderRequest struct {
	Pair     string
	Side     string // buy/sell
	Type     string // market/limit
	Qty      float64
	Price    float64
	ClientID string
}

// OrderResult is the venue's view of an order.
type OrderResult struct {
	OrderID string
	Status  Status
	Pair    string
	Side    string
	Type    string
	Price   float64
	Qty     float64
	Filled  float64
	Avg     float64
	Fee     float64
	Created time.Time
}

// ErrOrderNotFound is returned when the venue does not know the order id.
var ErrOrderNotFound = errors.New("venue: order not found")

// Error codes for venue-level rejections.
const (
	CodeRejected          = "rejected"
	CodeInsufficientFunds = "insufficient_funds"
	CodeInvalidPair       = "invalid_pair"
)

// Error is a typed venue-level failure; rejections are never silently
// swallowed.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("venue: %s: %s", e.Code, e.Message)
}

// IsRejection reports whether err is a venue rejection with the given code.
func IsRejection(err error, code string) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// Client abstracts a trading venue.
type Client interface {
	AddOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	QueryOrder(ctx context.Context, id, pair string) (OrderResult, error)
	CancelOrder(ctx context.Context, id, pair string) (bool, error)
}
