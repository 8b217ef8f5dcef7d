package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ErrPriceUnavailable reports that no quote could be obtained for a symbol.
// Callers skip the symbol; a missing price is never treated as zero.
var ErrPriceUnavailable = errors.New("price unavailable")

// RejectCodeTransport marks a submission that failed before the broker could
// give a business answer (connection error, timeout, non-2xx).
const RejectCodeTransport = "TRANSPORT"

// Position is one aggregated holding as reported by the broker.
type Position struct {
	Symbol    string
	Name      string
	Shares    decimal.Decimal
	AvgPrice  decimal.Decimal
	LastPrice decimal.Decimal
	Value     decimal.Decimal
	Exchange  string
}

// Order is a single limit order at a reference price. Quantity is decimal
// because sells of fractional balances are legal.
type Order struct {
	Symbol    string
	Side      Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Exchange  string // venue hint, resolved by the gateway when empty
	ClientKey string // journal correlation key, never sent upstream
}

// Value is quantity × reference price.
func (o Order) Value() decimal.Decimal {
	return o.Quantity.Mul(o.Price)
}

// OrderAck is an accepted submission. ExecutedPrice is the reference price the
// order was placed at; KIS acks carry no fill price.
type OrderAck struct {
	OrderID       string
	ExecutedPrice decimal.Decimal
}

// OrderReject is a submission the broker (or the transport) turned down.
type OrderReject struct {
	Code    string
	Message string
}

// OrderOutcome reports a submission attempt. Exactly one of Ack and Reject is
// set; submissions never surface as errors and are never retried internally.
type OrderOutcome struct {
	Ack    *OrderAck
	Reject *OrderReject
}

// Filled reports whether the submission was accepted.
func (o OrderOutcome) Filled() bool { return o.Ack != nil }

// TransportError wraps a failed read-path call. Retryable errors (connection
// resets, timeouts, 5xx) may be re-attempted by WithRetry; business rejections
// are not.
type TransportError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport failure worth re-attempting.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// Gateway is the broker connection used by reconciliation and execution.
type Gateway interface {
	// Authenticate establishes (or refreshes) the API session.
	Authenticate(ctx context.Context) error
	// FetchPositions returns current holdings aggregated across venues.
	FetchPositions(ctx context.Context) ([]Position, error)
	// FetchCash returns the settled base-currency balance.
	FetchCash(ctx context.Context) (decimal.Decimal, error)
	// GetPrice returns the current price, or ErrPriceUnavailable.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// SubmitOrder places one order and reports the structured outcome.
	SubmitOrder(ctx context.Context, order Order) (OrderOutcome, error)
}
