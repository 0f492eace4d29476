// internal/trade/types.go
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the trade direction.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Reason classifies why a trade failed.
type Reason string

const (
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonRejected       Reason = "rejected"
	ReasonTransport      Reason = "transport"
	ReasonDecode         Reason = "decode"
	ReasonSign           Reason = "sign"
	ReasonSend           Reason = "send"
	ReasonConfirm        Reason = "confirm"
	ReasonTimeout        Reason = "timeout"
	ReasonPanic          Reason = "panic"
)

// Fill is a confirmed trade.
type Fill struct {
	TokenID   string
	Action    Action
	Amount    decimal.Decimal
	Signature string
	Duration  time.Duration
}

// Error is the typed failure returned by executors.
type Error struct {
	Action  Action
	TokenID string
	Reason  Reason
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed (%s): %v", e.Action, e.TokenID, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the failure reason of err, classifying bare context
// errors as timeouts.
func ReasonOf(err error) Reason {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonTimeout
	}
	return ReasonTransport
}

// Executor buys and sells tokens. A failed call leaves no partial trade behind
// that the caller has to account for.
type Executor interface {
	// Buy spends notional SOL on the token.
	Buy(ctx context.Context, tokenID string, notional decimal.Decimal) (Fill, error)
	// Sell sells percent (0-100] of the current holding.
	Sell(ctx context.Context, tokenID string, percent decimal.Decimal) (Fill, error)
}
