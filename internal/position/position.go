// internal/position/position.go
package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a position.
type Status string

const (
	StatusHolding Status = "holding"
	StatusClosed  Status = "closed"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Position is one token held by the bot. Values are copied in and out of the
// Store, so a Position obtained from it is a snapshot.
type Position struct {
	TokenID     string
	DisplayName string
	Symbol      string
	Platform    string

	// EntryNotional is the SOL spent on the buy.
	EntryNotional decimal.Decimal
	// EntryPrice is zero until the first price reading backfills it.
	EntryPrice decimal.Decimal
	LastPrice  decimal.Decimal

	CurrentMultiplier decimal.Decimal
	HighestMultiplier decimal.Decimal

	PartialSold            bool
	PartialSoldAt          decimal.Decimal
	RemainingPercent       decimal.Decimal
	TrailingStopMultiplier decimal.Decimal

	Status               Status
	BuySignature         string
	PartialSellSignature string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Opening describes a confirmed buy from which a position is created.
type Opening struct {
	TokenID       string
	DisplayName   string
	Symbol        string
	Platform      string
	EntryNotional decimal.Decimal
	// EntryPrice may be zero when no price was known at buy time.
	EntryPrice   decimal.Decimal
	BuySignature string
}

// HasEntryPrice reports whether the baseline price is known.
func (p Position) HasEntryPrice() bool {
	return p.EntryPrice.IsPositive()
}

// IsOpen reports whether the position is still held.
func (p Position) IsOpen() bool {
	return p.Status == StatusHolding
}

// RemainingNotional is the entry notional still exposed after partial sells.
func (p Position) RemainingNotional() decimal.Decimal {
	return p.EntryNotional.Mul(p.RemainingPercent).Div(hundred)
}

// UnrealizedPnL values the remaining holding at the current multiplier.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.RemainingNotional().Mul(p.CurrentMultiplier.Sub(one))
}

// HoldTime is the time elapsed since the buy.
func (p Position) HoldTime(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}
