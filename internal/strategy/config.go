// internal/strategy/config.go
package strategy

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Config holds the exit thresholds. It is immutable for the life of an Engine.
type Config struct {
	// PartialSellTarget is the multiplier at which the partial sell fires.
	PartialSellTarget decimal.Decimal
	// PartialSellPercent is the share of the holding sold at the target.
	PartialSellPercent decimal.Decimal
	// TrailingStopBase is the stop multiplier armed by the partial sell.
	TrailingStopBase decimal.Decimal
	// StopLossFraction is the tolerated drawdown from entry before any partial
	// sell; 0.5 puts the floor at 0.5x.
	StopLossFraction decimal.Decimal
	// RatchetFactor is the share of the current multiplier the stop trails at.
	RatchetFactor decimal.Decimal
	// RatchetPeakGate limits ratcheting to readings above this share of the peak.
	RatchetPeakGate decimal.Decimal
}

// DefaultConfig returns the stock 6x / 66% / 2x / 50% strategy.
func DefaultConfig() Config {
	return Config{
		PartialSellTarget:  decimal.NewFromInt(6),
		PartialSellPercent: decimal.NewFromInt(66),
		TrailingStopBase:   decimal.NewFromInt(2),
		StopLossFraction:   decimal.RequireFromString("0.5"),
		RatchetFactor:      decimal.RequireFromString("0.5"),
		RatchetPeakGate:    decimal.RequireFromString("0.9"),
	}
}

// Validate rejects thresholds that would make the state machine meaningless.
func (c Config) Validate() error {
	if c.PartialSellTarget.LessThanOrEqual(one) {
		return errors.New("partial sell target must be above 1x")
	}
	if !c.PartialSellPercent.IsPositive() || c.PartialSellPercent.GreaterThanOrEqual(hundred) {
		return errors.New("partial sell percent must be between 0 and 100")
	}
	if !c.TrailingStopBase.IsPositive() {
		return errors.New("trailing stop base must be positive")
	}
	if !c.StopLossFraction.IsPositive() || c.StopLossFraction.GreaterThanOrEqual(one) {
		return errors.New("stop loss fraction must be between 0 and 1")
	}
	if !c.RatchetFactor.IsPositive() || c.RatchetFactor.GreaterThan(one) {
		return errors.New("ratchet factor must be in (0, 1]")
	}
	if c.RatchetPeakGate.IsNegative() || c.RatchetPeakGate.GreaterThan(one) {
		return errors.New("ratchet peak gate must be in [0, 1]")
	}
	return nil
}

// StopLossMultiplier is the multiplier at or below which the stop-loss fires.
func (c Config) StopLossMultiplier() decimal.Decimal {
	return one.Sub(c.StopLossFraction)
}
