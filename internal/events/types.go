// internal/events/types.go
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType represents the type of event.
type EventType string

const (
	// Position lifecycle events
	PositionOpened  EventType = "position.opened"
	PositionClosed  EventType = "position.closed"
	PositionDropped EventType = "position.dropped"
	BaselineSet     EventType = "position.baseline"

	// Price events
	PriceUpdated     EventType = "price.updated"
	PriceUnavailable EventType = "price.unavailable"

	// Exit trigger events
	TriggerAttempted EventType = "trigger.attempted"
	TriggerSucceeded EventType = "trigger.succeeded"
	TriggerFailed    EventType = "trigger.failed"
	StopRatcheted    EventType = "stop.ratcheted"

	// Entry events
	EntrySkipped EventType = "entry.skipped"
	EntryFailed  EventType = "entry.failed"

	InvariantViolated EventType = "invariant.violated"
)

// All subscribes a handler to every event type.
const All EventType = "*"

// Trigger names the exit rule that produced a sell.
type Trigger string

const (
	TriggerPartialProfit Trigger = "partial_profit"
	TriggerTrailingStop  Trigger = "trailing_stop"
	TriggerStopLoss      Trigger = "stop_loss"
	TriggerManual        Trigger = "manual"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps an event of the given type with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now()}
}

// PositionOpenedEvent is emitted after a confirmed buy created a position.
type PositionOpenedEvent struct {
	BaseEvent
	TokenID       string
	Name          string
	Symbol        string
	Platform      string
	EntryNotional decimal.Decimal
	EntryPrice    decimal.Decimal
	Signature     string
}

// PositionClosedEvent is emitted when a full sell removed a position.
type PositionClosedEvent struct {
	BaseEvent
	TokenID           string
	Symbol            string
	Trigger           Trigger
	Multiplier        decimal.Decimal
	HighestMultiplier decimal.Decimal
	Signature         string
	HoldTime          time.Duration
}

// PositionDroppedEvent is emitted when a position is removed without a sell.
type PositionDroppedEvent struct {
	BaseEvent
	TokenID string
	Reason  string
}

// BaselineSetEvent is emitted when the first price reading backfills the entry price.
type BaselineSetEvent struct {
	BaseEvent
	TokenID    string
	EntryPrice decimal.Decimal
}

// PriceUpdatedEvent is emitted for every accepted price reading.
type PriceUpdatedEvent struct {
	BaseEvent
	TokenID           string
	Price             decimal.Decimal
	Multiplier        decimal.Decimal
	HighestMultiplier decimal.Decimal
	TrailingStop      decimal.Decimal
	PartialSold       bool
}

// PriceUnavailableEvent is emitted when no usable reading could be obtained.
type PriceUnavailableEvent struct {
	BaseEvent
	TokenID string
	Reason  string
}

// TriggerAttemptedEvent is emitted right before a sell is issued.
type TriggerAttemptedEvent struct {
	BaseEvent
	TokenID    string
	Trigger    Trigger
	Percent    decimal.Decimal
	Multiplier decimal.Decimal
}

// TriggerSucceededEvent is emitted after a confirmed sell.
type TriggerSucceededEvent struct {
	BaseEvent
	TokenID          string
	Symbol           string
	Trigger          Trigger
	Percent          decimal.Decimal
	Multiplier       decimal.Decimal
	EntryNotional    decimal.Decimal
	EntryPrice       decimal.Decimal
	ExitPrice        decimal.Decimal
	SoldNotional     decimal.Decimal
	RemainingPercent decimal.Decimal
	Signature        string
	HoldTime         time.Duration
}

// TriggerFailedEvent is emitted when a sell failed; the position is unchanged.
type TriggerFailedEvent struct {
	BaseEvent
	TokenID    string
	Trigger    Trigger
	Percent    decimal.Decimal
	Multiplier decimal.Decimal
	Reason     string
}

// StopRatchetedEvent is emitted when the trailing stop moves up.
type StopRatchetedEvent struct {
	BaseEvent
	TokenID    string
	From       decimal.Decimal
	To         decimal.Decimal
	Multiplier decimal.Decimal
}

// EntrySkippedEvent is emitted when a new token does not pass the filters.
type EntrySkippedEvent struct {
	BaseEvent
	TokenID string
	Name    string
	Reason  string
}

// EntryFailedEvent is emitted when the buy or the position registration failed.
type EntryFailedEvent struct {
	BaseEvent
	TokenID string
	Name    string
	Reason  string
}

// InvariantViolatedEvent signals a programming or race error, such as a
// second position for the same token.
type InvariantViolatedEvent struct {
	BaseEvent
	TokenID string
	Detail  string
}
