// internal/strategy/engine.go
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/trade"
)

// DefaultTradeTimeout bounds a single sell when no timeout is configured.
const DefaultTradeTimeout = 60 * time.Second

// Seller is the part of the trade executor the engine needs.
type Seller interface {
	Sell(ctx context.Context, tokenID string, percent decimal.Decimal) (trade.Fill, error)
}

// Action is what an evaluation did to a position.
type Action string

const (
	ActionNone       Action = "none"
	ActionSkipped    Action = "skipped"
	ActionBaseline   Action = "baseline"
	ActionRatcheted  Action = "ratcheted"
	ActionSold       Action = "sold"
	ActionSellFailed Action = "sell_failed"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Action Action
	// Trigger is set when a sell was attempted.
	Trigger events.Trigger
	Fill    trade.Fill
	SellErr error
	// Position is the state after the evaluation.
	Position position.Position
	Closed   bool
}

// Options are the engine's collaborators.
type Options struct {
	Store        *position.Store
	Seller       Seller
	Emitter      events.Emitter
	Logger       *zap.Logger
	TradeTimeout time.Duration
}

// Engine applies the exit strategy to price readings. Every mutation of a
// position happens under the store's per-token lock, and the fields a sell
// trigger changes are committed only after the sell's outcome is known.
type Engine struct {
	cfg          Config
	store        *position.Store
	seller       Seller
	emitter      events.Emitter
	logger       *zap.Logger
	tradeTimeout time.Duration
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil || opts.Seller == nil {
		return nil, errors.New("store and seller are required")
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Nop
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TradeTimeout <= 0 {
		opts.TradeTimeout = DefaultTradeTimeout
	}
	return &Engine{
		cfg:          cfg,
		store:        opts.Store,
		seller:       opts.Seller,
		emitter:      opts.Emitter,
		logger:       opts.Logger.Named("exit_engine"),
		tradeTimeout: opts.TradeTimeout,
	}, nil
}

// Config returns the engine's thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate feeds one price reading for tokenID through the exit rules. At most
// one sell is issued per call. A failed sell leaves the trigger fields exactly
// as they were so the next reading re-evaluates from the same state.
func (e *Engine) Evaluate(ctx context.Context, tokenID string, price decimal.Decimal) Decision {
	if !price.IsPositive() {
		return Decision{Action: ActionSkipped}
	}

	unlock := e.store.Lock(tokenID)
	defer unlock()

	pos, err := e.store.Get(tokenID)
	if err != nil || !pos.IsOpen() {
		// Closed or removed between the snapshot and now.
		return Decision{Action: ActionSkipped}
	}

	if !pos.HasEntryPrice() {
		return e.setBaseline(pos, price)
	}

	obs := pos
	obs.LastPrice = price
	obs.CurrentMultiplier = price.Div(pos.EntryPrice)
	if obs.CurrentMultiplier.GreaterThan(obs.HighestMultiplier) {
		obs.HighestMultiplier = obs.CurrentMultiplier
	}
	mult := obs.CurrentMultiplier

	e.emitter.Emit(events.PriceUpdatedEvent{
		BaseEvent:         events.NewBase(events.PriceUpdated),
		TokenID:           tokenID,
		Price:             price,
		Multiplier:        mult,
		HighestMultiplier: obs.HighestMultiplier,
		TrailingStop:      obs.TrailingStopMultiplier,
		PartialSold:       obs.PartialSold,
	})

	switch {
	case !obs.PartialSold && mult.GreaterThanOrEqual(e.cfg.PartialSellTarget):
		return e.partialSell(ctx, obs)
	case obs.PartialSold && mult.LessThanOrEqual(obs.TrailingStopMultiplier):
		return e.fullSell(ctx, obs, events.TriggerTrailingStop)
	case obs.PartialSold:
		return e.ratchet(obs)
	case mult.LessThanOrEqual(e.cfg.StopLossMultiplier()):
		return e.fullSell(ctx, obs, events.TriggerStopLoss)
	}

	committed := e.commit(obs)
	return Decision{Action: ActionNone, Position: committed}
}

func (e *Engine) setBaseline(pos position.Position, price decimal.Decimal) Decision {
	next := pos
	next.EntryPrice = price
	next.LastPrice = price
	next.CurrentMultiplier = one
	committed := e.commit(next)

	e.logger.Info("Entry price backfilled",
		zap.String("token", pos.TokenID),
		zap.String("entry_price", price.String()))
	e.emitter.Emit(events.BaselineSetEvent{
		BaseEvent:  events.NewBase(events.BaselineSet),
		TokenID:    pos.TokenID,
		EntryPrice: price,
	})

	return Decision{Action: ActionBaseline, Position: committed}
}

func (e *Engine) partialSell(ctx context.Context, obs position.Position) Decision {
	percent := e.cfg.PartialSellPercent
	e.attempted(obs, events.TriggerPartialProfit, percent)

	fill, err := e.sell(ctx, obs.TokenID, percent)
	if err != nil {
		return e.sellFailed(obs, events.TriggerPartialProfit, percent, err)
	}

	sold := obs.RemainingPercent.Mul(percent).Div(hundred)
	next := obs
	next.PartialSold = true
	next.PartialSoldAt = obs.CurrentMultiplier
	next.RemainingPercent = obs.RemainingPercent.Sub(sold)
	next.TrailingStopMultiplier = e.cfg.TrailingStopBase
	next.PartialSellSignature = fill.Signature
	committed := e.commit(next)

	e.logger.Info("Partial profit taken",
		zap.String("token", obs.TokenID),
		zap.String("multiplier", obs.CurrentMultiplier.StringFixed(2)),
		zap.String("percent", percent.String()),
		zap.String("trailing_stop", next.TrailingStopMultiplier.String()),
		zap.String("signature", fill.Signature))
	e.succeeded(obs, events.TriggerPartialProfit, percent, sold, next.RemainingPercent, fill)

	return Decision{
		Action:   ActionSold,
		Trigger:  events.TriggerPartialProfit,
		Fill:     fill,
		Position: committed,
	}
}

// fullSell sells the whole remaining holding and removes the position.
func (e *Engine) fullSell(ctx context.Context, obs position.Position, trigger events.Trigger) Decision {
	e.attempted(obs, trigger, hundred)

	fill, err := e.sell(ctx, obs.TokenID, hundred)
	if err != nil {
		return e.sellFailed(obs, trigger, hundred, err)
	}

	closed := e.closePosition(obs, trigger, obs.RemainingPercent, fill)

	return Decision{
		Action:   ActionSold,
		Trigger:  trigger,
		Fill:     fill,
		Position: closed,
		Closed:   true,
	}
}

func (e *Engine) ratchet(obs position.Position) Decision {
	current := obs.TrailingStopMultiplier
	gate := obs.HighestMultiplier.Mul(e.cfg.RatchetPeakGate)
	if !obs.CurrentMultiplier.GreaterThan(gate) {
		return Decision{Action: ActionNone, Position: e.commit(obs)}
	}

	candidate := decimal.Max(current, obs.CurrentMultiplier.Mul(e.cfg.RatchetFactor))
	if !candidate.GreaterThan(current) {
		return Decision{Action: ActionNone, Position: e.commit(obs)}
	}

	next := obs
	next.TrailingStopMultiplier = candidate
	committed := e.commit(next)

	e.logger.Info("Trailing stop raised",
		zap.String("token", obs.TokenID),
		zap.String("from", current.String()),
		zap.String("to", candidate.String()),
		zap.String("multiplier", obs.CurrentMultiplier.StringFixed(2)))
	e.emitter.Emit(events.StopRatchetedEvent{
		BaseEvent:  events.NewBase(events.StopRatcheted),
		TokenID:    obs.TokenID,
		From:       current,
		To:         candidate,
		Multiplier: obs.CurrentMultiplier,
	})

	return Decision{Action: ActionRatcheted, Position: committed}
}

// ManualSell sells percent of the holding on request, serialized with the
// monitor's evaluations of the same token. Selling 100 closes the position.
func (e *Engine) ManualSell(ctx context.Context, tokenID string, percent decimal.Decimal) (Decision, error) {
	if !percent.IsPositive() || percent.GreaterThan(hundred) {
		return Decision{}, fmt.Errorf("sell percent must be in (0, 100], got %s", percent)
	}

	unlock := e.store.Lock(tokenID)
	defer unlock()

	pos, err := e.store.Get(tokenID)
	if err != nil {
		return Decision{}, err
	}

	e.attempted(pos, events.TriggerManual, percent)
	fill, err := e.sell(ctx, tokenID, percent)
	if err != nil {
		return e.sellFailed(pos, events.TriggerManual, percent, err), err
	}

	if percent.Equal(hundred) {
		closed := e.closePosition(pos, events.TriggerManual, pos.RemainingPercent, fill)
		return Decision{Action: ActionSold, Trigger: events.TriggerManual, Fill: fill, Position: closed, Closed: true}, nil
	}

	sold := pos.RemainingPercent.Mul(percent).Div(hundred)
	next := pos
	next.RemainingPercent = pos.RemainingPercent.Sub(sold)
	committed := e.commit(next)

	e.logger.Info("Manual sell executed",
		zap.String("token", tokenID),
		zap.String("percent", percent.String()),
		zap.String("remaining_percent", next.RemainingPercent.String()))
	e.succeeded(pos, events.TriggerManual, percent, sold, next.RemainingPercent, fill)

	return Decision{Action: ActionSold, Trigger: events.TriggerManual, Fill: fill, Position: committed}, nil
}

// Drop removes a position without selling, e.g. when its market fell below
// a safety floor and the holding is written off.
func (e *Engine) Drop(tokenID, reason string) error {
	unlock := e.store.Lock(tokenID)
	defer unlock()

	if _, err := e.store.Get(tokenID); err != nil {
		return err
	}
	e.store.Remove(tokenID)

	e.logger.Warn("Position dropped",
		zap.String("token", tokenID),
		zap.String("reason", reason))
	e.emitter.Emit(events.PositionDroppedEvent{
		BaseEvent: events.NewBase(events.PositionDropped),
		TokenID:   tokenID,
		Reason:    reason,
	})
	return nil
}

// sell calls the executor with a bounded timeout. The sell is detached from
// ctx cancellation so a shutdown cannot abandon a transaction that was already
// sent. A panicking executor is reported as a failed sell.
func (e *Engine) sell(ctx context.Context, tokenID string, percent decimal.Decimal) (fill trade.Fill, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.tradeTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &trade.Error{
				Action:  trade.ActionSell,
				TokenID: tokenID,
				Reason:  trade.ReasonPanic,
				Err:     fmt.Errorf("%v", r),
			}
		}
	}()

	return e.seller.Sell(ctx, tokenID, percent)
}

// commit stores next as the position's state.
func (e *Engine) commit(next position.Position) position.Position {
	committed, err := e.store.Update(next.TokenID, func(p *position.Position) error {
		*p = next
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to commit position state",
			zap.String("token", next.TokenID),
			zap.Error(err))
		e.emitter.Emit(events.InvariantViolatedEvent{
			BaseEvent: events.NewBase(events.InvariantViolated),
			TokenID:   next.TokenID,
			Detail:    err.Error(),
		})
		return next
	}
	return committed
}

func (e *Engine) closePosition(pos position.Position, trigger events.Trigger, soldPercent decimal.Decimal, fill trade.Fill) position.Position {
	e.store.Remove(pos.TokenID)

	closed := pos
	closed.Status = position.StatusClosed
	closed.RemainingPercent = decimal.Zero

	e.logger.Info("Position closed",
		zap.String("token", pos.TokenID),
		zap.String("trigger", string(trigger)),
		zap.String("multiplier", pos.CurrentMultiplier.StringFixed(2)),
		zap.String("highest", pos.HighestMultiplier.StringFixed(2)),
		zap.String("signature", fill.Signature))
	e.succeeded(pos, trigger, hundred, soldPercent, decimal.Zero, fill)
	e.emitter.Emit(events.PositionClosedEvent{
		BaseEvent:         events.NewBase(events.PositionClosed),
		TokenID:           pos.TokenID,
		Symbol:            pos.Symbol,
		Trigger:           trigger,
		Multiplier:        pos.CurrentMultiplier,
		HighestMultiplier: pos.HighestMultiplier,
		Signature:         fill.Signature,
		HoldTime:          time.Since(pos.CreatedAt),
	})
	return closed
}

func (e *Engine) sellFailed(obs position.Position, trigger events.Trigger, percent decimal.Decimal, err error) Decision {
	committed := e.commit(obs)

	e.logger.Warn("Sell failed, position kept for next tick",
		zap.String("token", obs.TokenID),
		zap.String("trigger", string(trigger)),
		zap.String("percent", percent.String()),
		zap.String("reason", string(trade.ReasonOf(err))),
		zap.Error(err))
	e.emitter.Emit(events.TriggerFailedEvent{
		BaseEvent:  events.NewBase(events.TriggerFailed),
		TokenID:    obs.TokenID,
		Trigger:    trigger,
		Percent:    percent,
		Multiplier: obs.CurrentMultiplier,
		Reason:     err.Error(),
	})

	return Decision{
		Action:   ActionSellFailed,
		Trigger:  trigger,
		SellErr:  err,
		Position: committed,
	}
}

func (e *Engine) attempted(pos position.Position, trigger events.Trigger, percent decimal.Decimal) {
	e.emitter.Emit(events.TriggerAttemptedEvent{
		BaseEvent:  events.NewBase(events.TriggerAttempted),
		TokenID:    pos.TokenID,
		Trigger:    trigger,
		Percent:    percent,
		Multiplier: pos.CurrentMultiplier,
	})
}

// succeeded reports a confirmed sell. soldPercent is the share of the
// original position that left with this sell.
func (e *Engine) succeeded(pos position.Position, trigger events.Trigger, percent, soldPercent, remaining decimal.Decimal, fill trade.Fill) {
	e.emitter.Emit(events.TriggerSucceededEvent{
		BaseEvent:        events.NewBase(events.TriggerSucceeded),
		TokenID:          pos.TokenID,
		Symbol:           pos.Symbol,
		Trigger:          trigger,
		Percent:          percent,
		Multiplier:       pos.CurrentMultiplier,
		EntryNotional:    pos.EntryNotional,
		EntryPrice:       pos.EntryPrice,
		ExitPrice:        pos.LastPrice,
		SoldNotional:     pos.EntryNotional.Mul(soldPercent).Div(hundred),
		RemainingPercent: remaining,
		Signature:        fill.Signature,
		HoldTime:         time.Since(pos.CreatedAt),
	})
}
