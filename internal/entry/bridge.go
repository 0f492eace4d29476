// internal/entry/bridge.go
package entry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/discovery"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/price"
	"github.com/rovshanmuradov/solana-sniper/internal/trade"
)

const (
	defaultTradeTimeout = 60 * time.Second
	defaultPriceTimeout = 10 * time.Second
)

// Buyer is the part of the trade executor the bridge needs.
type Buyer interface {
	Buy(ctx context.Context, tokenID string, notional decimal.Decimal) (trade.Fill, error)
}

// Scheduler arranges the first out-of-band check of a new position.
type Scheduler interface {
	TriggerAfter(tokenID string, delay time.Duration)
}

// Config holds the entry filters and buy sizing.
type Config struct {
	// AcceptPlatform decides whether a launchpad is traded. Nil accepts all.
	AcceptPlatform       func(platform string) bool
	KeywordFilterEnabled bool
	Keywords             []string
	// MinMarketCapUSD disables the market cap filter when zero.
	MinMarketCapUSD decimal.Decimal
	SolUSDPrice     decimal.Decimal
	BuyNotional     decimal.Decimal
	FirstCheckDelay time.Duration
	TradeTimeout    time.Duration
	PriceTimeout    time.Duration
}

// Options are the bridge's collaborators. Oracle and Scheduler are optional.
type Options struct {
	Store     *position.Store
	Buyer     Buyer
	Oracle    price.Oracle
	Scheduler Scheduler
	Emitter   events.Emitter
	Logger    *zap.Logger
}

// Action is what Handle did with a token.
type Action string

const (
	ActionOpened  Action = "opened"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// Result describes the outcome of handling one token event.
type Result struct {
	Action   Action
	Reason   string
	Position position.Position
	Fill     trade.Fill
}

// Bridge turns discovery events into open positions.
type Bridge struct {
	cfg       Config
	keywords  []string
	store     *position.Store
	buyer     Buyer
	oracle    price.Oracle
	scheduler Scheduler
	emitter   events.Emitter
	logger    *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewBridge validates the configuration and creates a bridge.
func NewBridge(cfg Config, opts Options) (*Bridge, error) {
	if opts.Store == nil || opts.Buyer == nil {
		return nil, errors.New("store and buyer are required")
	}
	if !cfg.BuyNotional.IsPositive() {
		return nil, errors.New("buy notional must be positive")
	}
	if cfg.MinMarketCapUSD.IsNegative() {
		return nil, errors.New("minimum market cap cannot be negative")
	}
	if cfg.TradeTimeout <= 0 {
		cfg.TradeTimeout = defaultTradeTimeout
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = defaultPriceTimeout
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Nop
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	return &Bridge{
		cfg:       cfg,
		keywords:  keywords,
		store:     opts.Store,
		buyer:     opts.Buyer,
		oracle:    opts.Oracle,
		scheduler: opts.Scheduler,
		emitter:   opts.Emitter,
		logger:    opts.Logger.Named("entry"),
		inflight:  make(map[string]struct{}),
	}, nil
}

// Handle filters the token, buys it and registers the position. It never
// retries a failed buy.
func (b *Bridge) Handle(ctx context.Context, ev discovery.TokenEvent) Result {
	if ev.TokenID == "" {
		return b.skip(ev, "missing token id")
	}
	if _, err := b.store.Get(ev.TokenID); err == nil {
		return b.skip(ev, "position already open")
	}
	if b.cfg.AcceptPlatform != nil && !b.cfg.AcceptPlatform(ev.Platform) {
		return b.skip(ev, fmt.Sprintf("platform %s not enabled", ev.Platform))
	}
	if !b.matchesKeywords(ev) {
		return b.skip(ev, "no keyword match")
	}
	if b.cfg.MinMarketCapUSD.IsPositive() {
		mcap, ok := b.marketCapUSD(ctx, ev)
		if !ok {
			return b.skip(ev, "market cap unknown")
		}
		if mcap.LessThan(b.cfg.MinMarketCapUSD) {
			return b.skip(ev, fmt.Sprintf("market cap $%s below $%s",
				mcap.StringFixed(0), b.cfg.MinMarketCapUSD.StringFixed(0)))
		}
	}

	if !b.claim(ev.TokenID) {
		return b.skip(ev, "entry already in progress")
	}
	defer b.release(ev.TokenID)

	b.logger.Info("🎯 Buying new token",
		zap.String("token", ev.TokenID),
		zap.String("name", ev.DisplayName()),
		zap.String("platform", ev.Platform),
		zap.String("amount_sol", b.cfg.BuyNotional.String()))

	buyCtx, cancel := context.WithTimeout(ctx, b.cfg.TradeTimeout)
	fill, err := b.buyer.Buy(buyCtx, ev.TokenID, b.cfg.BuyNotional)
	cancel()
	if err != nil {
		return b.fail(ev, fmt.Sprintf("buy failed (%s): %v", trade.ReasonOf(err), err))
	}

	entryPrice := b.entryPrice(ctx, ev.TokenID)

	pos, err := b.store.Create(position.Opening{
		TokenID:       ev.TokenID,
		DisplayName:   ev.DisplayName(),
		Symbol:        ev.Symbol,
		Platform:      ev.Platform,
		EntryNotional: b.cfg.BuyNotional,
		EntryPrice:    entryPrice,
		BuySignature:  fill.Signature,
	})
	if err != nil {
		if errors.Is(err, position.ErrPositionExists) {
			detail := fmt.Sprintf("bought %s twice; second buy %s is not tracked", ev.TokenID, fill.Signature)
			b.logger.Error("Duplicate position after buy",
				zap.String("token", ev.TokenID),
				zap.String("signature", fill.Signature))
			b.emitter.Emit(events.InvariantViolatedEvent{
				BaseEvent: events.NewBase(events.InvariantViolated),
				TokenID:   ev.TokenID,
				Detail:    detail,
			})
			return Result{Action: ActionFailed, Reason: detail, Fill: fill}
		}
		res := b.fail(ev, fmt.Sprintf("register position: %v", err))
		res.Fill = fill
		return res
	}

	b.emitter.Emit(events.PositionOpenedEvent{
		BaseEvent:     events.NewBase(events.PositionOpened),
		TokenID:       pos.TokenID,
		Name:          pos.DisplayName,
		Symbol:        pos.Symbol,
		Platform:      pos.Platform,
		EntryNotional: pos.EntryNotional,
		EntryPrice:    pos.EntryPrice,
		Signature:     fill.Signature,
	})
	b.logger.Info("✅ Position opened",
		zap.String("token", pos.TokenID),
		zap.String("entry_price", pos.EntryPrice.String()),
		zap.String("signature", fill.Signature))

	if b.scheduler != nil {
		b.scheduler.TriggerAfter(pos.TokenID, b.cfg.FirstCheckDelay)
	}

	return Result{Action: ActionOpened, Position: pos, Fill: fill}
}

// claim marks tokenID as being bought; a second concurrent entry for the
// same token is refused before it reaches the executor.
func (b *Bridge) claim(tokenID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.inflight[tokenID]; busy {
		return false
	}
	b.inflight[tokenID] = struct{}{}
	return true
}

func (b *Bridge) release(tokenID string) {
	b.mu.Lock()
	delete(b.inflight, tokenID)
	b.mu.Unlock()
}

// matchesKeywords is a case-insensitive substring match on name or symbol.
// An empty keyword list accepts everything.
func (b *Bridge) matchesKeywords(ev discovery.TokenEvent) bool {
	if !b.cfg.KeywordFilterEnabled || len(b.keywords) == 0 {
		return true
	}
	name := strings.ToLower(ev.Name)
	symbol := strings.ToLower(ev.Symbol)
	for _, k := range b.keywords {
		if strings.Contains(name, k) || strings.Contains(symbol, k) {
			return true
		}
	}
	return false
}

// marketCapUSD resolves the market cap from the event, then the SOL market
// cap at the configured SOL price, then the oracle.
func (b *Bridge) marketCapUSD(ctx context.Context, ev discovery.TokenEvent) (decimal.Decimal, bool) {
	if ev.MarketCapUSD.Valid && ev.MarketCapUSD.Decimal.IsPositive() {
		return ev.MarketCapUSD.Decimal, true
	}
	if ev.MarketCapSol.Valid && ev.MarketCapSol.Decimal.IsPositive() && b.cfg.SolUSDPrice.IsPositive() {
		return ev.MarketCapSol.Decimal.Mul(b.cfg.SolUSDPrice), true
	}
	if b.oracle == nil {
		return decimal.Zero, false
	}
	priceCtx, cancel := context.WithTimeout(ctx, b.cfg.PriceTimeout)
	defer cancel()
	reading, err := b.oracle.FetchPrice(priceCtx, ev.TokenID)
	if err != nil {
		b.logger.Debug("Market cap lookup failed", zap.String("token", ev.TokenID), zap.Error(err))
		return decimal.Zero, false
	}
	return reading.MarketCap()
}

// entryPrice asks the oracle for the price right after the buy. Zero means
// the monitor backfills it from its first reading.
func (b *Bridge) entryPrice(ctx context.Context, tokenID string) decimal.Decimal {
	if b.oracle == nil {
		return decimal.Zero
	}
	priceCtx, cancel := context.WithTimeout(ctx, b.cfg.PriceTimeout)
	defer cancel()
	reading, err := b.oracle.FetchPrice(priceCtx, tokenID)
	if err != nil || !reading.Price.IsPositive() {
		b.logger.Debug("Entry price not available yet", zap.String("token", tokenID), zap.Error(err))
		return decimal.Zero
	}
	return reading.Price
}

func (b *Bridge) skip(ev discovery.TokenEvent, reason string) Result {
	b.logger.Debug("Token skipped",
		zap.String("token", ev.TokenID),
		zap.String("name", ev.DisplayName()),
		zap.String("reason", reason))
	b.emitter.Emit(events.EntrySkippedEvent{
		BaseEvent: events.NewBase(events.EntrySkipped),
		TokenID:   ev.TokenID,
		Name:      ev.DisplayName(),
		Reason:    reason,
	})
	return Result{Action: ActionSkipped, Reason: reason}
}

func (b *Bridge) fail(ev discovery.TokenEvent, reason string) Result {
	b.logger.Warn("Entry failed",
		zap.String("token", ev.TokenID),
		zap.String("name", ev.DisplayName()),
		zap.String("reason", reason))
	b.emitter.Emit(events.EntryFailedEvent{
		BaseEvent: events.NewBase(events.EntryFailed),
		TokenID:   ev.TokenID,
		Name:      ev.DisplayName(),
		Reason:    reason,
	})
	return Result{Action: ActionFailed, Reason: reason}
}
