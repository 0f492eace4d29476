// internal/monitor/service.go
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/price"
	"github.com/rovshanmuradov/solana-sniper/internal/strategy"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultPriceTimeout = 10 * time.Second
	DefaultWorkers      = 8

	triggerQueueSize = 64
)

// Evaluator applies the exit strategy to one price reading.
type Evaluator interface {
	Evaluate(ctx context.Context, tokenID string, price decimal.Decimal) strategy.Decision
}

// Config holds the monitor's collaborators and timing.
type Config struct {
	Store   *position.Store
	Engine  Evaluator
	Oracle  price.Oracle
	Emitter events.Emitter
	Logger  *zap.Logger

	Interval     time.Duration
	PriceTimeout time.Duration
	// Workers bounds concurrent evaluations within a tick.
	Workers int
}

// TickSummary counts what one pass over the open positions did.
type TickSummary struct {
	Checked     int
	Unavailable int
	Sold        int
	Failed      int
}

// Monitor periodically prices every open position and feeds the engine.
// Ticks run sequentially in the Run goroutine, so a token is never evaluated
// by two ticks at once.
type Monitor struct {
	store        *position.Store
	engine       Evaluator
	oracle       price.Oracle
	emitter      events.Emitter
	logger       *zap.Logger
	interval     time.Duration
	priceTimeout time.Duration
	workers      int

	triggers chan string
	running  atomic.Bool

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
}

// NewMonitor creates a monitor.
func NewMonitor(config *Config) (*Monitor, error) {
	if config == nil || config.Store == nil || config.Engine == nil || config.Oracle == nil {
		return nil, errors.New("store, engine and oracle are required")
	}
	m := &Monitor{
		store:        config.Store,
		engine:       config.Engine,
		oracle:       config.Oracle,
		emitter:      config.Emitter,
		logger:       config.Logger,
		interval:     config.Interval,
		priceTimeout: config.PriceTimeout,
		workers:      config.Workers,
		triggers:     make(chan string, triggerQueueSize),
		timers:       make(map[*time.Timer]struct{}),
	}
	if m.emitter == nil {
		m.emitter = events.Nop
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("monitor")
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.priceTimeout <= 0 {
		m.priceTimeout = DefaultPriceTimeout
	}
	if m.workers <= 0 {
		m.workers = DefaultWorkers
	}
	return m, nil
}

// Run ticks until ctx is cancelled. Out-of-band checks requested with
// Trigger are served between ticks.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("monitor already running")
	}
	defer m.running.Store(false)
	defer m.stopTimers()

	m.logger.Info("📊 Position monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("price_timeout", m.priceTimeout),
		zap.Int("workers", m.workers))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Position monitor stopped")
			return nil
		case <-ticker.C:
			summary := m.Tick(ctx)
			if summary.Checked > 0 {
				m.logger.Debug("Monitor tick",
					zap.Int("checked", summary.Checked),
					zap.Int("unavailable", summary.Unavailable),
					zap.Int("sold", summary.Sold),
					zap.Int("failed", summary.Failed),
					zap.Int("open", m.store.Len()))
			}
		case tokenID := <-m.triggers:
			if p, err := m.store.Get(tokenID); err == nil && p.IsOpen() {
				m.check(ctx, tokenID, &TickSummary{})
			}
		}
	}
}

// Tick evaluates every open position once.
func (m *Monitor) Tick(ctx context.Context) TickSummary {
	var (
		mu      sync.Mutex
		summary TickSummary
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for _, p := range m.store.ListOpen() {
		if ctx.Err() != nil {
			break
		}
		if !p.IsOpen() {
			continue
		}
		tokenID := p.TokenID
		g.Go(func() error {
			var local TickSummary
			m.check(gCtx, tokenID, &local)
			mu.Lock()
			summary.Checked += local.Checked
			summary.Unavailable += local.Unavailable
			summary.Sold += local.Sold
			summary.Failed += local.Failed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return summary
}

// Trigger asks for an evaluation of tokenID ahead of the next tick. It never
// blocks; requests beyond the queue size are dropped and picked up by the
// regular tick.
func (m *Monitor) Trigger(tokenID string) {
	select {
	case m.triggers <- tokenID:
	default:
		m.logger.Debug("Trigger queue full", zap.String("token", tokenID))
	}
}

// TriggerAfter schedules Trigger after delay.
func (m *Monitor) TriggerAfter(tokenID string, delay time.Duration) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.timersMu.Lock()
		delete(m.timers, timer)
		m.timersMu.Unlock()
		m.Trigger(tokenID)
	})
	m.timers[timer] = struct{}{}
}

func (m *Monitor) stopTimers() {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	for t := range m.timers {
		t.Stop()
		delete(m.timers, t)
	}
}

// check prices one position and hands the reading to the engine. Errors are
// contained here.
func (m *Monitor) check(ctx context.Context, tokenID string, summary *TickSummary) {
	summary.Checked++

	priceCtx, cancel := context.WithTimeout(ctx, m.priceTimeout)
	reading, err := m.oracle.FetchPrice(priceCtx, tokenID)
	cancel()
	if err != nil {
		summary.Unavailable++
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, price.ErrPriceUnavailable) {
			m.logger.Debug("Price unavailable", zap.String("token", tokenID), zap.Error(err))
		} else {
			m.logger.Warn("Failed to fetch price", zap.String("token", tokenID), zap.Error(err))
		}
		m.emitter.Emit(events.PriceUnavailableEvent{
			BaseEvent: events.NewBase(events.PriceUnavailable),
			TokenID:   tokenID,
			Reason:    err.Error(),
		})
		return
	}

	decision := m.engine.Evaluate(ctx, tokenID, reading.Price)
	switch decision.Action {
	case strategy.ActionSold:
		summary.Sold++
	case strategy.ActionSellFailed:
		summary.Failed++
	}
}
