// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/discovery"
	"github.com/rovshanmuradov/solana-sniper/internal/entry"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/history"
	"github.com/rovshanmuradov/solana-sniper/internal/metrics"
	"github.com/rovshanmuradov/solana-sniper/internal/monitor"
	"github.com/rovshanmuradov/solana-sniper/internal/notify"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/price"
	"github.com/rovshanmuradov/solana-sniper/internal/strategy"
	"github.com/rovshanmuradov/solana-sniper/internal/trade"
	"github.com/rovshanmuradov/solana-sniper/internal/wallet"
)

const (
	eventBufferSize  = 1024
	webhookQueueSize = 256
	entryWorkers     = 4
	lamportsPerSol   = 1_000_000_000
)

// Option overrides a collaborator the runner would otherwise build from
// the configuration.
type Option func(*Runner)

// WithExecutor replaces the PumpPortal executor.
func WithExecutor(executor trade.Executor) Option {
	return func(r *Runner) { r.executor = executor }
}

// WithOracle replaces the on-chain, pump.fun and DexScreener price chain.
func WithOracle(oracle price.Oracle) Option {
	return func(r *Runner) { r.oracle = oracle }
}

// Runner wires the feed, entry bridge, monitor and exit engine together and
// owns their lifetime.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger

	wallet   *wallet.Wallet
	rpc      *solbc.Client
	executor trade.Executor
	oracle   price.Oracle

	bus     *events.Bus
	store   *position.Store
	engine  *strategy.Engine
	monitor *monitor.Monitor
	feed    *discovery.Feed
	bridge  *entry.Bridge
	history *history.TradeHistory
	metrics *metrics.Collector

	shutdown *ShutdownHandler
	entries  errgroup.Group
}

// NewRunner builds every component from cfg.
func NewRunner(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:      cfg,
		logger:   logger.Named("bot"),
		shutdown: NewShutdownHandler(logger.Named("shutdown"), 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.entries.SetLimit(entryWorkers)

	if r.executor == nil {
		if err := r.buildExecutor(); err != nil {
			return nil, err
		}
	}
	if r.oracle == nil {
		r.oracle = r.buildOracle()
	}

	r.bus = events.NewBus(logger, eventBufferSize)
	r.store = position.NewStore(decimal.NewFromFloat(cfg.TrailingStopMultiplier), logger)

	exitCfg, err := cfg.ExitStrategy()
	if err != nil {
		return nil, err
	}
	r.engine, err = strategy.NewEngine(exitCfg, strategy.Options{
		Store:        r.store,
		Seller:       r.executor,
		Emitter:      r.bus,
		Logger:       logger,
		TradeTimeout: cfg.TradeTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create exit engine: %w", err)
	}

	r.monitor, err = monitor.NewMonitor(&monitor.Config{
		Store:        r.store,
		Engine:       r.engine,
		Oracle:       r.oracle,
		Emitter:      r.bus,
		Logger:       logger,
		Interval:     cfg.MonitorInterval,
		PriceTimeout: cfg.PriceTimeout,
		Workers:      cfg.MonitorWorkers,
	})
	if err != nil {
		return nil, fmt.Errorf("create monitor: %w", err)
	}

	r.bridge, err = entry.NewBridge(entry.Config{
		AcceptPlatform:       cfg.AcceptsPlatform,
		KeywordFilterEnabled: cfg.KeywordFilterEnabled,
		Keywords:             cfg.Keywords,
		MinMarketCapUSD:      decimal.NewFromFloat(cfg.MinMarketCap),
		SolUSDPrice:          decimal.NewFromFloat(cfg.SolUSDPrice),
		BuyNotional:          decimal.NewFromFloat(cfg.BuyAmount),
		FirstCheckDelay:      cfg.FirstCheckDelay,
		TradeTimeout:         cfg.TradeTimeout,
		PriceTimeout:         cfg.PriceTimeout,
	}, entry.Options{
		Store:     r.store,
		Buyer:     r.executor,
		Oracle:    r.oracle,
		Scheduler: r.monitor,
		Emitter:   r.bus,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create entry bridge: %w", err)
	}

	r.feed = discovery.NewFeed(discovery.FeedConfig{
		URL:          cfg.FeedURL,
		Logger:       logger,
		SeenCapacity: cfg.SeenCapacity,
	})

	if err := r.subscribeOutputs(logger); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Runner) buildExecutor() error {
	w, err := wallet.NewWallet(r.cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	r.wallet = w

	r.rpc, err = solbc.NewClient(r.cfg.RPCList, r.logger)
	if err != nil {
		return fmt.Errorf("create rpc client: %w", err)
	}

	r.executor, err = trade.NewPumpPortal(trade.PumpPortalConfig{
		TradeURL:       r.cfg.TradeURL,
		Wallet:         w,
		Broadcaster:    r.rpc,
		Logger:         r.logger,
		Slippage:       decimal.NewFromFloat(r.cfg.Slippage),
		PriorityFee:    decimal.NewFromFloat(r.cfg.PriorityFee),
		Pool:           r.cfg.Pool,
		RequestTimeout: r.cfg.TradeTimeout,
	})
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	return nil
}

func (r *Runner) buildOracle() price.Oracle {
	var limiter *rate.Limiter
	if r.cfg.PriceRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.PriceRPS), int(r.cfg.PriceRPS)+1)
	}
	chain := price.NewChain(r.logger)
	if r.rpc != nil {
		chain.Add(price.SourceBondingCurve, price.NewBondingCurveOracle(r.rpc, decimal.NewFromFloat(r.cfg.SolUSDPrice)))
	}
	return chain.
		Add(price.SourcePumpFun, price.NewPumpFunOracle(price.ClientConfig{Limiter: limiter})).
		Add(price.SourceDexScreener, price.NewDexScreenerOracle(price.ClientConfig{Limiter: limiter}))
}

// subscribeOutputs attaches the journal, webhook and metrics to the bus and
// registers closers so the bus drains before the journal closes.
func (r *Runner) subscribeOutputs(logger *zap.Logger) error {
	r.shutdown.AddFunc("logger", func() error {
		_ = logger.Sync()
		return nil
	})

	if r.cfg.TradeHistoryDir != "" {
		walletAddr := ""
		if r.wallet != nil {
			walletAddr = r.wallet.String()
		}
		h, err := history.NewTradeHistory(history.Config{
			Dir:        r.cfg.TradeHistoryDir,
			WalletAddr: walletAddr,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("create trade history: %w", err)
		}
		r.history = h
		r.bus.Subscribe(events.PositionOpened, h)
		r.bus.Subscribe(events.TriggerSucceeded, h)
		r.shutdown.Add("trade_history", h)
		r.shutdown.AddFunc("daily_report", func() error {
			_, err := h.ExportDailyReport(time.Now())
			return err
		})
	}

	if r.cfg.WebhookURL != "" {
		wh, err := notify.NewWebhook(notify.Config{WebhookURL: r.cfg.WebhookURL, Logger: logger})
		if err != nil {
			return fmt.Errorf("create webhook notifier: %w", err)
		}
		// Deliveries run off the bus dispatcher so a slow webhook cannot
		// hold back the journal and metrics.
		queue := events.NewAsyncHandler("webhook", wh, webhookQueueSize, logger)
		r.bus.Subscribe(events.All, queue)
		r.shutdown.Add("webhook", queue)
	}

	r.metrics = metrics.NewCollector(metrics.Options{OpenPositions: r.store.Len, Logger: logger})
	r.bus.Subscribe(events.All, r.metrics)

	r.shutdown.AddFunc("event_bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.bus.Shutdown(ctx)
	})
	r.shutdown.AddFunc("entries", func() error {
		return r.entries.Wait()
	})
	return nil
}

// Run starts the monitor, the feed and the metrics listener, and blocks
// until ctx is cancelled or one of them fails. Pending buys are allowed to
// finish before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("🚀 Sniper starting",
		zap.String("platform", string(r.cfg.Platform)),
		zap.Float64("buy_amount_sol", r.cfg.BuyAmount),
		zap.Duration("monitor_interval", r.cfg.MonitorInterval))
	r.logBalance(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.monitor.Run(gctx)
	})
	g.Go(func() error {
		return r.feed.Run(gctx, r.onToken)
	})
	if r.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return r.metrics.Serve(gctx, r.cfg.MetricsAddr)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if shutdownErr := r.shutdown.Shutdown(context.Background()); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	r.logSummary()
	return err
}

// onToken hands a discovered token to the bridge without blocking the feed.
// Buys run detached from the feed's context so shutdown never abandons a
// sent transaction; the bridge bounds them with the trade timeout.
func (r *Runner) onToken(ctx context.Context, ev discovery.TokenEvent) {
	entryCtx := context.WithoutCancel(ctx)
	if !r.entries.TryGo(func() error {
		r.bridge.Handle(entryCtx, ev)
		return nil
	}) {
		r.logger.Warn("Entry workers busy, token dropped",
			zap.String("token", ev.TokenID),
			zap.String("name", ev.DisplayName()))
	}
}

// ManualSell sells percent of a held token, serialized with the monitor.
func (r *Runner) ManualSell(ctx context.Context, tokenID string, percent decimal.Decimal) (strategy.Decision, error) {
	return r.engine.ManualSell(ctx, tokenID, percent)
}

// DropPosition writes off a held token without selling it.
func (r *Runner) DropPosition(tokenID, reason string) error {
	return r.engine.Drop(tokenID, reason)
}

// Positions returns a snapshot of the open positions.
func (r *Runner) Positions() []position.Position {
	return r.store.ListOpen()
}

// History returns the trade journal, nil when disabled.
func (r *Runner) History() *history.TradeHistory {
	return r.history
}

func (r *Runner) logBalance(ctx context.Context) {
	if r.rpc == nil || r.wallet == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	lamports, err := r.rpc.GetBalance(ctx, r.wallet.PublicKey)
	if err != nil {
		r.logger.Warn("Failed to fetch wallet balance", zap.Error(err))
		return
	}
	r.logger.Info("💰 Wallet balance",
		zap.String("wallet", r.wallet.String()),
		zap.String("sol", decimal.NewFromInt(int64(lamports)).Div(decimal.NewFromInt(lamportsPerSol)).StringFixed(4)))
}

func (r *Runner) logSummary() {
	fields := []zap.Field{
		zap.Int("open_positions", r.store.Len()),
		zap.Int("tokens_seen", r.feed.Seen().Len()),
		zap.Any("event_bus", r.bus.Stats()),
	}
	if r.history != nil {
		stats := r.history.Statistics()
		fields = append(fields,
			zap.Int("trades", stats.TotalTrades),
			zap.Int("wins", stats.WinCount),
			zap.String("realized_pnl_sol", stats.TotalPnL.StringFixed(4)))
	}
	r.logger.Info("👋 Sniper stopped", fields...)
}
