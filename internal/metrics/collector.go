// internal/metrics/collector.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/events"
)

const (
	Namespace = "solana_sniper"

	statusSuccess = "success"
	statusFailure = "failure"
)

var one = decimal.NewFromInt(1)

// Options configures a Collector.
type Options struct {
	// OpenPositions backs the open positions gauge. Optional.
	OpenPositions func() int
	Logger        *zap.Logger
}

// Collector turns lifecycle events into Prometheus metrics. It owns its
// registry so several collectors can coexist in one process.
type Collector struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	events           *prometheus.CounterVec
	trades           *prometheus.CounterVec
	entries          *prometheus.CounterVec
	priceUnavailable prometheus.Counter
	realizedPnL      prometheus.Gauge
	exitMultiplier   *prometheus.HistogramVec
	holdTime         prometheus.Histogram
}

// NewCollector creates and registers the sniper metrics.
func NewCollector(opts Options) *Collector {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		logger:   opts.Logger.Named("metrics"),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_total",
				Help:      "Lifecycle events emitted, by type",
			},
			[]string{"type"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "exit_trades_total",
				Help:      "Exit sells by trigger and outcome",
			},
			[]string{"trigger", "status"},
		),
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "entries_total",
				Help:      "New token entries by outcome",
			},
			[]string{"status"},
		),
		priceUnavailable: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "price_unavailable_total",
				Help:      "Price lookups that returned no usable reading",
			},
		),
		realizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "realized_pnl_sol",
				Help:      "Realized profit and loss in SOL since start",
			},
		),
		exitMultiplier: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "exit_multiplier",
				Help:      "Price multiplier at confirmed exits",
				Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 4, 6, 10, 20},
			},
			[]string{"trigger"},
		),
		holdTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "hold_time_seconds",
				Help:      "Time from buy to full exit",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
			},
		),
	}

	c.registry.MustRegister(
		c.events,
		c.trades,
		c.entries,
		c.priceUnavailable,
		c.realizedPnL,
		c.exitMultiplier,
		c.holdTime,
	)

	if opts.OpenPositions != nil {
		open := opts.OpenPositions
		c.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "open_positions",
				Help:      "Positions currently held",
			},
			func() float64 { return float64(open()) },
		))
	}

	return c
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handle records one event. It implements events.Handler.
func (c *Collector) Handle(_ context.Context, event events.Event) error {
	c.events.WithLabelValues(string(event.Type())).Inc()

	switch e := event.(type) {
	case events.PositionOpenedEvent:
		c.entries.WithLabelValues("opened").Inc()
	case events.EntryFailedEvent:
		c.entries.WithLabelValues("failed").Inc()
	case events.EntrySkippedEvent:
		c.entries.WithLabelValues("skipped").Inc()
	case events.PriceUnavailableEvent:
		c.priceUnavailable.Inc()
	case events.TriggerSucceededEvent:
		c.trades.WithLabelValues(string(e.Trigger), statusSuccess).Inc()
		mult, _ := e.Multiplier.Float64()
		c.exitMultiplier.WithLabelValues(string(e.Trigger)).Observe(mult)
		pnl, _ := e.SoldNotional.Mul(e.Multiplier.Sub(one)).Float64()
		c.realizedPnL.Add(pnl)
	case events.TriggerFailedEvent:
		c.trades.WithLabelValues(string(e.Trigger), statusFailure).Inc()
	case events.PositionClosedEvent:
		c.holdTime.Observe(e.HoldTime.Seconds())
	}
	return nil
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("📊 Metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
