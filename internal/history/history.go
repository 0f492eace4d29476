// internal/history/history.go
package history

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/events"
)

const (
	defaultMaxTrades     = 1000
	defaultFlushInterval = 30 * time.Second
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Config configures the trade journal.
type Config struct {
	// Dir receives a trades/ subdirectory with one CSV file per run and a
	// reports/ subdirectory for exports.
	Dir           string
	WalletAddr    string
	MaxTrades     int
	FlushInterval time.Duration
	Logger        *zap.Logger
}

// TradeHistory journals confirmed buys and sells to CSV and keeps running
// statistics.
type TradeHistory struct {
	mu         sync.RWMutex
	csvWriter  *CSVWriter
	exporter   *Exporter
	reportDir  string
	trades     []Trade
	maxTrades  int
	walletAddr string
	logger     *zap.Logger

	// Statistics
	buyCount    int
	sellCount   int
	winCount    int
	lossCount   int
	totalVolume decimal.Decimal
	totalPnL    decimal.Decimal
	totalWinPnL decimal.Decimal
	totalLoss   decimal.Decimal
}

// NewTradeHistory creates the CSV file and the in-memory journal.
func NewTradeHistory(cfg Config) (*TradeHistory, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("trade history directory is required")
	}
	if cfg.MaxTrades <= 0 {
		cfg.MaxTrades = defaultMaxTrades
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.Named("history")

	filename := fmt.Sprintf("trades_%s.csv", time.Now().Format("20060102_150405"))
	csvPath := filepath.Join(cfg.Dir, "trades", filename)

	csvWriter, err := NewCSVWriter(csvPath, CSVHeaders(), cfg.FlushInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}

	logger.Info("Trade history initialized",
		zap.String("csv_file", csvPath),
		zap.Int("max_memory_trades", cfg.MaxTrades))

	return &TradeHistory{
		csvWriter:  csvWriter,
		exporter:   NewExporter(logger),
		reportDir:  filepath.Join(cfg.Dir, "reports"),
		trades:     make([]Trade, 0, cfg.MaxTrades),
		maxTrades:  cfg.MaxTrades,
		walletAddr: cfg.WalletAddr,
		logger:     logger,
	}, nil
}

// Handle journals confirmed trades from the event bus. Other events are
// ignored.
func (th *TradeHistory) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.PositionOpenedEvent:
		return th.LogTrade(Trade{
			Timestamp:   e.Timestamp(),
			TokenMint:   e.TokenID,
			TokenSymbol: e.Symbol,
			Platform:    e.Platform,
			Action:      ActionBuy,
			AmountSOL:   e.EntryNotional,
			Price:       e.EntryPrice,
			TxSignature: e.Signature,
		})
	case events.TriggerSucceededEvent:
		return th.LogTrade(SellFromEvent(e))
	}
	return nil
}

// SellFromEvent builds the journal row of a confirmed sell. Realized P&L is
// the sold share of the entry notional times (multiplier - 1).
func SellFromEvent(e events.TriggerSucceededEvent) Trade {
	pnl := e.SoldNotional.Mul(e.Multiplier.Sub(one))
	return Trade{
		Timestamp:   e.Timestamp(),
		TokenMint:   e.TokenID,
		TokenSymbol: e.Symbol,
		Action:      ActionSell,
		AmountSOL:   e.SoldNotional,
		Percent:     e.Percent,
		Price:       e.ExitPrice,
		TxSignature: e.Signature,
		Trigger:     string(e.Trigger),
		EntryPrice:  e.EntryPrice,
		ExitPrice:   e.ExitPrice,
		Multiplier:  e.Multiplier,
		PnL:         pnl,
		PnLPercent:  e.Multiplier.Sub(one).Mul(hundred),
		HoldTime:    FormatHoldTime(e.HoldTime),
	}
}

// LogTrade appends a trade to the CSV file and the in-memory ring.
func (th *TradeHistory) LogTrade(trade Trade) error {
	th.mu.Lock()
	defer th.mu.Unlock()

	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now()
	}
	if trade.WalletAddr == "" {
		trade.WalletAddr = th.walletAddr
	}

	if err := th.csvWriter.WriteRecord(trade.ToCSV()); err != nil {
		th.logger.Error("Failed to write trade to CSV",
			zap.String("trade_id", trade.ID),
			zap.Error(err))
		return fmt.Errorf("failed to write trade: %w", err)
	}

	if len(th.trades) >= th.maxTrades {
		th.trades = th.trades[1:]
	}
	th.trades = append(th.trades, trade)

	th.totalVolume = th.totalVolume.Add(trade.AmountSOL)
	switch trade.Action {
	case ActionBuy:
		th.buyCount++
	case ActionSell:
		th.sellCount++
		th.totalPnL = th.totalPnL.Add(trade.PnL)
		if trade.PnL.IsPositive() {
			th.winCount++
			th.totalWinPnL = th.totalWinPnL.Add(trade.PnL)
		} else if trade.PnL.IsNegative() {
			th.lossCount++
			th.totalLoss = th.totalLoss.Add(trade.PnL)
		}
	}

	th.logger.Info("📊 Trade logged",
		zap.String("id", trade.ID),
		zap.String("action", trade.Action),
		zap.String("token", trade.TokenMint),
		zap.String("amount_sol", trade.AmountSOL.String()),
		zap.String("pnl", trade.PnL.StringFixed(4)))

	return nil
}

// RecentTrades returns up to limit of the most recent trades, oldest first.
func (th *TradeHistory) RecentTrades(limit int) []Trade {
	th.mu.RLock()
	defer th.mu.RUnlock()

	if limit <= 0 || limit > len(th.trades) {
		limit = len(th.trades)
	}
	result := make([]Trade, limit)
	copy(result, th.trades[len(th.trades)-limit:])
	return result
}

// TradeByID returns a trade still held in memory.
func (th *TradeHistory) TradeByID(id string) (Trade, bool) {
	th.mu.RLock()
	defer th.mu.RUnlock()

	for i := len(th.trades) - 1; i >= 0; i-- {
		if th.trades[i].ID == id {
			return th.trades[i], true
		}
	}
	return Trade{}, false
}

// TradesByToken returns the in-memory trades of one token.
func (th *TradeHistory) TradesByToken(tokenMint string) []Trade {
	th.mu.RLock()
	defer th.mu.RUnlock()

	var result []Trade
	for _, trade := range th.trades {
		if trade.TokenMint == tokenMint {
			result = append(result, trade)
		}
	}
	return result
}

// Statistics returns the aggregate statistics since start.
func (th *TradeHistory) Statistics() TradeStatistics {
	th.mu.RLock()
	defer th.mu.RUnlock()
	return th.statisticsLocked()
}

func (th *TradeHistory) statisticsLocked() TradeStatistics {
	stats := TradeStatistics{
		TotalTrades: th.buyCount + th.sellCount,
		BuyCount:    th.buyCount,
		SellCount:   th.sellCount,
		WinCount:    th.winCount,
		TotalVolume: th.totalVolume,
		TotalPnL:    th.totalPnL,
	}
	if th.sellCount > 0 {
		stats.WinRate = decimal.NewFromInt(int64(th.winCount)).Div(decimal.NewFromInt(int64(th.sellCount))).Mul(hundred)
	}
	if th.winCount > 0 {
		stats.AvgWinPnL = th.totalWinPnL.Div(decimal.NewFromInt(int64(th.winCount)))
	}
	if th.lossCount > 0 {
		stats.AvgLossPnL = th.totalLoss.Div(decimal.NewFromInt(int64(th.lossCount)))
	}
	return stats
}

// Export writes the in-memory trades matching options. An empty OutputDir
// means the journal's reports directory.
func (th *TradeHistory) Export(options ExportOptions) (string, error) {
	if options.OutputDir == "" {
		options.OutputDir = th.reportDir
	}
	return th.exporter.Export(th.RecentTrades(0), options)
}

// ExportDailyReport writes the JSON report of the given day into the
// reports directory. The path is empty when the day had no trades.
func (th *TradeHistory) ExportDailyReport(date time.Time) (string, error) {
	return th.exporter.ExportDailyReport(th.RecentTrades(0), date, th.reportDir)
}

// Flush forces a write of any buffered trades.
func (th *TradeHistory) Flush() error {
	return th.csvWriter.Flush()
}

// Path returns the CSV file of this run.
func (th *TradeHistory) Path() string {
	return th.csvWriter.Path()
}

// Close logs the final statistics and closes the CSV file.
func (th *TradeHistory) Close() error {
	th.mu.Lock()
	defer th.mu.Unlock()

	stats := th.statisticsLocked()
	th.logger.Info("Closing trade history",
		zap.Int("total_trades", stats.TotalTrades),
		zap.String("total_volume", stats.TotalVolume.String()),
		zap.String("total_pnl", stats.TotalPnL.StringFixed(4)),
		zap.String("win_rate", stats.WinRate.StringFixed(1)))

	return th.csvWriter.Close()
}

// TradeStatistics holds aggregate trade statistics.
type TradeStatistics struct {
	TotalTrades int             `json:"total_trades"`
	BuyCount    int             `json:"buy_count"`
	SellCount   int             `json:"sell_count"`
	WinCount    int             `json:"win_count"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	WinRate     decimal.Decimal `json:"win_rate"`
	AvgWinPnL   decimal.Decimal `json:"avg_win_pnl"`
	AvgLossPnL  decimal.Decimal `json:"avg_loss_pnl"`
}
