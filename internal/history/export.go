// internal/history/export.go
package history

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ErrNothingToExport is returned when no trade matches the export criteria.
var ErrNothingToExport = errors.New("no trades match the export criteria")

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format        ExportFormat
	StartTime     time.Time
	EndTime       time.Time
	TokenFilter   string // token mint
	ActionFilter  string // buy or sell
	TriggerFilter string // partial_profit, trailing_stop, stop_loss, manual
	OutputDir     string
}

// ExportSummary contains summary statistics for exported trades
type ExportSummary struct {
	TotalTrades     int             `json:"total_trades"`
	BuyCount        int             `json:"buy_count"`
	SellCount       int             `json:"sell_count"`
	UniqueTokens    int             `json:"unique_tokens"`
	TotalBuyVolume  decimal.Decimal `json:"total_buy_volume"`
	TotalSellVolume decimal.Decimal `json:"total_sell_volume"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	WinCount        int             `json:"win_count"`
	LossCount       int             `json:"loss_count"`
	WinRate         decimal.Decimal `json:"win_rate"`
	AvgPnL          decimal.Decimal `json:"avg_pnl"`
	ByTrigger       map[string]int  `json:"by_trigger,omitempty"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
}

// DailyReport represents a daily trading report
type DailyReport struct {
	Date            time.Time     `json:"date"`
	TradeCount      int           `json:"trade_count"`
	Summary         ExportSummary `json:"summary"`
	HourlyBreakdown []HourlyStats `json:"hourly_breakdown"`
	Trades          []Trade       `json:"trades"`
}

// HourlyStats represents trading statistics for an hour
type HourlyStats struct {
	Hour       int             `json:"hour"`
	TradeCount int             `json:"trade_count"`
	BuyCount   int             `json:"buy_count"`
	SellCount  int             `json:"sell_count"`
	Volume     decimal.Decimal `json:"volume"`
	PnL        decimal.Decimal `json:"pnl"`
}

// Exporter writes trade snapshots to CSV or JSON files.
type Exporter struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewExporter creates a trade exporter.
func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{logger: logger.Named("export"), now: time.Now}
}

// Export writes the trades matching options and returns the file path.
func (e *Exporter) Export(trades []Trade, options ExportOptions) (string, error) {
	filtered := FilterTrades(trades, options)
	if len(filtered) == 0 {
		return "", ErrNothingToExport
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, e.filename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = writeCSV(filtered, outputPath)
	case FormatJSON:
		err = writeJSON(outputPath, struct {
			ExportTime time.Time     `json:"export_time"`
			TradeCount int           `json:"trade_count"`
			Trades     []Trade       `json:"trades"`
			Summary    ExportSummary `json:"summary"`
		}{
			ExportTime: e.now(),
			TradeCount: len(filtered),
			Trades:     filtered,
			Summary:    Summarize(filtered),
		})
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))
	return outputPath, nil
}

// ExportDailyReport writes the report of one calendar day. It returns an
// empty path when the day had no trades.
func (e *Exporter) ExportDailyReport(trades []Trade, date time.Time, outputDir string) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	filtered := FilterTrades(trades, ExportOptions{
		StartTime: startOfDay,
		EndTime:   startOfDay.Add(24 * time.Hour),
	})
	if len(filtered) == 0 {
		e.logger.Info("No trades for daily report", zap.Time("date", startOfDay))
		return "", nil
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))

	report := DailyReport{
		Date:            startOfDay,
		TradeCount:      len(filtered),
		Trades:          filtered,
		Summary:         Summarize(filtered),
		HourlyBreakdown: hourlyBreakdown(filtered),
	}
	if err := writeJSON(outputPath, report); err != nil {
		return "", err
	}

	e.logger.Info("📊 Daily report exported",
		zap.String("file", outputPath),
		zap.Int("trades", len(filtered)))
	return outputPath, nil
}

// FilterTrades applies the time, token, action and trigger filters.
func FilterTrades(trades []Trade, options ExportOptions) []Trade {
	var filtered []Trade
	for _, trade := range trades {
		if !options.StartTime.IsZero() && trade.Timestamp.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !trade.Timestamp.Before(options.EndTime) {
			continue
		}
		if options.TokenFilter != "" && trade.TokenMint != options.TokenFilter {
			continue
		}
		if options.ActionFilter != "" && trade.Action != options.ActionFilter {
			continue
		}
		if options.TriggerFilter != "" && trade.Trigger != options.TriggerFilter {
			continue
		}
		filtered = append(filtered, trade)
	}
	return filtered
}

// Summarize aggregates a trade list. Trades are expected in time order.
func Summarize(trades []Trade) ExportSummary {
	summary := ExportSummary{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return summary
	}
	summary.StartDate = trades[0].Timestamp
	summary.EndDate = trades[len(trades)-1].Timestamp

	tokens := make(map[string]struct{})
	for _, trade := range trades {
		tokens[trade.TokenMint] = struct{}{}

		switch trade.Action {
		case ActionBuy:
			summary.BuyCount++
			summary.TotalBuyVolume = summary.TotalBuyVolume.Add(trade.AmountSOL)
		case ActionSell:
			summary.SellCount++
			summary.TotalSellVolume = summary.TotalSellVolume.Add(trade.AmountSOL)
			summary.TotalPnL = summary.TotalPnL.Add(trade.PnL)
			if trade.PnL.IsPositive() {
				summary.WinCount++
			} else if trade.PnL.IsNegative() {
				summary.LossCount++
			}
			if trade.Trigger != "" {
				if summary.ByTrigger == nil {
					summary.ByTrigger = make(map[string]int)
				}
				summary.ByTrigger[trade.Trigger]++
			}
		}
	}
	summary.UniqueTokens = len(tokens)

	if summary.SellCount > 0 {
		sells := decimal.NewFromInt(int64(summary.SellCount))
		summary.WinRate = decimal.NewFromInt(int64(summary.WinCount)).Div(sells).Mul(hundred)
		summary.AvgPnL = summary.TotalPnL.Div(sells)
	}
	return summary
}

func (e *Exporter) filename(options ExportOptions) string {
	prefix := "trades_all"
	if options.ActionFilter != "" {
		prefix = "trades_" + options.ActionFilter
	}
	if options.TriggerFilter != "" {
		prefix += "_" + options.TriggerFilter
	}
	if token := options.TokenFilter; token != "" {
		if len(token) > 8 {
			token = token[:8]
		}
		prefix += "_" + token
	}
	return fmt.Sprintf("%s_%s.%s", prefix, e.now().Format("20060102_150405"), options.Format)
}

func hourlyBreakdown(trades []Trade) []HourlyStats {
	byHour := make(map[int]*HourlyStats)
	for _, trade := range trades {
		hour := trade.Timestamp.Hour()
		stats, ok := byHour[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour}
			byHour[hour] = stats
		}
		stats.TradeCount++
		stats.Volume = stats.Volume.Add(trade.AmountSOL)
		switch trade.Action {
		case ActionBuy:
			stats.BuyCount++
		case ActionSell:
			stats.SellCount++
			stats.PnL = stats.PnL.Add(trade.PnL)
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := byHour[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}

func writeCSV(trades []Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for i := range trades {
		if err := writer.Write(trades[i].ToCSV()); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeJSON(outputPath string, v interface{}) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
