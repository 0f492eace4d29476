// internal/history/trade.go
package history

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// Trade is one journal row.
type Trade struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	WalletAddr  string          `json:"wallet_addr"`
	TokenMint   string          `json:"token_mint"`
	TokenSymbol string          `json:"token_symbol"`
	Platform    string          `json:"platform,omitempty"`
	Action      string          `json:"action"`
	AmountSOL   decimal.Decimal `json:"amount_sol"`
	Percent     decimal.Decimal `json:"percent"`
	Price       decimal.Decimal `json:"price"`
	TxSignature string          `json:"tx_signature"`

	// For sells only
	Trigger    string          `json:"trigger,omitempty"`
	EntryPrice decimal.Decimal `json:"entry_price,omitempty"`
	ExitPrice  decimal.Decimal `json:"exit_price,omitempty"`
	Multiplier decimal.Decimal `json:"multiplier,omitempty"`
	PnL        decimal.Decimal `json:"pnl,omitempty"`
	PnLPercent decimal.Decimal `json:"pnl_percent,omitempty"`
	HoldTime   string          `json:"hold_time,omitempty"`
}

// ToCSV converts the trade to a record matching CSVHeaders.
func (t *Trade) ToCSV() []string {
	return []string{
		t.ID,
		t.Timestamp.Format(time.RFC3339),
		t.WalletAddr,
		t.TokenMint,
		t.TokenSymbol,
		t.Platform,
		t.Action,
		formatDecimal(t.AmountSOL),
		formatDecimal(t.Percent),
		formatDecimal(t.Price),
		t.TxSignature,
		t.Trigger,
		formatDecimal(t.EntryPrice),
		formatDecimal(t.ExitPrice),
		formatDecimal(t.Multiplier),
		formatDecimal(t.PnL),
		formatDecimal(t.PnLPercent),
		t.HoldTime,
	}
}

// CSVHeaders returns the header row for trade CSV files.
func CSVHeaders() []string {
	return []string{
		"id",
		"timestamp",
		"wallet_addr",
		"token_mint",
		"token_symbol",
		"platform",
		"action",
		"amount_sol",
		"percent",
		"price",
		"tx_signature",
		"trigger",
		"entry_price",
		"exit_price",
		"multiplier",
		"pnl",
		"pnl_percent",
		"hold_time",
	}
}

func formatDecimal(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

// FormatHoldTime renders a duration the way the journal shows it: 42s, 7m,
// 3h5m or 2d4h.
func FormatHoldTime(duration time.Duration) string {
	switch {
	case duration < time.Minute:
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	case duration < time.Hour:
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(duration.Hours()), int(duration.Minutes())%60)
	}
	days := int(duration.Hours() / 24)
	hours := int(duration.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
