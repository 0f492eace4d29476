// internal/notify/webhook.go
package notify

import (
	"context"
	"fmt"
	"time"

	dwh "github.com/nat-echlin/dwhooks"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/events"
)

const (
	ColourOpenPosition   = 65280    // #00FF00 (green)
	ColourClosePosition  = 16711680 // #FF0000 (red)
	ColourReducePosition = 16753920 // #FFA500 (orange)
	ColourError          = 8388608  // #800000 (dark red)

	defaultUsername = "Sniper"
	defaultTimeout  = 10 * time.Second
	tokenURLPrefix  = "https://pump.fun/coin/"
)

// Config configures the webhook notifier.
type Config struct {
	WebhookURL string
	Username   string
	AvatarURL  string
	// Timeout bounds each delivery. Defaults to 10s.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Webhook posts position lifecycle events as embeds to a Discord-compatible
// webhook. It implements events.Handler.
type Webhook struct {
	url       string
	username  string
	avatarURL string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewWebhook creates a notifier. An empty URL is an error; callers skip
// the notifier when no webhook is configured.
func NewWebhook(cfg Config) (*Webhook, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Username == "" {
		cfg.Username = defaultUsername
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Webhook{
		url:       cfg.WebhookURL,
		username:  cfg.Username,
		avatarURL: cfg.AvatarURL,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.Named("notify"),
	}, nil
}

// Handle sends a notification for the events worth a ping and ignores the
// rest.
func (w *Webhook) Handle(_ context.Context, event events.Event) error {
	n, ok := notificationFor(event)
	if !ok {
		return nil
	}

	emb := dwh.NewEmbed()
	emb.SetTitle(n.title)
	emb.SetDescription(n.description)
	emb.SetColour(n.colour)
	emb.SetTimestamp(event.Timestamp().Unix())
	if n.url != "" {
		n.add("Chart", n.url, false)
	}
	for _, f := range n.fields {
		emb.AddField(f.name, f.value, f.inline)
	}

	msg := dwh.NewMessage("")
	msg.SetUsername(w.username)
	if w.avatarURL != "" {
		msg.SetAvatarURL(w.avatarURL)
	}
	msg.AddEmbed(emb)

	hook := dwh.NewWebhook(w.url)
	hook.Client.Timeout = w.timeout
	status, err := hook.Send(msg)
	if err != nil || status < 200 || status > 299 {
		w.logger.Warn("Failed to send webhook notification",
			zap.String("event", string(event.Type())),
			zap.Int("status", status),
			zap.Error(err))
		return fmt.Errorf("webhook status: %d, err: %v", status, err)
	}

	w.logger.Debug("Webhook notification sent", zap.String("event", string(event.Type())))
	return nil
}

type field struct {
	name   string
	value  string
	inline bool
}

type notification struct {
	title       string
	description string
	url         string
	colour      int
	fields      []field
}

func (n *notification) add(name, value string, inline bool) {
	if value == "" {
		return
	}
	n.fields = append(n.fields, field{name: name, value: value, inline: inline})
}

func notificationFor(event events.Event) (notification, bool) {
	var n notification

	switch e := event.(type) {
	case events.PositionOpenedEvent:
		n.title = "Position Opened"
		n.colour = ColourOpenPosition
		n.description = fmt.Sprintf("Bought %s SOL of %s", e.EntryNotional, label(e.Name, e.Symbol, e.TokenID))
		n.url = tokenURLPrefix + e.TokenID
		n.add("Mint", e.TokenID, false)
		n.add("Platform", e.Platform, true)
		if e.EntryPrice.IsPositive() {
			n.add("Entry Price", e.EntryPrice.String(), true)
		}
		n.add("Signature", e.Signature, false)

	case events.TriggerSucceededEvent:
		if e.RemainingPercent.IsZero() {
			n.title = "Position Closed"
			n.colour = ColourClosePosition
		} else {
			n.title = "Partial Profit Taken"
			n.colour = ColourReducePosition
		}
		n.description = fmt.Sprintf("%s sold %s%% at %sx", label("", e.Symbol, e.TokenID),
			e.Percent.StringFixed(0), e.Multiplier.StringFixed(2))
		n.url = tokenURLPrefix + e.TokenID
		n.add("Trigger", string(e.Trigger), true)
		n.add("PnL (SOL)", e.SoldNotional.Mul(e.Multiplier.Sub(decimal.NewFromInt(1))).StringFixed(4), true)
		n.add("Remaining", e.RemainingPercent.StringFixed(0)+"%", true)
		n.add("Hold Time", e.HoldTime.Round(time.Second).String(), true)
		n.add("Signature", e.Signature, false)

	case events.PositionDroppedEvent:
		n.title = "Position Dropped"
		n.colour = ColourClosePosition
		n.description = fmt.Sprintf("%s written off without a sell", e.TokenID)
		n.url = tokenURLPrefix + e.TokenID
		n.add("Reason", truncate(e.Reason, 1000), false)

	case events.TriggerFailedEvent:
		n.title = "Sell Failed"
		n.colour = ColourError
		n.description = fmt.Sprintf("%s %s sell of %s%% failed, retrying next tick",
			e.TokenID, e.Trigger, e.Percent.StringFixed(0))
		n.add("Multiplier", e.Multiplier.StringFixed(2)+"x", true)
		n.add("Reason", truncate(e.Reason, 1000), false)

	case events.EntryFailedEvent:
		n.title = "Buy Failed"
		n.colour = ColourError
		n.description = label(e.Name, "", e.TokenID)
		n.add("Mint", e.TokenID, false)
		n.add("Reason", truncate(e.Reason, 1000), false)

	case events.InvariantViolatedEvent:
		n.title = "Invariant Violated"
		n.colour = ColourError
		n.description = truncate(e.Detail, 2000)
		n.add("Mint", e.TokenID, false)

	default:
		return n, false
	}

	return n, true
}

func label(name, symbol, tokenID string) string {
	switch {
	case name != "" && symbol != "":
		return fmt.Sprintf("%s (%s)", name, symbol)
	case name != "":
		return name
	case symbol != "":
		return symbol
	}
	return tokenID
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
