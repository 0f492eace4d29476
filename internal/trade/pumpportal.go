// internal/trade/pumpportal.go
package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-sniper/internal/wallet"
)

const (
	PumpPortalTradeURL = "https://pumpportal.fun/api/trade-local"

	defaultRequestTimeout = 20 * time.Second
	defaultSendElapsed    = 15 * time.Second
	defaultConfirmTimeout = 30 * time.Second
)

// Broadcaster sends signed transactions and waits for them to land.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts solbc.SendOptions) (solana.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error
}

// PumpPortalConfig configures the PumpPortal local-transaction executor.
type PumpPortalConfig struct {
	TradeURL    string
	Wallet      *wallet.Wallet
	Broadcaster Broadcaster
	Logger      *zap.Logger

	// Slippage is in percent.
	Slippage decimal.Decimal
	// PriorityFee is in SOL.
	PriorityFee decimal.Decimal
	Pool        string

	RequestTimeout time.Duration
	ConfirmTimeout time.Duration
	// SendMaxElapsed bounds the retry window for broadcasting.
	SendMaxElapsed time.Duration
}

// PumpPortal builds transactions through PumpPortal's trade-local API, signs
// them locally and broadcasts them over RPC.
type PumpPortal struct {
	cfg    PumpPortalConfig
	http   *http.Client
	logger *zap.Logger
}

// NewPumpPortal creates the executor.
func NewPumpPortal(cfg PumpPortalConfig) (*PumpPortal, error) {
	if cfg.Wallet == nil {
		return nil, errors.New("wallet is required")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TradeURL == "" {
		cfg.TradeURL = PumpPortalTradeURL
	}
	if cfg.Pool == "" {
		cfg.Pool = "pump"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.SendMaxElapsed <= 0 {
		cfg.SendMaxElapsed = defaultSendElapsed
	}

	return &PumpPortal{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: cfg.Logger.Named("pumpportal"),
	}, nil
}

// tradeRequest is the trade-local request body.
type tradeRequest struct {
	PublicKey        string      `json:"publicKey"`
	Action           Action      `json:"action"`
	Mint             string      `json:"mint"`
	Amount           interface{} `json:"amount"`
	DenominatedInSol string      `json:"denominatedInSol"`
	Slippage         float64     `json:"slippage"`
	PriorityFee      float64     `json:"priorityFee"`
	Pool             string      `json:"pool"`
}

// Buy implements Executor.
func (p *PumpPortal) Buy(ctx context.Context, tokenID string, notional decimal.Decimal) (Fill, error) {
	if tokenID == "" || !notional.IsPositive() {
		return Fill{}, &Error{Action: ActionBuy, TokenID: tokenID, Reason: ReasonInvalidRequest,
			Err: fmt.Errorf("invalid buy amount %s", notional)}
	}
	return p.execute(ctx, ActionBuy, tokenID, notional, tradeRequest{
		Amount:           notional.InexactFloat64(),
		DenominatedInSol: "true",
	})
}

// Sell implements Executor. Percent is relative to the current holding.
func (p *PumpPortal) Sell(ctx context.Context, tokenID string, percent decimal.Decimal) (Fill, error) {
	if tokenID == "" || !percent.IsPositive() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return Fill{}, &Error{Action: ActionSell, TokenID: tokenID, Reason: ReasonInvalidRequest,
			Err: fmt.Errorf("invalid sell percent %s", percent)}
	}
	return p.execute(ctx, ActionSell, tokenID, percent, tradeRequest{
		Amount:           percent.String() + "%",
		DenominatedInSol: "false",
	})
}

func (p *PumpPortal) execute(ctx context.Context, action Action, tokenID string, amount decimal.Decimal, req tradeRequest) (Fill, error) {
	start := time.Now()
	fail := func(reason Reason, err error) (Fill, error) {
		if ctx.Err() != nil && reason != ReasonRejected {
			reason = ReasonTimeout
		}
		p.logger.Warn("Trade failed",
			zap.String("action", string(action)),
			zap.String("token", tokenID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return Fill{}, &Error{Action: action, TokenID: tokenID, Reason: reason, Err: err}
	}

	req.PublicKey = p.cfg.Wallet.PublicKey.String()
	req.Action = action
	req.Mint = tokenID
	req.Slippage = p.cfg.Slippage.InexactFloat64()
	req.PriorityFee = p.cfg.PriorityFee.InexactFloat64()
	req.Pool = p.cfg.Pool

	raw, reason, err := p.requestTransaction(ctx, req)
	if err != nil {
		return fail(reason, err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return fail(ReasonDecode, fmt.Errorf("failed to decode transaction: %w", err))
	}

	tx.Signatures = nil
	if err := p.cfg.Wallet.SignTransaction(tx); err != nil {
		return fail(ReasonSign, err)
	}

	sig, err := p.broadcast(ctx, tx)
	if err != nil {
		return fail(ReasonSend, err)
	}

	if err := p.cfg.Broadcaster.WaitForConfirmation(ctx, sig, p.cfg.ConfirmTimeout); err != nil {
		return fail(ReasonConfirm, fmt.Errorf("transaction %s not confirmed: %w", sig, err))
	}

	fill := Fill{
		TokenID:   tokenID,
		Action:    action,
		Amount:    amount,
		Signature: sig.String(),
		Duration:  time.Since(start),
	}
	p.logger.Info("Trade confirmed",
		zap.String("action", string(action)),
		zap.String("token", tokenID),
		zap.String("amount", amount.String()),
		zap.String("signature", fill.Signature),
		zap.Duration("duration", fill.Duration))
	return fill, nil
}

// requestTransaction asks PumpPortal for a serialized, unsigned transaction.
func (p *PumpPortal) requestTransaction(ctx context.Context, body tradeRequest) ([]byte, Reason, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, ReasonInvalidRequest, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TradeURL, bytes.NewReader(payload))
	if err != nil {
		return nil, ReasonInvalidRequest, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, ReasonTransport, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ReasonTransport, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ReasonRejected, fmt.Errorf("unexpected status code: %d, body: %s",
			resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(raw) == 0 {
		return nil, ReasonDecode, errors.New("empty transaction payload")
	}
	return raw, "", nil
}

// broadcast sends the signed transaction, retrying transport failures.
// The signature is fixed, so a resend cannot double-execute.
func (p *PumpPortal) broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	op := func() (solana.Signature, error) {
		sig, err := p.cfg.Broadcaster.SendTransaction(ctx, tx, solbc.SendOptions{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentConfirmed,
			MaxRetries:          3,
		})
		if err != nil {
			if solbc.IsRetryableError(err) {
				return solana.Signature{}, err
			}
			return solana.Signature{}, backoff.Permanent(fmt.Errorf("transaction rejected: %w", err))
		}
		return sig, nil
	}

	notify := func(err error, d time.Duration) {
		p.logger.Debug("Retrying send", zap.Error(err), zap.Duration("backoff", d))
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(p.cfg.SendMaxElapsed),
		backoff.WithNotify(notify))
}
