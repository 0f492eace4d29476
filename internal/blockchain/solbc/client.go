// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	defaultPollInterval        = 500 * time.Millisecond
	defaultConfirmationTimeout = 30 * time.Second
)

// SendOptions controls how a signed transaction is broadcast.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment rpc.CommitmentType
	// MaxRetries is forwarded to the node as its own rebroadcast budget.
	MaxRetries uint
}

// Client is a thin adapter over one or more Solana RPC nodes.
type Client struct {
	pool         *pool
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewClient creates a client that rotates over the given RPC URLs.
func NewClient(rpcURLs []string, logger *zap.Logger) (*Client, error) {
	if len(rpcURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}
	return &Client{
		pool:         newPool(rpcURLs),
		logger:       logger.Named("solbc-client"),
		pollInterval: defaultPollInterval,
	}, nil
}

// do runs op against the next healthy node, failing over once per node on
// retryable errors.
func (c *Client) do(ctx context.Context, method string, op func(*rpc.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < len(c.pool.nodes); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := c.pool.pick()
		if err != nil {
			return err
		}

		start := time.Now()
		err = op(n.client)
		n.record(err == nil, time.Since(start))
		if err == nil {
			return nil
		}

		lastErr = &NodeError{Err: err, NodeURL: n.url, Method: method}
		if !IsRetryableError(err) {
			return lastErr
		}
		n.setActive(false)
		c.logger.Warn("RPC node failed, trying next",
			zap.String("method", method),
			zap.Error(lastErr))
	}
	return lastErr
}

// SendTransaction broadcasts a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error) {
	txOpts := rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: opts.PreflightCommitment,
	}
	if opts.MaxRetries > 0 {
		txOpts.MaxRetries = &opts.MaxRetries
	}

	var sig solana.Signature
	err := c.do(ctx, "sendTransaction", func(r *rpc.Client) error {
		var err error
		sig, err = r.SendTransactionWithOpts(ctx, tx, txOpts)
		return err
	})
	if err != nil {
		c.logger.Error("SendTransaction error", zap.String("detail", DescribeError(err)))
		return solana.Signature{}, err
	}
	return sig, nil
}

// WaitForConfirmation polls the signature until it reaches confirmed or
// finalized commitment. A transaction that landed with an error yields
// ErrTransactionFailed.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultConfirmationTimeout
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, sig)
		case <-ticker.C:
			var statuses *rpc.GetSignatureStatusesResult
			err := c.do(ctx, "getSignatureStatuses", func(r *rpc.Client) error {
				var err error
				statuses, err = r.GetSignatureStatuses(ctx, false, sig)
				return err
			})
			if err != nil {
				c.logger.Warn("Error getting signature statuses", zap.Error(err))
				continue
			}
			if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized ||
				status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed {
				return nil
			}
		}
	}
}

// GetBalance returns the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.do(ctx, "getBalance", func(r *rpc.Client) error {
		result, err := r.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		balance = result.Value
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// GetAccountData returns the raw data of an account at confirmed commitment.
func (c *Client) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	var data []byte
	err := c.do(ctx, "getAccountInfo", func(r *rpc.Client) error {
		info, err := r.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return err
		}
		if info == nil || info.Value == nil || info.Value.Data == nil {
			return rpc.ErrNotFound
		}
		data = info.Value.Data.GetBinary()
		return nil
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, pubkey)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Stats returns per-node counters.
func (c *Client) Stats() []NodeStats {
	return c.pool.stats()
}
