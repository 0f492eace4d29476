// internal/blockchain/solbc/errors.go
package solbc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrConfirmationTimeout is returned when a signature never reached
	// confirmed commitment within the allotted time.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrTransactionFailed is returned when the transaction landed with an error.
	ErrTransactionFailed = errors.New("transaction failed on chain")
	// ErrAccountNotFound is returned when the requested account does not exist.
	ErrAccountNotFound = errors.New("account not found")
)

// NodeError ties an RPC failure to the node and method that produced it.
type NodeError struct {
	Err     error
	NodeURL string
	Method  string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// IsRetryableError reports whether the failure looks like a transport or
// throttling problem rather than a rejected transaction.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoActiveNodes) {
		return true
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		// -32005 node is behind, 429 rate limited
		return rpcErr.Code == -32005 || rpcErr.Code == 429
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "timeout")
}

// DescribeError flattens an RPC error into a single line, pulling the Anchor
// error out of simulation logs when present.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return err.Error()
	}

	desc := fmt.Sprintf("rpc %d: %s", rpcErr.Code, rpcErr.Message)
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return desc
	}
	logs, _ := data["logs"].([]interface{})
	for _, entry := range logs {
		line, ok := entry.(string)
		if !ok || !strings.Contains(line, "AnchorError occurred") {
			continue
		}
		if name := between(line, "Error Code:", "."); name != "" {
			desc += " (" + name
			if msg := between(line, "Error Message:", "."); msg != "" {
				desc += ": " + msg
			}
			desc += ")"
		}
		break
	}
	return desc
}

func between(s, prefix, terminator string) string {
	idx := strings.Index(s, prefix)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(prefix):]
	if end := strings.Index(rest, terminator); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
