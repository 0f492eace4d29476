package solbc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// rpcServer answers JSON-RPC calls from a per-method result function.
func rpcServer(t *testing.T, results map[string]func() (interface{}, *jsonrpc.RPCError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fn, ok := results[req.Method]
		if !ok {
			http.Error(w, "unknown method "+req.Method, http.StatusNotFound)
			return
		}
		result, rpcErr := fn()
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signedTx(t *testing.T) *solana.Transaction {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	payer := key.PublicKey()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(
			solana.SystemProgramID,
			solana.AccountMetaSlice{solana.Meta(payer).WRITE().SIGNER()},
			[]byte{2, 0, 0, 0},
		)},
		solana.Hash{},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(payer) {
			return &key
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

func statusResult(status string, txErr interface{}) func() (interface{}, *jsonrpc.RPCError) {
	return func() (interface{}, *jsonrpc.RPCError) {
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value": []interface{}{map[string]interface{}{
				"slot":               1,
				"confirmations":      nil,
				"err":                txErr,
				"confirmationStatus": status,
			}},
		}, nil
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(nil, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestClient_SendTransaction(t *testing.T) {
	tx := signedTx(t)
	srv := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"sendTransaction": func() (interface{}, *jsonrpc.RPCError) {
			return tx.Signatures[0].String(), nil
		},
	})

	c, err := NewClient([]string{srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	sig, err := c.SendTransaction(context.Background(), tx, SendOptions{SkipPreflight: true, MaxRetries: 3})
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)

	stats := c.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(1), stats[0].Successes)
}

func TestClient_SendTransactionFailsOver(t *testing.T) {
	tx := signedTx(t)
	var badCalls int32
	bad := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"sendTransaction": func() (interface{}, *jsonrpc.RPCError) {
			atomic.AddInt32(&badCalls, 1)
			return nil, &jsonrpc.RPCError{Code: 429, Message: "Too many requests"}
		},
	})
	good := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"sendTransaction": func() (interface{}, *jsonrpc.RPCError) {
			return tx.Signatures[0].String(), nil
		},
	})

	c, err := NewClient([]string{bad.URL, good.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	sig, err := c.SendTransaction(context.Background(), tx, SendOptions{SkipPreflight: true})
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)
	assert.Equal(t, int32(1), atomic.LoadInt32(&badCalls))
	assert.False(t, c.Stats()[0].Active)
}

func TestClient_SendTransactionRejected(t *testing.T) {
	tx := signedTx(t)
	srv := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"sendTransaction": func() (interface{}, *jsonrpc.RPCError) {
			return nil, &jsonrpc.RPCError{
				Code:    -32002,
				Message: "Transaction simulation failed",
				Data: map[string]interface{}{"logs": []interface{}{
					"Program log: AnchorError occurred. Error Code: TooMuchSolRequired. Error Number: 6002. Error Message: slippage exceeded.",
				}},
			}
		},
	})

	c, err := NewClient([]string{srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = c.SendTransaction(context.Background(), tx, SendOptions{})
	require.Error(t, err)
	assert.False(t, IsRetryableError(err))

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "sendTransaction", nodeErr.Method)
	assert.Contains(t, DescribeError(err), "TooMuchSolRequired: slippage exceeded")
}

func TestClient_WaitForConfirmation(t *testing.T) {
	var polls int32
	srv := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"getSignatureStatuses": func() (interface{}, *jsonrpc.RPCError) {
			if atomic.AddInt32(&polls, 1) < 3 {
				return statusResult("processed", nil)()
			}
			return statusResult("confirmed", nil)()
		},
	})

	c, err := NewClient([]string{srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	c.pollInterval = 5 * time.Millisecond

	require.NoError(t, c.WaitForConfirmation(context.Background(), solana.Signature{1}, time.Second))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestClient_WaitForConfirmationFailedTx(t *testing.T) {
	srv := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"getSignatureStatuses": statusResult("confirmed", map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}),
	})

	c, err := NewClient([]string{srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	c.pollInterval = 5 * time.Millisecond

	err = c.WaitForConfirmation(context.Background(), solana.Signature{1}, time.Second)
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestClient_WaitForConfirmationTimeout(t *testing.T) {
	srv := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"getSignatureStatuses": func() (interface{}, *jsonrpc.RPCError) {
			return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": []interface{}{nil}}, nil
		},
	})

	c, err := NewClient([]string{srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	c.pollInterval = 5 * time.Millisecond

	err = c.WaitForConfirmation(context.Background(), solana.Signature{1}, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
}

func TestClient_GetBalance(t *testing.T) {
	srv := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"getBalance": func() (interface{}, *jsonrpc.RPCError) {
			return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": 1_500_000_000}, nil
		},
	})

	c, err := NewClient([]string{srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	balance, err := c.GetBalance(context.Background(), solana.PublicKey{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), balance)
}

func TestClient_GetAccountData(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5}
	srv := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"getAccountInfo": func() (interface{}, *jsonrpc.RPCError) {
			return map[string]interface{}{
				"context": map[string]interface{}{"slot": 1},
				"value": map[string]interface{}{
					"data":       []string{base64.StdEncoding.EncodeToString(raw), "base64"},
					"executable": false,
					"lamports":   1_000_000,
					"owner":      solana.SystemProgramID.String(),
					"rentEpoch":  0,
				},
			}, nil
		},
	})

	c, err := NewClient([]string{srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	data, err := c.GetAccountData(context.Background(), solana.PublicKey{})
	require.NoError(t, err)
	assert.Equal(t, raw, data)
}

func TestClient_GetAccountDataMissing(t *testing.T) {
	srv := rpcServer(t, map[string]func() (interface{}, *jsonrpc.RPCError){
		"getAccountInfo": func() (interface{}, *jsonrpc.RPCError) {
			return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": nil}, nil
		},
	})

	c, err := NewClient([]string{srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = c.GetAccountData(context.Background(), solana.PublicKey{})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{fmt.Errorf("wrapped: %w", ErrNoActiveNodes), true},
		{&jsonrpc.RPCError{Code: -32005, Message: "node is behind"}, true},
		{&jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed"}, false},
		{errors.New("blockhash not found"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}
