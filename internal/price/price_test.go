package price

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc"
)

func TestPumpFunOracle_FetchPrice(t *testing.T) {
	var gotPath, gotOrigin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOrigin = r.Header.Get("Origin")
		fmt.Fprint(w, `{"mint":"Mint1","virtual_sol_reserves":30000000000,"virtual_token_reserves":1000000000000000,"usd_market_cap":6000.5,"complete":false}`)
	}))
	defer srv.Close()

	o := NewPumpFunOracle(ClientConfig{BaseURL: srv.URL})
	reading, err := o.FetchPrice(context.Background(), "Mint1")
	require.NoError(t, err)

	assert.Equal(t, "/coins/Mint1", gotPath)
	assert.Equal(t, "https://pump.fun", gotOrigin)
	assert.True(t, reading.Price.Equal(decimal.RequireFromString("0.00000003")), reading.Price.String())
	mc, ok := reading.MarketCap()
	require.True(t, ok)
	assert.True(t, mc.Equal(decimal.RequireFromString("6000.5")))
	assert.Equal(t, SourcePumpFun, reading.Source)
	assert.False(t, reading.Complete)
}

func TestPumpFunOracle_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "not indexed", status: http.StatusNotFound, body: `{}`},
		{name: "zero reserves", status: http.StatusOK, body: `{"virtual_sol_reserves":0,"virtual_token_reserves":100}`},
		{name: "missing reserves", status: http.StatusOK, body: `{"mint":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewPumpFunOracle(ClientConfig{BaseURL: srv.URL}).FetchPrice(context.Background(), "Mint1")
			assert.ErrorIs(t, err, ErrPriceUnavailable)
		})
	}
}

func TestPumpFunOracle_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewPumpFunOracle(ClientConfig{BaseURL: srv.URL}).FetchPrice(context.Background(), "Mint1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPriceUnavailable)
	assert.Contains(t, err.Error(), "502")
}

func TestPumpFunOracle_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	o := NewPumpFunOracle(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := o.FetchPrice(context.Background(), "Mint1")
	require.Error(t, err)
}

func TestDexScreenerOracle_FetchPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/Mint2", r.URL.Path)
		fmt.Fprint(w, `{"schemaVersion":"1.0.0","pairs":[{"dexId":"raydium","priceNative":"0.000123","marketCap":150000},{"priceNative":"9"}]}`)
	}))
	defer srv.Close()

	reading, err := NewDexScreenerOracle(ClientConfig{BaseURL: srv.URL}).FetchPrice(context.Background(), "Mint2")
	require.NoError(t, err)
	assert.True(t, reading.Price.Equal(decimal.RequireFromString("0.000123")))
	assert.True(t, reading.Complete)
	mc, ok := reading.MarketCap()
	require.True(t, ok)
	assert.True(t, mc.Equal(decimal.NewFromInt(150000)))
}

func TestDexScreenerOracle_NoPairs(t *testing.T) {
	for _, body := range []string{`{"pairs":[]}`, `{"pairs":null}`, `{"pairs":[{"priceNative":"abc"}]}`, `{"pairs":[{"priceNative":"0"}]}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		_, err := NewDexScreenerOracle(ClientConfig{BaseURL: srv.URL}).FetchPrice(context.Background(), "Mint2")
		assert.ErrorIs(t, err, ErrPriceUnavailable, body)
		srv.Close()
	}
}

func TestClient_RateLimiterHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pairs":[{"priceNative":"1"}]}`)
	}))
	defer srv.Close()

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	o := NewDexScreenerOracle(ClientConfig{BaseURL: srv.URL, Limiter: limiter})

	_, err := o.FetchPrice(context.Background(), "Mint2")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = o.FetchPrice(ctx, "Mint2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

type stubOracle struct {
	reading Reading
	err     error
	calls   int
}

func (s *stubOracle) FetchPrice(context.Context, string) (Reading, error) {
	s.calls++
	return s.reading, s.err
}

func TestChain_FallsBack(t *testing.T) {
	first := &stubOracle{err: fmt.Errorf("%w: not indexed", ErrPriceUnavailable)}
	second := &stubOracle{reading: Reading{Price: decimal.NewFromInt(2), Source: "second"}}
	third := &stubOracle{reading: Reading{Price: decimal.NewFromInt(3)}}

	chain := NewChain(zaptest.NewLogger(t)).Add("first", first).Add("second", second).Add("third", third)
	reading, err := chain.FetchPrice(context.Background(), "Mint")
	require.NoError(t, err)
	assert.Equal(t, "second", reading.Source)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, third.calls)
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain(zaptest.NewLogger(t)).
		Add("a", &stubOracle{err: errors.New("dial tcp: refused")}).
		Add("b", &stubOracle{err: fmt.Errorf("%w: no pairs", ErrPriceUnavailable)})

	_, err := chain.FetchPrice(context.Background(), "Mint")
	require.ErrorIs(t, err, ErrPriceUnavailable)
	assert.Contains(t, err.Error(), "a: dial tcp")
	assert.Contains(t, err.Error(), "b: price unavailable")
}

func TestChain_StopsOnCancelledContext(t *testing.T) {
	a := &stubOracle{err: errors.New("x")}
	chain := NewChain(zaptest.NewLogger(t)).Add("a", a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := chain.FetchPrice(ctx, "Mint")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.calls)
}

type accountStub struct {
	data map[solana.PublicKey][]byte
	err  error
}

func (s *accountStub) GetAccountData(_ context.Context, pubkey solana.PublicKey) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.data[pubkey]
	if !ok {
		return nil, solbc.ErrAccountNotFound
	}
	return data, nil
}

func encodeCurve(t *testing.T, state BondingCurveState) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(bondingCurveDiscriminator)
	require.NoError(t, bin.NewBorshEncoder(&buf).Encode(state))
	return buf.Bytes()
}

func TestBondingCurveOracle_FetchPrice(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	curve, err := BondingCurveAddress(mint, PumpFunProgramID)
	require.NoError(t, err)

	stub := &accountStub{data: map[solana.PublicKey][]byte{
		curve: encodeCurve(t, BondingCurveState{
			VirtualTokenReserves: 1_000_000_000_000_000,
			VirtualSolReserves:   30_000_000_000,
			TokenTotalSupply:     1_000_000_000_000_000,
		}),
	}}

	o := NewBondingCurveOracle(stub, decimal.NewFromInt(200))
	reading, err := o.FetchPrice(context.Background(), mint.String())
	require.NoError(t, err)

	assert.True(t, reading.Price.Equal(decimal.RequireFromString("0.00000003")), reading.Price.String())
	assert.Equal(t, SourceBondingCurve, reading.Source)
	mc, ok := reading.MarketCap()
	require.True(t, ok)
	assert.True(t, mc.Equal(decimal.NewFromInt(6000)), mc.String())
}

func TestBondingCurveOracle_Unavailable(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	curve, err := BondingCurveAddress(mint, PumpFunProgramID)
	require.NoError(t, err)

	t.Run("no account", func(t *testing.T) {
		o := NewBondingCurveOracle(&accountStub{}, decimal.Zero)
		_, err := o.FetchPrice(context.Background(), mint.String())
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})

	t.Run("empty reserves", func(t *testing.T) {
		stub := &accountStub{data: map[solana.PublicKey][]byte{curve: encodeCurve(t, BondingCurveState{Complete: true})}}
		o := NewBondingCurveOracle(stub, decimal.Zero)
		_, err := o.FetchPrice(context.Background(), mint.String())
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})

	t.Run("rpc failure", func(t *testing.T) {
		o := NewBondingCurveOracle(&accountStub{err: errors.New("connection refused")}, decimal.Zero)
		_, err := o.FetchPrice(context.Background(), mint.String())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrPriceUnavailable)
	})

	t.Run("bad mint", func(t *testing.T) {
		o := NewBondingCurveOracle(&accountStub{}, decimal.Zero)
		_, err := o.FetchPrice(context.Background(), "not-a-mint")
		assert.Error(t, err)
	})
}

func TestDecodeBondingCurve_RejectsOtherAccounts(t *testing.T) {
	_, err := DecodeBondingCurve([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = DecodeBondingCurve(make([]byte, 64))
	assert.Error(t, err)
}
