package entry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-sniper/internal/discovery"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/price"
	"github.com/rovshanmuradov/solana-sniper/internal/trade"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeBuyer struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
	started chan struct{}
	onBuy   func()
}

func (f *fakeBuyer) Buy(ctx context.Context, tokenID string, notional decimal.Decimal) (trade.Fill, error) {
	n := f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return trade.Fill{}, &trade.Error{Action: trade.ActionBuy, TokenID: tokenID, Reason: trade.ReasonTimeout, Err: ctx.Err()}
		}
	}
	if f.onBuy != nil {
		f.onBuy()
	}
	if f.err != nil {
		return trade.Fill{}, f.err
	}
	return trade.Fill{TokenID: tokenID, Action: trade.ActionBuy, Amount: notional, Signature: fmt.Sprintf("buy-%d", n)}, nil
}

type fakeOracle struct {
	reading price.Reading
	err     error
	calls   atomic.Int32
}

func (f *fakeOracle) FetchPrice(context.Context, string) (price.Reading, error) {
	f.calls.Add(1)
	return f.reading, f.err
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration
}

func (f *fakeScheduler) TriggerAfter(tokenID string, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tokenID)
	f.delay = delay
}

type bridgeHarness struct {
	bridge    *Bridge
	store     *position.Store
	buyer     *fakeBuyer
	oracle    *fakeOracle
	scheduler *fakeScheduler
	recorder  *events.Recorder
}

func newBridgeHarness(t *testing.T, mutate func(*Config)) *bridgeHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &bridgeHarness{
		store:     position.NewStore(d("2"), logger),
		buyer:     &fakeBuyer{},
		oracle:    &fakeOracle{reading: price.Reading{Price: d("0.0000001")}},
		scheduler: &fakeScheduler{},
		recorder:  &events.Recorder{},
	}
	cfg := Config{
		SolUSDPrice:     d("200"),
		BuyNotional:     d("0.1"),
		FirstCheckDelay: 5 * time.Second,
		TradeTimeout:    time.Second,
		PriceTimeout:    time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	var err error
	h.bridge, err = NewBridge(cfg, Options{
		Store:     h.store,
		Buyer:     h.buyer,
		Oracle:    h.oracle,
		Scheduler: h.scheduler,
		Emitter:   h.recorder,
		Logger:    logger,
	})
	require.NoError(t, err)
	return h
}

func token(id string) discovery.TokenEvent {
	return discovery.TokenEvent{TokenID: id, Name: "Moon Dog", Symbol: "MDOG", Platform: discovery.PlatformPumpFun}
}

func TestNewBridge_Validation(t *testing.T) {
	store := position.NewStore(d("2"), zaptest.NewLogger(t))
	_, err := NewBridge(Config{BuyNotional: d("0.1")}, Options{Store: store})
	assert.Error(t, err)
	_, err = NewBridge(Config{}, Options{Store: store, Buyer: &fakeBuyer{}})
	assert.Error(t, err)
	_, err = NewBridge(Config{BuyNotional: d("0.1"), MinMarketCapUSD: d("-1")}, Options{Store: store, Buyer: &fakeBuyer{}})
	assert.Error(t, err)
}

func TestBridge_OpensPosition(t *testing.T) {
	h := newBridgeHarness(t, nil)

	res := h.bridge.Handle(context.Background(), token("MintA"))
	require.Equal(t, ActionOpened, res.Action, res.Reason)

	pos, err := h.store.Get("MintA")
	require.NoError(t, err)
	assert.Equal(t, "Moon Dog", pos.DisplayName)
	assert.Equal(t, "MDOG", pos.Symbol)
	assert.Equal(t, discovery.PlatformPumpFun, pos.Platform)
	assert.True(t, pos.EntryNotional.Equal(d("0.1")))
	assert.True(t, pos.EntryPrice.Equal(d("0.0000001")))
	assert.Equal(t, "buy-1", pos.BuySignature)

	opened := h.recorder.OfType(events.PositionOpened)
	require.Len(t, opened, 1)
	assert.Equal(t, "MintA", opened[0].(events.PositionOpenedEvent).TokenID)

	assert.Equal(t, []string{"MintA"}, h.scheduler.calls)
	assert.Equal(t, 5*time.Second, h.scheduler.delay)
}

func TestBridge_EntryPriceBackfilledLater(t *testing.T) {
	h := newBridgeHarness(t, nil)
	h.oracle.err = price.ErrPriceUnavailable

	res := h.bridge.Handle(context.Background(), token("MintA"))
	require.Equal(t, ActionOpened, res.Action)
	assert.False(t, res.Position.HasEntryPrice())
}

func TestBridge_Filters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		event  discovery.TokenEvent
		want   Action
	}{
		{
			name:   "platform disabled",
			mutate: func(c *Config) { c.AcceptPlatform = func(p string) bool { return p == discovery.PlatformLetsBonk } },
			event:  token("M1"),
			want:   ActionSkipped,
		},
		{
			name:   "platform enabled",
			mutate: func(c *Config) { c.AcceptPlatform = func(p string) bool { return p == discovery.PlatformPumpFun } },
			event:  token("M2"),
			want:   ActionOpened,
		},
		{
			name: "keyword matches name case-insensitively",
			mutate: func(c *Config) {
				c.KeywordFilterEnabled = true
				c.Keywords = []string{" cat", "DOG "}
			},
			event: token("M3"),
			want:  ActionOpened,
		},
		{
			name: "keyword matches symbol",
			mutate: func(c *Config) {
				c.KeywordFilterEnabled = true
				c.Keywords = []string{"mdo"}
			},
			event: discovery.TokenEvent{TokenID: "M4", Name: "Nothing", Symbol: "MDOG"},
			want:  ActionOpened,
		},
		{
			name: "no keyword match",
			mutate: func(c *Config) {
				c.KeywordFilterEnabled = true
				c.Keywords = []string{"cat", "frog"}
			},
			event: token("M5"),
			want:  ActionSkipped,
		},
		{
			name: "keyword filter disabled ignores list",
			mutate: func(c *Config) {
				c.Keywords = []string{"cat"}
			},
			event: token("M6"),
			want:  ActionOpened,
		},
		{
			name: "empty keyword list accepts all",
			mutate: func(c *Config) {
				c.KeywordFilterEnabled = true
			},
			event: token("M7"),
			want:  ActionOpened,
		},
		{
			name:   "missing token id",
			event:  discovery.TokenEvent{Name: "x"},
			want:   ActionSkipped,
			mutate: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newBridgeHarness(t, tt.mutate)
			res := h.bridge.Handle(context.Background(), tt.event)
			assert.Equal(t, tt.want, res.Action, res.Reason)
			if tt.want == ActionSkipped {
				assert.Zero(t, h.buyer.calls.Load())
				assert.Len(t, h.recorder.OfType(events.EntrySkipped), 1)
			}
		})
	}
}

func TestBridge_MarketCapFilter(t *testing.T) {
	withMin := func(c *Config) { c.MinMarketCapUSD = d("10000") }

	t.Run("usd from event", func(t *testing.T) {
		h := newBridgeHarness(t, withMin)
		ev := token("M1")
		ev.MarketCapUSD = decimal.NewNullDecimal(d("12000"))
		assert.Equal(t, ActionOpened, h.bridge.Handle(context.Background(), ev).Action)
	})

	t.Run("sol converted at configured price", func(t *testing.T) {
		h := newBridgeHarness(t, withMin)
		ev := token("M2")
		ev.MarketCapSol = decimal.NewNullDecimal(d("40")) // $8000
		res := h.bridge.Handle(context.Background(), ev)
		assert.Equal(t, ActionSkipped, res.Action)
		assert.Contains(t, res.Reason, "below")
	})

	t.Run("oracle fallback", func(t *testing.T) {
		h := newBridgeHarness(t, withMin)
		h.oracle.reading.MarketCapUSD = decimal.NewNullDecimal(d("25000"))
		assert.Equal(t, ActionOpened, h.bridge.Handle(context.Background(), token("M3")).Action)
	})

	t.Run("unknown market cap skips", func(t *testing.T) {
		h := newBridgeHarness(t, withMin)
		res := h.bridge.Handle(context.Background(), token("M4"))
		assert.Equal(t, ActionSkipped, res.Action)
		assert.Equal(t, "market cap unknown", res.Reason)
		assert.Zero(t, h.buyer.calls.Load())
	})

	t.Run("no filter never looks up", func(t *testing.T) {
		h := newBridgeHarness(t, nil)
		h.oracle.err = errors.New("down")
		assert.Equal(t, ActionOpened, h.bridge.Handle(context.Background(), token("M5")).Action)
		assert.Equal(t, int32(1), h.oracle.calls.Load()) // entry price only
	})
}

func TestBridge_BuyFailure(t *testing.T) {
	h := newBridgeHarness(t, nil)
	h.buyer.err = &trade.Error{Action: trade.ActionBuy, TokenID: "MintA", Reason: trade.ReasonRejected, Err: errors.New("insufficient funds")}

	res := h.bridge.Handle(context.Background(), token("MintA"))
	assert.Equal(t, ActionFailed, res.Action)
	assert.Contains(t, res.Reason, "rejected")

	_, err := h.store.Get("MintA")
	assert.ErrorIs(t, err, position.ErrPositionNotFound)

	failed := h.recorder.OfType(events.EntryFailed)
	require.Len(t, failed, 1)
	assert.Empty(t, h.scheduler.calls)

	// no retry
	assert.Equal(t, int32(1), h.buyer.calls.Load())
}

func TestBridge_SkipsHeldToken(t *testing.T) {
	h := newBridgeHarness(t, nil)
	require.Equal(t, ActionOpened, h.bridge.Handle(context.Background(), token("MintA")).Action)

	res := h.bridge.Handle(context.Background(), token("MintA"))
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Equal(t, int32(1), h.buyer.calls.Load())
}

func TestBridge_ConcurrentNotificationsCreateOnePosition(t *testing.T) {
	h := newBridgeHarness(t, nil)
	h.buyer.release = make(chan struct{})
	h.buyer.started = make(chan struct{}, 2)

	results := make(chan Result, 2)
	go func() { results <- h.bridge.Handle(context.Background(), token("MintA")) }()
	<-h.buyer.started

	go func() { results <- h.bridge.Handle(context.Background(), token("MintA")) }()
	second := <-results
	assert.Equal(t, ActionSkipped, second.Action)

	close(h.buyer.release)
	first := <-results
	assert.Equal(t, ActionOpened, first.Action)

	assert.Equal(t, int32(1), h.buyer.calls.Load())
	assert.Equal(t, 1, h.store.Len())
	assert.Len(t, h.recorder.OfType(events.PositionOpened), 1)
}

func TestBridge_DuplicateCreateIsReported(t *testing.T) {
	h := newBridgeHarness(t, nil)
	h.buyer.onBuy = func() {
		_, err := h.store.Create(position.Opening{TokenID: "MintA", DisplayName: "racer", EntryNotional: d("0.1")})
		require.NoError(t, err)
	}

	res := h.bridge.Handle(context.Background(), token("MintA"))
	assert.Equal(t, ActionFailed, res.Action)
	assert.Equal(t, "buy-1", res.Fill.Signature)

	violations := h.recorder.OfType(events.InvariantViolated)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].(events.InvariantViolatedEvent).Detail, "MintA")

	pos, err := h.store.Get("MintA")
	require.NoError(t, err)
	assert.Equal(t, "racer", pos.DisplayName)
	assert.Empty(t, h.recorder.OfType(events.PositionOpened))
}

func TestBridge_BuyTimeout(t *testing.T) {
	h := newBridgeHarness(t, func(c *Config) { c.TradeTimeout = 20 * time.Millisecond })
	h.buyer.release = make(chan struct{})

	res := h.bridge.Handle(context.Background(), token("MintA"))
	assert.Equal(t, ActionFailed, res.Action)
	assert.Contains(t, res.Reason, "timeout")
}
