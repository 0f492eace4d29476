package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Handle(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 64)

	c := &collector{}
	bus.Subscribe(PriceUpdated, c)

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(PriceUpdatedEvent{BaseEvent: NewBase(PriceUpdated), TokenID: string(rune('a' + i))}))
	}

	require.NoError(t, bus.Shutdown(context.Background()))
	require.Equal(t, 20, c.len())
	for i, e := range c.events {
		assert.Equal(t, string(rune('a'+i)), e.(PriceUpdatedEvent).TokenID)
	}
}

func TestBus_WildcardReceivesEveryType(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)

	all := &collector{}
	opened := &collector{}
	bus.Subscribe(All, all)
	bus.Subscribe(PositionOpened, opened)

	bus.Emit(PositionOpenedEvent{BaseEvent: NewBase(PositionOpened)})
	bus.Emit(PositionClosedEvent{BaseEvent: NewBase(PositionClosed)})

	require.NoError(t, bus.Shutdown(context.Background()))
	assert.Equal(t, 2, all.len())
	assert.Equal(t, 1, opened.len())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	c := &collector{}
	sub := bus.Subscribe(PriceUpdated, c)
	sub.Unsubscribe()

	require.NoError(t, bus.PublishSync(context.Background(), PriceUpdatedEvent{BaseEvent: NewBase(PriceUpdated)}))
	assert.Equal(t, 0, c.len())
	require.NoError(t, bus.Shutdown(context.Background()))
}

func TestBus_PublishSyncReportsHandlerErrors(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	bus.SubscribeFunc(EntryFailed, func(context.Context, Event) error {
		return errors.New("boom")
	})
	bus.SubscribeFunc(EntryFailed, func(context.Context, Event) error {
		panic("handler bug")
	})

	err := bus.PublishSync(context.Background(), EntryFailedEvent{BaseEvent: NewBase(EntryFailed)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "handler panic")
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)

	block := make(chan struct{})
	bus.SubscribeFunc(PriceUpdated, func(context.Context, Event) error {
		<-block
		return nil
	})

	var full bool
	for i := 0; i < 10; i++ {
		if errors.Is(bus.Publish(PriceUpdatedEvent{BaseEvent: NewBase(PriceUpdated)}), ErrBusFull) {
			full = true
			break
		}
	}
	assert.True(t, full)
	assert.NotZero(t, bus.Stats()["dropped"])

	close(block)
	require.NoError(t, bus.Shutdown(context.Background()))
}

func TestBus_PublishAfterShutdown(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	require.NoError(t, bus.Shutdown(context.Background()))

	err := bus.Publish(PriceUpdatedEvent{BaseEvent: NewBase(PriceUpdated)})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Emit(PositionOpenedEvent{BaseEvent: NewBase(PositionOpened)})
	r.Emit(PriceUpdatedEvent{BaseEvent: NewBase(PriceUpdated)})
	r.Emit(PriceUpdatedEvent{BaseEvent: NewBase(PriceUpdated)})

	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.OfType(PriceUpdated), 2)

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestBase_Timestamp(t *testing.T) {
	before := time.Now()
	e := NewBase(StopRatcheted)
	assert.Equal(t, StopRatcheted, e.Type())
	assert.False(t, e.Timestamp().Before(before))
}

func TestAsyncHandler_SlowSubscriberDoesNotStallBus(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 8)

	release := make(chan struct{})
	slow := NewAsyncHandler("slow", HandlerFunc(func(context.Context, Event) error {
		<-release
		return nil
	}), 4, zaptest.NewLogger(t))
	journal := &collector{}
	bus.Subscribe(All, slow)
	bus.Subscribe(TriggerSucceeded, journal)

	for i := 0; i < 20; i++ {
		_ = bus.PublishSync(context.Background(), TriggerSucceededEvent{BaseEvent: NewBase(TriggerSucceeded)})
	}
	assert.Equal(t, 20, journal.len())
	assert.NotZero(t, slow.Dropped())

	close(release)
	require.NoError(t, bus.Shutdown(context.Background()))
	require.NoError(t, slow.Close())
}

func TestAsyncHandler_CloseDrainsQueue(t *testing.T) {
	inner := &collector{}
	a := NewAsyncHandler("journal", inner, 16, zaptest.NewLogger(t))

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Handle(context.Background(), PriceUpdatedEvent{BaseEvent: NewBase(PriceUpdated)}))
	}
	require.NoError(t, a.Close())
	assert.Equal(t, 10, inner.len())

	err := a.Handle(context.Background(), PriceUpdatedEvent{BaseEvent: NewBase(PriceUpdated)})
	assert.ErrorIs(t, err, ErrBusClosed)
	require.NoError(t, a.Close())
}
