// internal/events/async.go
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// AsyncHandler runs a slow handler on its own goroutine so it cannot hold up
// the bus dispatcher and the subscribers behind it. Events that do not fit
// the queue are dropped.
type AsyncHandler struct {
	name    string
	handler Handler
	queue   chan Event
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewAsyncHandler starts a worker in front of handler with a queue of size
// events.
func NewAsyncHandler(name string, handler Handler, size int, logger *zap.Logger) *AsyncHandler {
	if size <= 0 {
		size = 64
	}
	a := &AsyncHandler{
		name:    name,
		handler: handler,
		queue:   make(chan Event, size),
		logger:  logger.Named("async").With(zap.String("handler", name)),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Handle enqueues the event and returns at once.
func (a *AsyncHandler) Handle(_ context.Context, event Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrBusClosed
	}

	select {
	case a.queue <- event:
		return nil
	default:
		a.dropped.Add(1)
		a.logger.Warn("Handler queue full, event dropped",
			zap.String("event_type", string(event.Type())))
		return fmt.Errorf("%s: %w", a.name, ErrBusFull)
	}
}

// Close stops accepting events and waits until the queued ones are handled.
func (a *AsyncHandler) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Debug("Async handler stopped",
		zap.Uint64("dropped", a.dropped.Load()),
		zap.Uint64("failed", a.failed.Load()))
	return nil
}

// Dropped returns how many events did not fit the queue.
func (a *AsyncHandler) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *AsyncHandler) run() {
	defer a.wg.Done()
	for event := range a.queue {
		if err := a.invoke(event); err != nil {
			a.failed.Add(1)
			a.logger.Warn("Async handler failed",
				zap.String("event_type", string(event.Type())),
				zap.Error(err))
		}
	}
}

func (a *AsyncHandler) invoke(event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return a.handler.Handle(context.Background(), event)
}
