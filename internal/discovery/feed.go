// internal/discovery/feed.go
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const (
	DefaultFeedURL = "wss://pumpportal.fun/api/data"

	defaultReconnectStep     = 5 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	writeTimeout             = 5 * time.Second
)

var subscribeNewToken = []byte(`{"method":"subscribeNewToken"}`)

// Handler receives each new token once. It runs on the feed's read loop and
// must not block for long.
type Handler func(ctx context.Context, event TokenEvent)

// FeedConfig configures the new-token feed.
type FeedConfig struct {
	URL          string
	Logger       *zap.Logger
	SeenCapacity int
	// ReconnectStep is the delay added per consecutive failed connection.
	ReconnectStep     time.Duration
	MaxReconnectDelay time.Duration
}

// Feed streams new-token announcements from the PumpPortal websocket.
type Feed struct {
	url       string
	logger    *zap.Logger
	seen      *SeenSet
	step      time.Duration
	maxDelay  time.Duration
	mu        sync.Mutex
	connected bool
}

// NewFeed creates a feed; call Run to start it.
func NewFeed(cfg FeedConfig) *Feed {
	if cfg.URL == "" {
		cfg.URL = DefaultFeedURL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ReconnectStep <= 0 {
		cfg.ReconnectStep = defaultReconnectStep
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	return &Feed{
		url:      cfg.URL,
		logger:   cfg.Logger.Named("feed"),
		seen:     NewSeenSet(cfg.SeenCapacity),
		step:     cfg.ReconnectStep,
		maxDelay: cfg.MaxReconnectDelay,
	}
}

// Seen exposes the de-duplication set.
func (f *Feed) Seen() *SeenSet {
	return f.seen
}

// Connected reports whether the websocket is currently up.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Feed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// Run connects, subscribes and delivers events until ctx is cancelled,
// reconnecting with a linearly growing delay.
func (f *Feed) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	delay := &linearBackOff{step: f.step, max: f.maxDelay}

	op := func() (struct{}, error) {
		conn, rw, err := f.connect(ctx)
		if err != nil {
			return struct{}{}, err
		}
		delay.Reset()

		err = f.readLoop(ctx, conn, rw, handler)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		return struct{}{}, fmt.Errorf("feed disconnected: %w", err)
	}

	notify := func(err error, d time.Duration) {
		f.logger.Warn("Feed connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", d))
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(delay),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify))
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (f *Feed) connect(ctx context.Context) (net.Conn, io.ReadWriter, error) {
	conn, br, _, err := ws.Dial(ctx, f.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", f.url, err)
	}

	// Frames that arrived with the handshake response sit in br.
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = wsutil.WriteClientText(conn, subscribeNewToken)
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	f.setConnected(true)
	f.logger.Info("🔌 Connected to new-token feed", zap.String("url", f.url))
	return conn, rw, nil
}

// readLoop reads until the connection fails or ctx is cancelled.
func (f *Feed) readLoop(ctx context.Context, conn net.Conn, rw io.ReadWriter, handler Handler) error {
	defer f.setConnected(false)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			return err
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		event, ok := f.decode(data)
		if !ok {
			continue
		}
		if !f.seen.Add(event.TokenID) {
			f.logger.Debug("Duplicate token ignored", zap.String("token", event.TokenID))
			continue
		}
		handler(ctx, event)
	}
}

func (f *Feed) decode(data []byte) (TokenEvent, bool) {
	var msg newTokenMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("Undecodable feed message", zap.Error(err), zap.Int("bytes", len(data)))
		return TokenEvent{}, false
	}
	if msg.Mint == "" {
		return TokenEvent{}, false
	}
	return msg.toEvent(time.Now()), true
}

// linearBackOff waits step*n, capped at max, where n counts consecutive
// failures since the last Reset.
type linearBackOff struct {
	mu      sync.Mutex
	step    time.Duration
	max     time.Duration
	attempt int64
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt++
	d := time.Duration(b.attempt) * b.step
	if d > b.max {
		return b.max
	}
	return d
}

func (b *linearBackOff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}
