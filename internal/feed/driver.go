// Package feed keeps the market data store fresh: one streaming websocket
// connection with explicit subscribe acknowledgments, plus per
// (symbol, interval) REST polling as a correctness backstop.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridbot/internal/logger"
	"gridbot/internal/market"
	"gridbot/internal/pkg/retry"
)

// ErrFeedUnavailable is surfaced once the reconnect budget is exhausted.
var ErrFeedUnavailable = errors.New("feed unavailable: reconnect attempts exhausted")

// CredentialSource provides the short-lived stream credential (listen key)
// and its keepalive. Optional; market-only feeds run without one.
type CredentialSource interface {
	StartUserStream(ctx context.Context) (key string, ttl time.Duration, err error)
	KeepaliveUserStream(ctx context.Context, key string) error
}

type Config struct {
	URL       string
	Symbols   []string
	Intervals []string

	// QueueSize bounds the inbound frame queue; a full queue blocks the
	// reader before the next network read (backpressure, never drop).
	QueueSize        int
	HeartbeatTimeout time.Duration
	HandshakeTimeout time.Duration

	// Reconnect governs full reconnects, Confirm per-channel subscribe acks.
	Reconnect retry.Policy
	Confirm   retry.Policy

	// CredentialMargin is how long before expiry the keepalive fires.
	CredentialMargin time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect = retry.Policy{MaxAttempts: 20, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 60 * time.Second}
	}
	if c.Confirm.MaxAttempts <= 0 {
		c.Confirm = retry.Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 8 * time.Second}
	}
	if c.CredentialMargin < 30*time.Second {
		c.CredentialMargin = 30 * time.Second
	}
	return c
}

// wsConn is the subset of *websocket.Conn the driver uses; tests fake it.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type dialFunc func(ctx context.Context, url string) (wsConn, error)

// Driver owns the streaming connection lifecycle:
// Disconnected → Connecting → Subscribing → Streaming → (Degraded|Disconnected).
type Driver struct {
	cfg       Config
	klines    market.KlineStore
	ticks     market.TickStore
	maxKlines int
	creds     CredentialSource

	dial dialFunc

	mu        sync.Mutex
	state     market.FeedState
	stats     market.FeedStats
	lastFrame time.Time

	writeMu sync.Mutex
	conn    wsConn

	ackMu   sync.Mutex
	pending map[int64]chan struct{} // subscribe id -> ack signal
	nextID  int64
}

func NewDriver(cfg Config, klines market.KlineStore, ticks market.TickStore, maxKlines int, creds CredentialSource) *Driver {
	final := cfg.withDefaults()
	d := &Driver{
		cfg:       final,
		klines:    klines,
		ticks:     ticks,
		maxKlines: maxKlines,
		creds:     creds,
		state:     market.StateDisconnected,
		pending:   make(map[int64]chan struct{}),
	}
	d.dial = func(ctx context.Context, url string) (wsConn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: final.HandshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		return conn, err
	}
	return d
}

func (d *Driver) State() market.FeedState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) Stats() market.FeedStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.stats
	out.State = d.state.String()
	return out
}

func (d *Driver) setState(s market.FeedState) {
	d.mu.Lock()
	if d.state != s {
		logger.Infof("[feed] %s -> %s", d.state, s)
	}
	d.state = s
	d.mu.Unlock()
}

// Run drives the reconnect loop until ctx cancels or the retry budget is
// exhausted. A session that reached Streaming resets the budget.
func (d *Driver) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if attempt >= d.cfg.Reconnect.MaxAttempts {
			d.setState(market.StateDisconnected)
			return ErrFeedUnavailable
		}
		streamed, err := d.runSession(ctx)
		d.setState(market.StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			d.recordError(err)
			logger.Warnf("[feed] 会话中断: %v (attempt=%d)", err, attempt)
		}
		if streamed {
			attempt = 0
		}
		if !retry.Sleep(ctx, d.cfg.Reconnect.Delay(attempt)) {
			return nil
		}
	}
}

// runSession runs one connection attempt end to end. The bool reports
// whether the session reached Streaming (used to reset the retry budget).
func (d *Driver) runSession(ctx context.Context) (bool, error) {
	d.setState(market.StateConnecting)
	conn, err := d.dial(ctx, d.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	d.writeMu.Lock()
	d.conn = conn
	d.writeMu.Unlock()
	defer func() {
		d.writeMu.Lock()
		d.conn = nil
		d.writeMu.Unlock()
		conn.Close()
	}()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.lastFrame = time.Now()
	d.mu.Unlock()

	queue := make(chan []byte, d.cfg.QueueSize)
	readErr := make(chan error, 1)

	// reader: blocking send into the bounded queue is the backpressure
	// point — we never read the next frame until there is room.
	go func() {
		defer close(queue)
		for {
			conn.SetReadDeadline(time.Now().Add(2 * d.cfg.HeartbeatTimeout))
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case <-sessCtx.Done():
				return
			case queue <- payload:
			}
		}
	}()

	// drainer: decouples processing from network receipt.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for payload := range queue {
			d.mu.Lock()
			d.lastFrame = time.Now()
			if d.state == market.StateDegraded {
				d.state = market.StateStreaming
				logger.Infof("[feed] degraded -> streaming（恢复收包）")
			}
			d.mu.Unlock()
			d.handleFrame(payload)
		}
	}()

	listenKey := ""
	var keyTTL time.Duration
	if d.creds != nil {
		listenKey, keyTTL, err = d.creds.StartUserStream(ctx)
		if err != nil {
			return false, fmt.Errorf("start user stream: %w", err)
		}
	}

	d.setState(market.StateSubscribing)
	confirmed, err := d.subscribeAll(sessCtx, listenKey)
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	if confirmed == 0 {
		return false, errors.New("no channel confirmed")
	}
	d.setState(market.StateStreaming)

	if d.creds != nil {
		go d.keepaliveLoop(sessCtx, listenKey, keyTTL)
	}

	// watchdog: silence past the heartbeat window degrades the session;
	// twice the window tears it down (the read deadline fires).
	watchdog := time.NewTicker(d.cfg.HeartbeatTimeout / 4)
	defer watchdog.Stop()
	for {
		select {
		case <-ctx.Done():
			cancel()
			conn.Close()
			<-drained
			return true, nil
		case err := <-readErr:
			cancel()
			<-drained
			return true, err
		case <-watchdog.C:
			d.mu.Lock()
			silent := time.Since(d.lastFrame)
			state := d.state
			d.mu.Unlock()
			if silent > d.cfg.HeartbeatTimeout && state == market.StateStreaming {
				d.setState(market.StateDegraded)
				logger.Warnf("[feed] 心跳超时 %s，进入 degraded", silent.Truncate(time.Second))
			}
		}
	}
}

func (d *Driver) recordError(err error) {
	d.mu.Lock()
	d.stats.Reconnects++
	if err != nil {
		d.stats.LastError = err.Error()
	}
	d.mu.Unlock()
}

func (d *Driver) writeJSON(payload []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if d.conn == nil {
		return errors.New("connection closed")
	}
	return d.conn.WriteMessage(websocket.TextMessage, payload)
}
