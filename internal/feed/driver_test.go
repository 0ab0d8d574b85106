package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"gridbot/internal/market"
	"gridbot/internal/pkg/retry"
	"gridbot/internal/store"
)

// fakeConn acks every SUBSCRIBE and then serves queued frames.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 64)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	payload, ok := <-c.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, payload, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed conn")
	}
	// echo an ack for subscribe/unsubscribe requests
	if id := gjson.GetBytes(data, "id"); id.Exists() {
		c.inbound <- []byte(fmt.Sprintf(`{"result":null,"id":%d}`, id.Int()))
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func testConfig() Config {
	return Config{
		URL:              "ws://test",
		Symbols:          []string{"BTCUSDT"},
		Intervals:        []string{"1m"},
		QueueSize:        16,
		HeartbeatTimeout: 200 * time.Millisecond,
		Reconnect:        retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond},
		Confirm:          retry.Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, Multiplier: 2, MaxDelay: 200 * time.Millisecond},
	}
}

func TestDriverReachesStreamingAndConsumesFrames(t *testing.T) {
	ks := store.NewMemoryKlineStore()
	ts := store.NewMemoryTickStore(100)
	d := NewDriver(testConfig(), ks, ts, 300, nil)

	conn := newFakeConn()
	d.dial = func(ctx context.Context, url string) (wsConn, error) { return conn, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return d.State() == market.StateStreaming
	}, 2*time.Second, 10*time.Millisecond, "driver should reach streaming")

	conn.inbound <- []byte(klineFrame)
	conn.inbound <- []byte(tradeFrame)

	require.Eventually(t, func() bool {
		got, _ := ks.Get(context.Background(), "BTCUSDT", "1m")
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestDriverFatalAfterReconnectBudget(t *testing.T) {
	d := NewDriver(testConfig(), store.NewMemoryKlineStore(), store.NewMemoryTickStore(10), 300, nil)
	d.dial = func(ctx context.Context, url string) (wsConn, error) {
		return nil, errors.New("refused")
	}

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Equal(t, market.StateDisconnected, d.State())
	assert.GreaterOrEqual(t, d.Stats().Reconnects, 2)
}

func TestDriverReconnectsAfterReadError(t *testing.T) {
	ks := store.NewMemoryKlineStore()
	d := NewDriver(testConfig(), ks, store.NewMemoryTickStore(10), 300, nil)

	var mu sync.Mutex
	dials := 0
	var latest *fakeConn
	d.dial = func(ctx context.Context, url string) (wsConn, error) {
		conn := newFakeConn()
		mu.Lock()
		dials++
		latest = conn
		mu.Unlock()
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		return d.State() == market.StateStreaming
	}, 2*time.Second, 10*time.Millisecond)

	// tear the transport down; the driver should dial again
	mu.Lock()
	firstDials := dials
	latest.Close()
	mu.Unlock()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials > firstDials
	}, 3*time.Second, 10*time.Millisecond, "no reconnect observed")
}
