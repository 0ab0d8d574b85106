package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gridbot/internal/logger"
	"gridbot/internal/pkg/retry"
)

// channels returns the stream names to subscribe: one kline channel per
// (symbol, interval), one trade channel per symbol, plus the listen key.
func (d *Driver) channels(listenKey string) []string {
	out := make([]string, 0, len(d.cfg.Symbols)*(len(d.cfg.Intervals)+1)+1)
	seen := make(map[string]bool)
	add := func(ch string) {
		if ch != "" && !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	for _, sym := range d.cfg.Symbols {
		lower := strings.ToLower(strings.TrimSpace(sym))
		if lower == "" {
			continue
		}
		for _, iv := range d.cfg.Intervals {
			iv = strings.ToLower(strings.TrimSpace(iv))
			if iv != "" {
				add(lower + "@kline_" + iv)
			}
		}
		add(lower + "@trade")
	}
	add(strings.TrimSpace(listenKey))
	return out
}

// subscribeAll confirms every channel independently: unacked channels are
// re-sent with exponential backoff up to the confirm budget, then marked
// permanently failed for this connection without tearing it down.
// Returns the number of confirmed channels.
func (d *Driver) subscribeAll(ctx context.Context, listenKey string) (int, error) {
	chans := d.channels(listenKey)
	if len(chans) == 0 {
		return 0, fmt.Errorf("nothing to subscribe")
	}
	var confirmed atomic.Int64
	var failed atomic.Int64
	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			if err := d.confirmChannel(ctx, channel); err != nil {
				failed.Add(1)
				d.mu.Lock()
				d.stats.SubscribeErrors++
				d.stats.FailedChannels++
				d.mu.Unlock()
				logger.Errorf("[feed] 订阅 %s 确认失败（本连接内放弃）: %v", channel, err)
				return
			}
			confirmed.Add(1)
		}(ch)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return int(confirmed.Load()), err
	}
	logger.Infof("[feed] 订阅完成 confirmed=%d failed=%d", confirmed.Load(), failed.Load())
	return int(confirmed.Load()), nil
}

func (d *Driver) confirmChannel(ctx context.Context, channel string) error {
	var lastErr error
	for attempt := 0; attempt < d.cfg.Confirm.MaxAttempts; attempt++ {
		if attempt > 0 {
			if !retry.Sleep(ctx, d.cfg.Confirm.Delay(attempt-1)) {
				return ctx.Err()
			}
		}
		id, ack := d.registerAck()
		payload := fmt.Sprintf(`{"method":"SUBSCRIBE","params":[%q],"id":%d}`, channel, id)
		if err := d.writeJSON([]byte(payload)); err != nil {
			d.dropAck(id)
			lastErr = err
			continue
		}
		select {
		case <-ctx.Done():
			d.dropAck(id)
			return ctx.Err()
		case <-ack:
			return nil
		case <-time.After(d.cfg.Confirm.Delay(attempt)):
			d.dropAck(id)
			lastErr = fmt.Errorf("ack timeout (attempt %d)", attempt+1)
		}
	}
	return lastErr
}

func (d *Driver) registerAck() (int64, chan struct{}) {
	d.ackMu.Lock()
	defer d.ackMu.Unlock()
	d.nextID++
	id := d.nextID
	ch := make(chan struct{})
	d.pending[id] = ch
	return id, ch
}

func (d *Driver) dropAck(id int64) {
	d.ackMu.Lock()
	delete(d.pending, id)
	d.ackMu.Unlock()
}

func (d *Driver) signalAck(id int64) {
	d.ackMu.Lock()
	ch, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.ackMu.Unlock()
	if ok {
		close(ch)
	}
}

// keepaliveLoop refreshes the stream credential before expiry without
// dropping the connection. Margin is at least 30s before the TTL.
func (d *Driver) keepaliveLoop(ctx context.Context, key string, ttl time.Duration) {
	if ttl <= d.cfg.CredentialMargin {
		ttl = 2 * d.cfg.CredentialMargin
	}
	interval := ttl - d.cfg.CredentialMargin
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := d.creds.KeepaliveUserStream(callCtx, key)
			cancel()
			if err == nil {
				logger.Debugf("[feed] listen key 已续期")
				continue
			}
			logger.Warnf("[feed] listen key keepalive 失败: %v", err)
			// the key may already be expired venue-side; rotate it in
			// place instead of dropping the connection
			rotCtx, cancelRot := context.WithTimeout(ctx, 10*time.Second)
			newKey, newTTL, rerr := d.creds.StartUserStream(rotCtx)
			cancelRot()
			if rerr != nil {
				logger.Warnf("[feed] listen key 轮换失败: %v", rerr)
				continue
			}
			if err := d.resubscribe(ctx, key, newKey); err != nil {
				logger.Warnf("[feed] listen key 重订阅失败: %v", err)
				continue
			}
			key = newKey
			if newTTL > d.cfg.CredentialMargin {
				ticker.Reset(newTTL - d.cfg.CredentialMargin)
			}
			logger.Infof("[feed] listen key 已轮换并重订阅")
		}
	}
}

// resubscribe re-sends a subscription with a refreshed credential inside a
// live session (credential rotation without reconnecting).
func (d *Driver) resubscribe(ctx context.Context, oldKey, newKey string) error {
	if err := d.confirmChannel(ctx, newKey); err != nil {
		return err
	}
	if oldKey != "" {
		id, _ := d.registerAck()
		payload := fmt.Sprintf(`{"method":"UNSUBSCRIBE","params":[%q],"id":%d}`, oldKey, id)
		if err := d.writeJSON([]byte(payload)); err != nil {
			d.dropAck(id)
			return err
		}
	}
	return nil
}
