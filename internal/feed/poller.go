package feed

import (
	"context"
	"fmt"
	"time"

	"gridbot/internal/logger"
	"gridbot/internal/market"
	"gridbot/internal/pkg/retry"
	"gridbot/internal/scheduler"
)

// Poller is the request/response backstop for one (symbol, interval): the
// stream only carries the forming candle, so closed history is refreshed by
// REST on every candle close. After FailThreshold consecutive empty or
// failed fetches the whole buffer window is re-seeded instead of drifting.
type Poller struct {
	Source   market.HistorySource
	Store    market.KlineStore
	Symbol   string
	Interval string

	// FetchLimit is the incremental batch; Max the buffer retention cap.
	FetchLimit    int
	Max           int
	FailThreshold int
	Policy        retry.Policy

	failures int
}

func (p *Poller) withDefaults() {
	if p.FetchLimit <= 0 {
		p.FetchLimit = 10
	}
	if p.Max <= 0 {
		p.Max = 300
	}
	if p.FailThreshold <= 0 {
		p.FailThreshold = 3
	}
	if p.Policy.MaxAttempts <= 0 {
		p.Policy = retry.Policy{MaxAttempts: 2, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}
	}
}

// Run polls once per interval duration until ctx cancels. An immediate
// first poll seeds the buffer.
func (p *Poller) Run(ctx context.Context) error {
	p.withDefaults()
	dur, ok := scheduler.ParseIntervalDuration(p.Interval)
	if !ok {
		return fmt.Errorf("poller %s: invalid interval %q", p.Symbol, p.Interval)
	}
	loop := scheduler.NewLoop(fmt.Sprintf("poll %s %s", p.Symbol, p.Interval), dur)
	loop.RunImmediately = true
	loop.Start(ctx, func(c context.Context) { p.PollOnce(c) })
	return nil
}

// PollOnce fetches the latest closed candles and merges them; exported for
// the trading loop to force a refresh after a grid reset.
func (p *Poller) PollOnce(ctx context.Context) {
	p.withDefaults()
	batch, err := p.fetch(ctx, p.FetchLimit)
	if err != nil || len(batch) == 0 {
		p.failures++
		if err != nil {
			logger.Warnf("[poll] %s %s 拉取失败(%d/%d): %v", p.Symbol, p.Interval, p.failures, p.FailThreshold, err)
		} else {
			logger.Warnf("[poll] %s %s 拉取为空(%d/%d)", p.Symbol, p.Interval, p.failures, p.FailThreshold)
		}
		if p.failures >= p.FailThreshold {
			p.reseed(ctx)
		}
		return
	}
	if err := p.Store.Put(ctx, p.Symbol, p.Interval, batch, p.Max); err != nil {
		logger.Warnf("[poll] %s %s 写入失败: %v", p.Symbol, p.Interval, err)
		return
	}
	p.failures = 0
}

// reseed discards the buffer and refetches the full retention window.
func (p *Poller) reseed(ctx context.Context) {
	logger.Warnf("[poll] %s %s 连续失败 %d 次，重建缓冲区", p.Symbol, p.Interval, p.failures)
	batch, err := p.fetch(ctx, p.Max)
	if err != nil || len(batch) == 0 {
		logger.Errorf("[poll] %s %s 重建失败: %v", p.Symbol, p.Interval, err)
		return
	}
	if err := p.Store.Set(ctx, p.Symbol, p.Interval, batch); err != nil {
		logger.Errorf("[poll] %s %s 重建写入失败: %v", p.Symbol, p.Interval, err)
		return
	}
	p.failures = 0
	logger.Infof("[poll] %s %s 重建完成，条数=%d", p.Symbol, p.Interval, len(batch))
}

func (p *Poller) fetch(ctx context.Context, limit int) ([]market.Candle, error) {
	var batch []market.Candle
	err := p.Policy.Do(ctx, func(c context.Context) error {
		callCtx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		got, err := p.Source.FetchHistory(callCtx, p.Symbol, p.Interval, limit)
		if err != nil {
			return err
		}
		batch = got
		return nil
	})
	return batch, err
}
