// Package app 负责把配置装配成可运行的服务：行情源、网格引擎、HTTP 服务
// 与停牌标记监听在同一个 errgroup 里运行，任一致命错误触发整体退出。
package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"gridbot/internal/config"
	"gridbot/internal/engine"
	"gridbot/internal/feed"
	"gridbot/internal/gateway/binance"
	"gridbot/internal/logger"
	"gridbot/internal/market"
	"gridbot/internal/scheduler"
	"gridbot/internal/store/gormstore"
	httpapi "gridbot/internal/transport/http"
)

// App 聚合运行期组件，由 New 构建。
type App struct {
	cfg       *config.Config
	venue     *binance.Venue
	klines    market.KlineStore
	ticks     market.TickStore
	driver    *feed.Driver
	pollers   []*feed.Poller
	engines   map[string]*engine.Engine
	trades    *gormstore.TradeStore
	http      *httpapi.Server
	intervals []string
}

// Run 先用 REST 预热蜡烛缓冲，再并行启动流、轮询、引擎与 HTTP 服务，
// 阻塞到 ctx 取消或任一组件返回错误。
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	feed.Warmup(ctx, a.venue, a.klines, a.cfg.SymbolNames(), a.intervals, a.cfg.Kline.WarmupBars, a.cfg.Kline.MaxCached)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.driver.Run(ctx)
	})
	for _, p := range a.pollers {
		p := p
		g.Go(func() error {
			return p.Run(ctx)
		})
	}
	for _, eng := range a.engines {
		eng := eng
		g.Go(func() error {
			return eng.Run(ctx)
		})
	}
	g.Go(func() error {
		return a.http.Start(ctx)
	})
	g.Go(func() error {
		return a.watchHaltFlags(ctx)
	})
	g.Go(func() error {
		a.snapshotLoop(ctx)
		return nil
	})

	logger.Infof("gridbot 启动完成: symbols=%v http=%s", a.cfg.SymbolNames(), a.http.Addr())
	return g.Wait()
}

// Close 释放持久化资源；Run 退出时自动调用。
func (a *App) Close() error {
	if a.trades != nil {
		return a.trades.Close()
	}
	return nil
}

// watchHaltFlags 把 <SYMBOL>.halt 标记文件映射到对应引擎的停牌开关。
func (a *App) watchHaltFlags(ctx context.Context) error {
	dir := a.cfg.App.HaltFlagDir
	if dir == "" {
		return nil
	}
	return config.WatchHaltFlags(ctx, dir, func(symbol string, halted bool) {
		eng, ok := a.engines[symbol]
		if !ok {
			logger.Warnf("[halt] 未知交易对标记: %s", symbol)
			return
		}
		if halted {
			eng.Halt()
		} else {
			eng.Resume()
		}
	})
}

// snapshotLoop 周期性落盘每个交易对的账本快照，供重启后巡检比对。
func (a *App) snapshotLoop(ctx context.Context) {
	if a.trades == nil {
		return
	}
	loop := scheduler.NewLoop("ledger snapshot", 5*time.Minute)
	loop.Start(ctx, func(c context.Context) {
		for sym, eng := range a.engines {
			if err := a.trades.SaveLedgerSnapshot(c, sym, eng.Pairs()); err != nil {
				logger.Warnf("[快照] %s 保存失败: %v", sym, err)
			}
		}
	})
}
