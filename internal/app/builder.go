package app

import (
	"fmt"
	"time"

	"gridbot/internal/analysis/indicator"
	"gridbot/internal/config"
	"gridbot/internal/engine"
	"gridbot/internal/feed"
	"gridbot/internal/gateway/binance"
	"gridbot/internal/grid"
	"gridbot/internal/logger"
	"gridbot/internal/pkg/retry"
	"gridbot/internal/scheduler"
	"gridbot/internal/store"
	"gridbot/internal/store/gormstore"
	"gridbot/internal/trend"
	httpapi "gridbot/internal/transport/http"
)

// New 按配置装配 App。构建只做本地初始化，不发起网络请求。
func New(cfg *config.Config) (*App, error) {
	logger.SetLevel(cfg.App.LogLevel)

	venue, err := binance.New(binance.Config{
		APIKey:       cfg.Market.APIKey,
		APISecret:    cfg.Market.APISecret,
		RESTBaseURL:  cfg.Market.RESTBaseURL,
		WSBaseURL:    cfg.Market.WSURL,
		ProxyEnabled: cfg.Market.Proxy.Enabled,
		RESTProxyURL: cfg.Market.Proxy.RESTURL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化交易所网关失败: %w", err)
	}

	klines := store.NewMemoryKlineStore()
	ticks := store.NewMemoryTickStore(cfg.Kline.MaxCached)

	// 趋势判定的两个周期也要进订阅列表，否则分类器拿不到蜡烛。
	intervals := scheduler.SanitizeIntervals(append(
		append([]string{}, cfg.Kline.Intervals...),
		cfg.Trend.ShortInterval, cfg.Trend.LongInterval,
	))
	symbols := cfg.SymbolNames()

	driver := buildDriver(cfg, venue, klines, ticks, symbols, intervals)
	pollers := buildPollers(cfg, venue, klines, symbols, intervals)

	settings := indicator.Settings{
		EMAFast:   cfg.Trend.EMAFast,
		EMASlow:   cfg.Trend.EMASlow,
		RSIPeriod: cfg.Trend.RSIPeriod,
		ADXPeriod: cfg.Trend.ADXPeriod,
		ATRPeriod: cfg.Trend.ATRPeriod,
	}
	thresholds := trend.Thresholds{
		MinADX:   cfg.Trend.MinADX,
		RSIUpper: cfg.Trend.RSIUpper,
		RSILower: cfg.Trend.RSILower,
	}
	// 同一套阈值对两个周期生效，周期在每次调用时传入
	classifier := &trend.Classifier{Store: klines, Settings: settings, Thresholds: thresholds}

	trades, err := gormstore.NewTradeStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化成交存储失败: %w", err)
	}

	engines := make(map[string]*engine.Engine, len(cfg.Symbols))
	controllers := make([]httpapi.SymbolController, 0, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		resolved := sc.Resolve(cfg.Grid)
		eng := engine.New(engine.Config{
			Symbol:     resolved.Symbol,
			BaseAsset:  resolved.BaseAsset,
			QuoteAsset: resolved.QuoteAsset,
			Grid: grid.Config{
				Levels:         cfg.Grid.Levels,
				VolatilityMult: cfg.Grid.VolatilityMult,
				MinSpacingPct:  cfg.Grid.MinSpacingPct,
				ResetWindow:    cfg.Grid.ResetWindow,
			},
			MaxPairs:         resolved.MaxPairs,
			AllocationRatio:  resolved.AllocationRatio,
			QtyStep:          resolved.QtyStep,
			ShortInterval:    cfg.Trend.ShortInterval,
			LongInterval:     cfg.Trend.LongInterval,
			ATRPeriod:        cfg.Trend.ATRPeriod,
			Interval:         time.Duration(cfg.Grid.CycleSeconds) * time.Second,
			BreakerThreshold: cfg.Grid.BreakerThreshold,
			BreakerCooldown:  time.Duration(cfg.Grid.BreakerCooldownSeconds) * time.Second,
		}, venue, klines, ticks, classifier, classifier, trades)
		engines[resolved.Symbol] = eng
		controllers = append(controllers, eng)
	}

	httpSrv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:        cfg.App.HTTPAddr,
		Controllers: controllers,
		Feed:        driver,
		Klines:      klines,
		Fills:       trades,
	})
	if err != nil {
		_ = trades.Close()
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:       cfg,
		venue:     venue,
		klines:    klines,
		ticks:     ticks,
		driver:    driver,
		pollers:   pollers,
		engines:   engines,
		trades:    trades,
		http:      httpSrv,
		intervals: intervals,
	}, nil
}

func buildDriver(cfg *config.Config, venue *binance.Venue, klines *store.MemoryKlineStore, ticks *store.MemoryTickStore, symbols, intervals []string) *feed.Driver {
	wsURL := cfg.Market.WSURL
	if cfg.Market.Proxy.Enabled && cfg.Market.Proxy.WSURL != "" {
		wsURL = cfg.Market.Proxy.WSURL
	}
	var creds feed.CredentialSource
	if cfg.Market.APIKey != "" {
		creds = venue
	}
	return feed.NewDriver(feed.Config{
		URL:              wsURL,
		Symbols:          symbols,
		Intervals:        intervals,
		QueueSize:        cfg.Feed.QueueSize,
		HeartbeatTimeout: time.Duration(cfg.Feed.HeartbeatSeconds) * time.Second,
		HandshakeTimeout: time.Duration(cfg.Feed.HandshakeSeconds) * time.Second,
		Reconnect: retry.Policy{
			MaxAttempts: cfg.Feed.ReconnectMaxAttempts,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxDelay:    time.Minute,
		},
		Confirm: retry.Policy{
			MaxAttempts: cfg.Feed.ConfirmMaxAttempts,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    8 * time.Second,
		},
		CredentialMargin: time.Duration(cfg.Feed.CredentialMarginSeconds) * time.Second,
	}, klines, ticks, cfg.Kline.MaxCached, creds)
}

func buildPollers(cfg *config.Config, venue *binance.Venue, klines *store.MemoryKlineStore, symbols, intervals []string) []*feed.Poller {
	pollers := make([]*feed.Poller, 0, len(symbols)*len(intervals))
	for _, sym := range symbols {
		for _, iv := range intervals {
			pollers = append(pollers, &feed.Poller{
				Source:        venue,
				Store:         klines,
				Symbol:        sym,
				Interval:      iv,
				FetchLimit:    cfg.Feed.PollFetchLimit,
				Max:           cfg.Kline.MaxCached,
				FailThreshold: cfg.Feed.PollFailThreshold,
			})
		}
	}
	return pollers
}
