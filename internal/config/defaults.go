package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"
	defaultAppLogPath  = "/data/logs/gridbot.log"
	defaultHaltFlagDir = "/data/gridbot/halt"

	defaultKlineMaxCached = 300
	defaultKlineWarmup    = 200

	defaultMarketREST = "https://api.binance.com"
	defaultMarketWS   = "wss://stream.binance.com:9443/stream"

	defaultFeedQueue       = 1024
	defaultFeedHeartbeat   = 60
	defaultFeedHandshake   = 10
	defaultFeedReconnects  = 8
	defaultFeedConfirms    = 5
	defaultFeedCredMargin  = 60
	defaultFeedPollLimit   = 5
	defaultFeedPollFailCap = 3

	defaultTrendShort = "15m"
	defaultTrendLong  = "4h"

	defaultGridLevels      = 5
	defaultGridVolMult     = 1.5
	defaultGridMinSpacing  = 0.002
	defaultGridResetWindow = 30
	defaultGridMaxPairs    = 5
	defaultGridAllocation  = 0.5
	defaultGridQtyStep     = 0.00001
	defaultGridCycle       = 20
	defaultBreakerFails    = 5
	defaultBreakerCooldown = 30

	defaultStoreDBPath = "/data/gridbot/gridbot.db"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Kline.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Trend.applyDefaults(keys)
	c.Grid.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.halt_flag_dir", &a.HaltFlagDir, defaultHaltFlagDir),
	)
}

func (k *KlineConfig) applyDefaults(keys keySet) {
	if k == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "kline.max_cached",
			need:  func() bool { return k.MaxCached <= 0 },
			apply: func() { k.MaxCached = defaultKlineMaxCached },
		},
		fieldDefault{
			key:   "kline.warmup_bars",
			need:  func() bool { return k.WarmupBars <= 0 },
			apply: func() { k.WarmupBars = defaultKlineWarmup },
		},
	)
	if len(k.Intervals) == 0 {
		k.Intervals = []string{"1m", defaultTrendShort, defaultTrendLong}
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.ws_url", &m.WSURL, defaultMarketWS),
	)
	m.Proxy.normalize()
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("feed.queue_size", &f.QueueSize, defaultFeedQueue),
		intFieldDefault("feed.heartbeat_seconds", &f.HeartbeatSeconds, defaultFeedHeartbeat),
		intFieldDefault("feed.handshake_seconds", &f.HandshakeSeconds, defaultFeedHandshake),
		intFieldDefault("feed.reconnect_max_attempts", &f.ReconnectMaxAttempts, defaultFeedReconnects),
		intFieldDefault("feed.confirm_max_attempts", &f.ConfirmMaxAttempts, defaultFeedConfirms),
		intFieldDefault("feed.credential_margin_seconds", &f.CredentialMarginSeconds, defaultFeedCredMargin),
		intFieldDefault("feed.poll_fetch_limit", &f.PollFetchLimit, defaultFeedPollLimit),
		intFieldDefault("feed.poll_fail_threshold", &f.PollFailThreshold, defaultFeedPollFailCap),
	)
}

func (t *TrendConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trend.short_interval", &t.ShortInterval, defaultTrendShort),
		stringFieldDefault("trend.long_interval", &t.LongInterval, defaultTrendLong),
	)
	// indicator periods fall through to the indicator package defaults when
	// zero, so only the intervals need filling here
}

func (g *GridConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("grid.levels", &g.Levels, defaultGridLevels),
		intFieldDefault("grid.reset_window", &g.ResetWindow, defaultGridResetWindow),
		intFieldDefault("grid.max_pairs", &g.MaxPairs, defaultGridMaxPairs),
		intFieldDefault("grid.cycle_seconds", &g.CycleSeconds, defaultGridCycle),
		intFieldDefault("grid.breaker_threshold", &g.BreakerThreshold, defaultBreakerFails),
		intFieldDefault("grid.breaker_cooldown_seconds", &g.BreakerCooldownSeconds, defaultBreakerCooldown),
		fieldDefault{
			key:   "grid.volatility_mult",
			need:  func() bool { return g.VolatilityMult <= 0 },
			apply: func() { g.VolatilityMult = defaultGridVolMult },
		},
		fieldDefault{
			key:   "grid.min_spacing_pct",
			need:  func() bool { return g.MinSpacingPct <= 0 },
			apply: func() { g.MinSpacingPct = defaultGridMinSpacing },
		},
		fieldDefault{
			key:   "grid.allocation_ratio",
			need:  func() bool { return g.AllocationRatio <= 0 || g.AllocationRatio > 1 },
			apply: func() { g.AllocationRatio = defaultGridAllocation },
		},
		fieldDefault{
			key:   "grid.qty_step",
			need:  func() bool { return g.QtyStep <= 0 },
			apply: func() { g.QtyStep = defaultGridQtyStep },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.db_path", &s.DBPath, defaultStoreDBPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
