package config

import "strings"

// Config 是 gridbot 的主配置载体。
type Config struct {
	App     AppConfig      `toml:"app"`
	Kline   KlineConfig    `toml:"kline"`
	Market  MarketConfig   `toml:"market"`
	Feed    FeedConfig     `toml:"feed"`
	Trend   TrendConfig    `toml:"trend"`
	Grid    GridConfig     `toml:"grid"`
	Store   StoreConfig    `toml:"store"`
	Symbols []SymbolConfig `toml:"symbols"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	// HaltFlagDir is watched for <SYMBOL>.halt marker files; creating one
	// pauses that symbol without restarting the process.
	HaltFlagDir string `toml:"halt_flag_dir"`
}

type KlineConfig struct {
	MaxCached  int      `toml:"max_cached"`
	WarmupBars int      `toml:"warmup_bars"`
	Intervals  []string `toml:"intervals"`
}

type MarketConfig struct {
	RESTBaseURL string      `toml:"rest_base_url"`
	WSURL       string      `toml:"ws_url"`
	APIKey      string      `toml:"api_key"`
	APISecret   string      `toml:"api_secret"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
	WSURL   string `toml:"ws_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	p.WSURL = strings.TrimSpace(p.WSURL)
}

type FeedConfig struct {
	QueueSize               int `toml:"queue_size"`
	HeartbeatSeconds        int `toml:"heartbeat_seconds"`
	HandshakeSeconds        int `toml:"handshake_seconds"`
	ReconnectMaxAttempts    int `toml:"reconnect_max_attempts"`
	ConfirmMaxAttempts      int `toml:"confirm_max_attempts"`
	CredentialMarginSeconds int `toml:"credential_margin_seconds"`
	PollFetchLimit          int `toml:"poll_fetch_limit"`
	PollFailThreshold       int `toml:"poll_fail_threshold"`
}

type TrendConfig struct {
	ShortInterval string  `toml:"short_interval"`
	LongInterval  string  `toml:"long_interval"`
	EMAFast       int     `toml:"ema_fast"`
	EMASlow       int     `toml:"ema_slow"`
	RSIPeriod     int     `toml:"rsi_period"`
	ADXPeriod     int     `toml:"adx_period"`
	ATRPeriod     int     `toml:"atr_period"`
	MinADX        float64 `toml:"min_adx"`
	RSIUpper      float64 `toml:"rsi_upper"`
	RSILower      float64 `toml:"rsi_lower"`
}

// GridConfig holds the ladder defaults; per-symbol entries may override the
// capital fields.
type GridConfig struct {
	Levels                 int     `toml:"levels"`
	VolatilityMult         float64 `toml:"volatility_mult"`
	MinSpacingPct          float64 `toml:"min_spacing_pct"`
	ResetWindow            int     `toml:"reset_window"`
	MaxPairs               int     `toml:"max_pairs"`
	AllocationRatio        float64 `toml:"allocation_ratio"`
	QtyStep                float64 `toml:"qty_step"`
	CycleSeconds           int     `toml:"cycle_seconds"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
}

type StoreConfig struct {
	DBPath string `toml:"db_path"`
}

type SymbolConfig struct {
	Symbol     string `toml:"symbol"`
	BaseAsset  string `toml:"base_asset"`
	QuoteAsset string `toml:"quote_asset"`
	// zero values inherit the grid section
	MaxPairs        int     `toml:"max_pairs"`
	AllocationRatio float64 `toml:"allocation_ratio"`
	QtyStep         float64 `toml:"qty_step"`
}

// Resolve merges the grid defaults into the per-symbol overrides.
func (s SymbolConfig) Resolve(g GridConfig) SymbolConfig {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	if s.MaxPairs <= 0 {
		s.MaxPairs = g.MaxPairs
	}
	if s.AllocationRatio <= 0 {
		s.AllocationRatio = g.AllocationRatio
	}
	if s.QtyStep <= 0 {
		s.QtyStep = g.QtyStep
	}
	return s
}

// SymbolNames returns the normalized symbol list in config order.
func (c *Config) SymbolNames() []string {
	out := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		sym := strings.ToUpper(strings.TrimSpace(s.Symbol))
		if sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
