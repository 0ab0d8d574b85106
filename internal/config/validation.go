package config

import (
	"fmt"
	"strings"

	"gridbot/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Trend.validate(); err != nil {
		return err
	}
	if err := c.Grid.validate(); err != nil {
		return err
	}
	return validateSymbols(c.Symbols)
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url must not be empty")
	}
	if strings.TrimSpace(m.WSURL) == "" {
		return fmt.Errorf("market.ws_url must not be empty")
	}
	return nil
}

func (t *TrendConfig) validate() error {
	for _, iv := range []string{t.ShortInterval, t.LongInterval} {
		if _, ok := scheduler.ParseIntervalDuration(iv); !ok {
			return fmt.Errorf("trend interval %q invalid", iv)
		}
	}
	if t.RSIUpper > 0 && t.RSILower > 0 && t.RSILower >= t.RSIUpper {
		return fmt.Errorf("trend.rsi_lower (%v) must be below trend.rsi_upper (%v)", t.RSILower, t.RSIUpper)
	}
	return nil
}

func (g *GridConfig) validate() error {
	if g.Levels <= 0 {
		return fmt.Errorf("grid.levels must be positive")
	}
	if g.AllocationRatio <= 0 || g.AllocationRatio > 1 {
		return fmt.Errorf("grid.allocation_ratio must be in (0, 1]")
	}
	if g.MinSpacingPct <= 0 || g.MinSpacingPct >= 1 {
		return fmt.Errorf("grid.min_spacing_pct must be in (0, 1)")
	}
	return nil
}

func validateSymbols(symbols []SymbolConfig) error {
	if len(symbols) == 0 {
		return fmt.Errorf("symbols requires at least one entry")
	}
	seen := make(map[string]bool, len(symbols))
	for i := range symbols {
		s := &symbols[i]
		sym := strings.ToUpper(strings.TrimSpace(s.Symbol))
		s.Symbol = sym
		if sym == "" {
			return fmt.Errorf("symbols contains entry without symbol")
		}
		if seen[sym] {
			return fmt.Errorf("symbols contains duplicate entry: %s", sym)
		}
		seen[sym] = true
		if strings.TrimSpace(s.BaseAsset) == "" || strings.TrimSpace(s.QuoteAsset) == "" {
			return fmt.Errorf("symbols.%s requires base_asset and quote_asset", sym)
		}
		if s.AllocationRatio < 0 || s.AllocationRatio > 1 {
			return fmt.Errorf("symbols.%s allocation_ratio must be in [0, 1]", sym)
		}
	}
	return nil
}
