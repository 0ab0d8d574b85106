// Package grid computes the ladder of price levels a symbol trades on.
package grid

import (
	"errors"
	"math"
	"sort"

	"gridbot/internal/market"
)

var ErrNotReady = errors.New("grid inputs not ready")

type Config struct {
	// Levels is K: levels generated below and above current price.
	Levels int
	// VolatilityMult scales the volatility estimate (e.g. ATR) into spacing.
	VolatilityMult float64
	// MinSpacingPct floors spacing at a fraction of current price so
	// low-volatility regimes do not collapse the ladder.
	MinSpacingPct float64
	// ResetWindow is the consecutive-tick count for the breakout detector.
	ResetWindow int
}

func (c Config) withDefaults() Config {
	if c.Levels <= 0 {
		c.Levels = 5
	}
	if c.VolatilityMult <= 0 {
		c.VolatilityMult = 1.5
	}
	if c.MinSpacingPct <= 0 {
		c.MinSpacingPct = 0.002
	}
	if c.ResetWindow <= 0 {
		c.ResetWindow = 30
	}
	return c
}

// Spacing = max(volatility*mult, price*minPct).
func Spacing(price, volatility float64, cfg Config) float64 {
	cfg = cfg.withDefaults()
	s := volatility * cfg.VolatilityMult
	if floor := price * cfg.MinSpacingPct; s < floor {
		s = floor
	}
	return s
}

// Levels returns the sorted ladder around price: K levels below and K above
// at half-spacing offsets, price ± (i+0.5)*spacing. Pure function.
func Levels(price, volatility float64, cfg Config) ([]float64, error) {
	cfg = cfg.withDefaults()
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, ErrNotReady
	}
	if volatility < 0 || math.IsNaN(volatility) {
		return nil, ErrNotReady
	}
	spacing := Spacing(price, volatility, cfg)
	out := make([]float64, 0, 2*cfg.Levels)
	for i := 0; i < cfg.Levels; i++ {
		offset := (float64(i) + 0.5) * spacing
		if lower := price - offset; lower > 0 {
			out = append(out, lower)
		}
		out = append(out, price+offset)
	}
	sort.Float64s(out)
	return dedupSorted(out), nil
}

// NeedsReset reports a sustained upward breakout: the most recent window
// ticks are all strictly above maxLevel. Fewer than window ticks never
// triggers. Downward breakouts intentionally do not reset (see DESIGN.md).
func NeedsReset(ticks []market.Tick, maxLevel float64, window int) bool {
	if window <= 0 {
		window = 30
	}
	if maxLevel <= 0 || len(ticks) < window {
		return false
	}
	for _, t := range ticks[len(ticks)-window:] {
		if t.Price <= maxLevel {
			return false
		}
	}
	return true
}

func dedupSorted(in []float64) []float64 {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
