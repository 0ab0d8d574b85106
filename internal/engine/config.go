package engine

import (
	"time"

	"gridbot/internal/grid"
	"gridbot/internal/pkg/retry"
)

type Config struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string

	Grid grid.Config

	// MaxPairs caps outstanding pairs per symbol (open orders plus adopted
	// stray sells).
	MaxPairs int
	// AllocationRatio is the fraction of total account value this symbol's
	// ladder may deploy.
	AllocationRatio float64
	// QtyStep rounds order quantities down to the venue lot size.
	QtyStep float64

	ShortInterval string
	LongInterval  string
	ATRPeriod     int

	// Interval is the reconciliation cadence.
	Interval time.Duration
	Retry    retry.Policy

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseAsset == "" && len(c.Symbol) > 4 {
		// BTCUSDT style; explicit config wins for anything unusual
		c.BaseAsset = c.Symbol[:len(c.Symbol)-4]
		c.QuoteAsset = c.Symbol[len(c.Symbol)-4:]
	}
	if c.MaxPairs <= 0 {
		c.MaxPairs = 5
	}
	if c.AllocationRatio <= 0 || c.AllocationRatio > 1 {
		c.AllocationRatio = 0.5
	}
	if c.QtyStep <= 0 {
		c.QtyStep = 0.00001
	}
	if c.ShortInterval == "" {
		c.ShortInterval = "15m"
	}
	if c.LongInterval == "" {
		c.LongInterval = "4h"
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.Interval <= 0 {
		c.Interval = 20 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}
