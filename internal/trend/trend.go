// Package trend derives a coarse regime label per symbol and horizon from
// indicator snapshots. The indicator math is external (go-talib); only the
// thresholding lives here.
package trend

import (
	"context"
	"errors"

	"gridbot/internal/analysis/indicator"
	"gridbot/internal/market"
)

type Label string

const (
	Uptrend   Label = "uptrend"
	Downtrend Label = "downtrend"
	Sideways  Label = "sideways"
	Unknown   Label = "unknown"
)

type Horizon string

const (
	HorizonShort Horizon = "short"
	HorizonLong  Horizon = "long"
)

type Thresholds struct {
	// MinADX below which the regime is called sideways regardless of the
	// directional signals.
	MinADX float64
	// RSIUpper/RSILower bound the momentum confirmation: an uptrend call
	// needs RSI above RSILower, a downtrend call RSI below RSIUpper.
	RSIUpper float64
	RSILower float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MinADX <= 0 {
		t.MinADX = 20
	}
	if t.RSIUpper <= 0 {
		t.RSIUpper = 60
	}
	if t.RSILower <= 0 {
		t.RSILower = 40
	}
	return t
}

// Classify maps an indicator snapshot to a regime label. Sideways is the
// conservative default when the directional signals disagree.
func Classify(snap indicator.Snapshot, th Thresholds) Label {
	th = th.withDefaults()
	if snap.Close <= 0 || snap.EMAFast <= 0 || snap.EMASlow <= 0 {
		return Unknown
	}
	if snap.ADX < th.MinADX {
		return Sideways
	}
	bullish := snap.EMAFast > snap.EMASlow && snap.MACDHist > 0 && snap.RSI > th.RSILower
	bearish := snap.EMAFast < snap.EMASlow && snap.MACDHist < 0 && snap.RSI < th.RSIUpper
	switch {
	case bullish && !bearish:
		return Uptrend
	case bearish && !bullish:
		return Downtrend
	default:
		return Sideways
	}
}

// Classifier reads the candle buffer for a (symbol, horizon interval) and
// returns its label. Insufficient history yields Unknown, not an error.
type Classifier struct {
	Store      market.KlineStore
	Settings   indicator.Settings
	Thresholds Thresholds
}

func (c *Classifier) Classify(ctx context.Context, symbol, interval string) Label {
	if c == nil || c.Store == nil {
		return Unknown
	}
	candles, err := c.Store.Get(ctx, symbol, interval)
	if err != nil {
		return Unknown
	}
	snap, err := indicator.Compute(candles, c.Settings)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			return Unknown
		}
		return Unknown
	}
	return Classify(snap, c.Thresholds)
}
