// Package indicator adapts the external TA-Lib bindings into the snapshot
// the trend gate and the grid engine consume. The math itself lives in
// go-talib; this package only shapes inputs and guards against short history.
package indicator

import (
	"errors"
	"math"

	"github.com/markcheno/go-talib"

	"gridbot/internal/market"
)

var ErrInsufficientData = errors.New("insufficient candles for indicators")

// Settings 指标参数。
type Settings struct {
	EMAFast   int
	EMASlow   int
	RSIPeriod int
	ADXPeriod int
	ATRPeriod int
}

func (s Settings) withDefaults() Settings {
	if s.EMAFast <= 0 {
		s.EMAFast = 21
	}
	if s.EMASlow <= 0 {
		s.EMASlow = 50
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.ADXPeriod <= 0 {
		s.ADXPeriod = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	return s
}

// MinCandles returns the history needed before a snapshot is meaningful.
func (s Settings) MinCandles() int {
	s = s.withDefaults()
	need := s.EMASlow
	if 2*s.ADXPeriod > need {
		need = 2 * s.ADXPeriod
	}
	// MACD slow period plus signal
	if 26+9 > need {
		need = 26 + 9
	}
	return need + 1
}

// Snapshot 单个 symbol+interval 的最新指标值。
type Snapshot struct {
	Close    float64
	EMAFast  float64
	EMASlow  float64
	RSI      float64
	ADX      float64
	MACDHist float64
	ATR      float64
}

// Compute returns the latest indicator values for the candle window.
// Returns ErrInsufficientData when the window is shorter than MinCandles,
// so callers can treat the symbol as "not ready" instead of trading on
// half-seeded series.
func Compute(candles []market.Candle, cfg Settings) (Snapshot, error) {
	cfg = cfg.withDefaults()
	if len(candles) < cfg.MinCandles() {
		return Snapshot{}, ErrInsufficientData
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	_, _, hist := talib.Macd(closes, 12, 26, 9)
	snap := Snapshot{
		Close:    closes[len(closes)-1],
		EMAFast:  lastValid(talib.Ema(closes, cfg.EMAFast)),
		EMASlow:  lastValid(talib.Ema(closes, cfg.EMASlow)),
		RSI:      lastValid(talib.Rsi(closes, cfg.RSIPeriod)),
		ADX:      lastValid(talib.Adx(highs, lows, closes, cfg.ADXPeriod)),
		MACDHist: lastValid(hist),
		ATR:      lastValid(talib.Atr(highs, lows, closes, cfg.ATRPeriod)),
	}
	if snap.EMAFast == 0 || snap.EMASlow == 0 {
		return Snapshot{}, ErrInsufficientData
	}
	return snap, nil
}

// ATR 单独计算波动率，供网格间距使用。
func ATR(candles []market.Candle, period int) (float64, error) {
	if period <= 0 {
		period = 14
	}
	if len(candles) < period+1 {
		return 0, ErrInsufficientData
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	v := lastValid(talib.Atr(highs, lows, closes, period))
	if v <= 0 {
		return 0, ErrInsufficientData
	}
	return v, nil
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v != 0 {
			return v
		}
	}
	return 0
}
