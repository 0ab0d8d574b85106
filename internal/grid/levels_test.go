package grid

import (
	"sort"
	"testing"

	"gridbot/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpacingVolatilityWithFloor(t *testing.T) {
	cfg := Config{Levels: 5, VolatilityMult: 2, MinSpacingPct: 0.01}

	assert.Equal(t, 10.0, Spacing(100, 5, cfg), "volatility dominates")
	assert.Equal(t, 1.0, Spacing(100, 0.1, cfg), "percentage floor kicks in")
	assert.Equal(t, 1.0, Spacing(100, 0, cfg), "zero volatility still floored")
}

func TestLevelsMonotoneAndStraddlePrice(t *testing.T) {
	cfg := Config{Levels: 5, VolatilityMult: 1, MinSpacingPct: 0.001}
	price := 100.0

	levels, err := Levels(price, 2, cfg)
	require.NoError(t, err)
	require.Len(t, levels, 10)
	assert.True(t, sort.Float64sAreSorted(levels))
	for i := 1; i < len(levels); i++ {
		assert.Greater(t, levels[i], levels[i-1], "strictly increasing")
	}
	// price sits strictly between the Kth and (K+1)th level
	assert.Less(t, levels[4], price)
	assert.Greater(t, levels[5], price)
	assert.InDelta(t, 99.0, levels[4], 1e-9)
	assert.InDelta(t, 101.0, levels[5], 1e-9)
}

func TestLevelsDropNonPositive(t *testing.T) {
	cfg := Config{Levels: 3, VolatilityMult: 1, MinSpacingPct: 0.001}
	levels, err := Levels(1.0, 1.0, cfg)
	require.NoError(t, err)
	for _, l := range levels {
		assert.Greater(t, l, 0.0)
	}
}

func TestLevelsNotReady(t *testing.T) {
	cfg := Config{}
	_, err := Levels(0, 1, cfg)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = Levels(100, -1, cfg)
	assert.ErrorIs(t, err, ErrNotReady)
}

func ticksAt(prices ...float64) []market.Tick {
	out := make([]market.Tick, len(prices))
	for i, p := range prices {
		out[i] = market.Tick{Symbol: "BTCUSDT", Price: p, TradeTime: int64(i + 1)}
	}
	return out
}

func TestNeedsResetBreakout(t *testing.T) {
	// grid levels [90,95,100,105,110]; 30 consecutive ticks above 110
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 111 + float64(i)*0.1
	}
	assert.True(t, NeedsReset(ticksAt(prices...), 110, 30))
}

func TestNeedsResetInsufficientTicks(t *testing.T) {
	prices := make([]float64, 29)
	for i := range prices {
		prices[i] = 120
	}
	assert.False(t, NeedsReset(ticksAt(prices...), 110, 30), "no false positive under window")
}

func TestNeedsResetTouchDoesNotTrigger(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 120
	}
	prices[15] = 110 // equal to max level, not strictly above
	assert.False(t, NeedsReset(ticksAt(prices...), 110, 30))
}

func TestNeedsResetDownwardBreakoutIgnored(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 50 // far below the ladder
	}
	assert.False(t, NeedsReset(ticksAt(prices...), 110, 30), "asymmetric: downward never resets")
}
