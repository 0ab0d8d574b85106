package store

import (
	"testing"

	"gridbot/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(tradeTime int64, price float64) market.Tick {
	return market.Tick{Symbol: "BTCUSDT", Price: price, Quantity: 1, EventTime: tradeTime, TradeTime: tradeTime}
}

func TestTickAppendDedupAndCap(t *testing.T) {
	s := NewMemoryTickStore(3)
	require.NoError(t, s.Append("BTCUSDT", tick(1, 100), tick(2, 101), tick(2, 102), tick(3, 103), tick(4, 104)))

	recent := s.Recent("BTCUSDT", 10)
	require.Len(t, recent, 3, "capped")
	assert.Equal(t, []int64{2, 3, 4}, []int64{recent[0].TradeTime, recent[1].TradeTime, recent[2].TradeTime})
	assert.Equal(t, 102.0, recent[0].Price, "duplicate trade time keeps newest")

	last, ok := s.Last("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 104.0, last.Price)
}

func TestTickAppendDropsOutOfOrder(t *testing.T) {
	s := NewMemoryTickStore(10)
	require.NoError(t, s.Append("BTCUSDT", tick(5, 100), tick(3, 99)))
	recent := s.Recent("BTCUSDT", 10)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(5), recent[0].TradeTime)
}

func TestTickLastEmpty(t *testing.T) {
	s := NewMemoryTickStore(10)
	_, ok := s.Last("BTCUSDT")
	assert.False(t, ok)
	assert.Nil(t, s.Recent("BTCUSDT", 5))
}
