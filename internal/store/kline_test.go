package store

import (
	"context"
	"math"
	"testing"

	"gridbot/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candle(openTime int64, close float64) market.Candle {
	return market.Candle{
		OpenTime:  openTime,
		CloseTime: openTime + 59_999,
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    10,
	}
}

func TestPutMergesAndSorts(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "BTCUSDT", "1m", []market.Candle{candle(3000, 103), candle(1000, 101)}, 300))
	require.NoError(t, s.Put(ctx, "BTCUSDT", "1m", []market.Candle{candle(2000, 102)}, 300))

	got, err := s.Get(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1000, 2000, 3000}, []int64{got[0].OpenTime, got[1].OpenTime, got[2].OpenTime})
}

func TestPutIdempotent(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	batch := []market.Candle{candle(1000, 101), candle(2000, 102), candle(3000, 103)}

	require.NoError(t, s.Put(ctx, "ETHUSDT", "1m", batch, 300))
	once, err := s.Get(ctx, "ETHUSDT", "1m")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "ETHUSDT", "1m", batch, 300))
	twice, err := s.Get(ctx, "ETHUSDT", "1m")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestPutDuplicateTimestampKeepsNewest(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "BTCUSDT", "1m", []market.Candle{candle(1000, 101)}, 300))
	updated := candle(1000, 105)
	require.NoError(t, s.Put(ctx, "BTCUSDT", "1m", []market.Candle{updated}, 300))

	got, err := s.Get(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 105.0, got[0].Close)
}

func TestPutEnforcesCap(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Put(ctx, "BTCUSDT", "1m", []market.Candle{candle(int64(1000+i*60000), 100)}, 5))
	}
	got, err := s.Get(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].OpenTime, got[i-1].OpenTime, "timestamps strictly increasing")
	}
	assert.Equal(t, int64(1000+19*60000), got[4].OpenTime, "oldest entries evicted")
}

func TestPutRejectsWholeBatchOnInvalidRow(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	bad := candle(2000, 102)
	bad.Close = math.NaN()

	err := s.Put(ctx, "BTCUSDT", "1m", []market.Candle{candle(1000, 101), bad}, 300)
	assert.ErrorIs(t, err, ErrInvalidCandle)

	got, gerr := s.Get(ctx, "BTCUSDT", "1m")
	require.NoError(t, gerr)
	assert.Empty(t, got, "no partial merge")
}

func TestSetReplacesBuffer(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "BTCUSDT", "1m", []market.Candle{candle(1000, 101), candle(2000, 102)}, 300))
	require.NoError(t, s.Set(ctx, "BTCUSDT", "1m", []market.Candle{candle(5000, 110)}))

	got, err := s.Get(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5000), got[0].OpenTime)
}

func TestSymbolsDoNotLeak(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "BTCUSDT", "1m", []market.Candle{candle(1000, 101)}, 300))

	got, err := s.Get(ctx, "ETHUSDT", "1m")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Get(ctx, "BTCUSDT", "5m")
	require.NoError(t, err)
	assert.Empty(t, got)
}
