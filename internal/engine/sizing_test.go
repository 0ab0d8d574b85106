package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/gateway/exchange"
	"gridbot/internal/store"
)

func TestQuantize(t *testing.T) {
	assert.Equal(t, 1.692, quantize(1.6929, 0.001))
	assert.Equal(t, 0.0, quantize(0.0009, 0.001))
	assert.Equal(t, 2.5, quantize(2.5, 0.001))
	assert.Equal(t, 1.5, quantize(1.5, 0), "zero step leaves qty as-is")
	assert.Equal(t, 0.0, quantize(-1, 0.001))
	// the classic float trap: 0.29999999... must still land on 0.2 exactly
	assert.Equal(t, 0.2, quantize(0.1+0.1+0.0999999, 0.1))
}

func TestBuyQuantity(t *testing.T) {
	assert.Equal(t, 20.0, buyQuantity(2000, 100, 0.001))
	assert.Equal(t, 0.0, buyQuantity(0, 100, 0.001))
	assert.Equal(t, 0.0, buyQuantity(2000, 0, 0.001))
}

func TestOrderValueCountsLockedAndBase(t *testing.T) {
	venue := newFakeVenue()
	venue.balances = map[string]exchange.Balance{
		"USDT": {Free: 600, Locked: 400}, // 400 locked in resting buys
		"BTC":  {Free: 0.02, Locked: 0.03},
	}
	e := New(Config{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", MaxPairs: 5, AllocationRatio: 0.5},
		venue, store.NewMemoryKlineStore(), store.NewMemoryTickStore(10), nil, nil, nil)

	// 600 + 400 + 0.05*20000 = 2000; 0.5 * 2000 / 5 = 200
	v, err := e.orderValue(context.Background(), 20000)
	require.NoError(t, err)
	assert.InDelta(t, 200, v, 1e-9)
}

func TestOrderValueEmptyAccount(t *testing.T) {
	venue := newFakeVenue()
	venue.balances = map[string]exchange.Balance{}
	e := New(Config{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"},
		venue, store.NewMemoryKlineStore(), store.NewMemoryTickStore(10), nil, nil, nil)

	_, err := e.orderValue(context.Background(), 100)
	assert.Error(t, err)
}
