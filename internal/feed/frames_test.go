package feed

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"gridbot/internal/store"
)

const klineFrame = `{
  "stream": "btcusdt@kline_1m",
  "data": {
    "e": "kline", "E": 1700000060000, "s": "BTCUSDT",
    "k": {
      "t": 1700000000000, "T": 1700000059999, "s": "BTCUSDT", "i": "1m",
      "o": "100.1", "c": "101.2", "h": "101.5", "l": "99.9", "v": "12.5", "n": 42, "x": true
    }
  }
}`

const tradeFrame = `{
  "stream": "btcusdt@trade",
  "data": {
    "e": "trade", "E": 1700000061000, "s": "BTCUSDT",
    "t": 7, "p": "101.3", "q": "0.25", "T": 1700000060500
  }
}`

func newTestDriver() *Driver {
	return NewDriver(Config{URL: "ws://test", Symbols: []string{"BTCUSDT"}, Intervals: []string{"1m"}},
		store.NewMemoryKlineStore(), store.NewMemoryTickStore(100), 300, nil)
}

func TestParseKlineFrame(t *testing.T) {
	data := gjson.Parse(klineFrame).Get("data")
	evt, ok := parseKlineFrame(data)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", evt.Symbol)
	assert.Equal(t, "1m", evt.Interval)
	assert.Equal(t, int64(1700000000000), evt.Candle.OpenTime)
	assert.Equal(t, 101.2, evt.Candle.Close)
	assert.Equal(t, int64(42), evt.Candle.Trades)
}

func TestParseKlineFrameRejectsBadPrices(t *testing.T) {
	data := gjson.Parse(`{"e":"kline","s":"BTCUSDT","k":{"t":1,"T":2,"i":"1m","o":"0","c":"0","h":"0","l":"0","v":"0"}}`)
	_, ok := parseKlineFrame(data)
	assert.False(t, ok)
}

func TestParseTradeFrame(t *testing.T) {
	data := gjson.Parse(tradeFrame).Get("data")
	tick, ok := parseTradeFrame(data)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, 101.3, tick.Price)
	assert.Equal(t, int64(1700000060500), tick.TradeTime)
}

func TestHandleFrameRoutesToStores(t *testing.T) {
	d := newTestDriver()

	d.handleFrame([]byte(klineFrame))
	d.handleFrame([]byte(tradeFrame))

	candles, err := d.klines.Get(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 101.2, candles[0].Close)

	last, ok := d.ticks.Last("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 101.3, last.Price)
}

func TestHandleFrameMalformedIsSkipped(t *testing.T) {
	d := newTestDriver()
	d.handleFrame([]byte(`{not json`))
	d.handleFrame([]byte(`{"stream":"x","data":{"e":"kline","k":{"i":""}}}`))

	candles, err := d.klines.Get(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestHandleFrameSignalsAck(t *testing.T) {
	d := newTestDriver()
	id, ack := d.registerAck()

	d.handleFrame([]byte(`{"result":null,"id":` + strconv.FormatInt(id, 10) + `}`))

	select {
	case <-ack:
	default:
		t.Fatal("ack not signaled")
	}
}

func TestChannels(t *testing.T) {
	d := newTestDriver()
	chans := d.channels("lkey123")
	assert.Equal(t, []string{"btcusdt@kline_1m", "btcusdt@trade", "lkey123"}, chans)

	chans = d.channels("")
	assert.Equal(t, []string{"btcusdt@kline_1m", "btcusdt@trade"}, chans)
}
