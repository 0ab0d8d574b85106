package feed

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"gridbot/internal/logger"
	"gridbot/internal/market"
)

// handleFrame routes one inbound frame. Malformed frames are logged and
// skipped; a bad message must never take the connection down.
func (d *Driver) handleFrame(payload []byte) {
	if !gjson.ValidBytes(payload) {
		logger.Warnf("[feed] 非法帧，跳过: %.120s", string(payload))
		return
	}
	root := gjson.ParseBytes(payload)

	// subscribe/unsubscribe ack: {"result":null,"id":N}
	if id := root.Get("id"); id.Exists() {
		d.signalAck(id.Int())
		return
	}

	// combined stream envelope: {"stream":"...","data":{...}}
	data := root
	if inner := root.Get("data"); inner.Exists() {
		data = inner
	}
	switch data.Get("e").String() {
	case "kline":
		d.applyKline(data)
	case "trade", "aggTrade":
		d.applyTrade(data)
	default:
		// listen-key/user-data events and unknown types are ignored here
	}
}

func parseKlineFrame(data gjson.Result) (market.CandleEvent, bool) {
	k := data.Get("k")
	if !k.Exists() {
		return market.CandleEvent{}, false
	}
	symbol := strings.ToUpper(data.Get("s").String())
	interval := strings.ToLower(k.Get("i").String())
	c := market.Candle{
		OpenTime:  k.Get("t").Int(),
		CloseTime: k.Get("T").Int(),
		Open:      k.Get("o").Float(),
		High:      k.Get("h").Float(),
		Low:       k.Get("l").Float(),
		Close:     k.Get("c").Float(),
		Volume:    k.Get("v").Float(),
		Trades:    k.Get("n").Int(),
	}
	if symbol == "" || interval == "" || !c.Valid() {
		return market.CandleEvent{}, false
	}
	return market.CandleEvent{Symbol: symbol, Interval: interval, Candle: c}, true
}

func parseTradeFrame(data gjson.Result) (market.Tick, bool) {
	t := market.Tick{
		Symbol:    strings.ToUpper(data.Get("s").String()),
		Price:     data.Get("p").Float(),
		Quantity:  data.Get("q").Float(),
		EventTime: data.Get("E").Int(),
		TradeTime: data.Get("T").Int(),
	}
	if t.Symbol == "" || !t.Valid() {
		return market.Tick{}, false
	}
	return t, true
}

func (d *Driver) applyKline(data gjson.Result) {
	evt, ok := parseKlineFrame(data)
	if !ok {
		logger.Debugf("[feed] kline 帧解析失败，跳过")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.klines.Put(ctx, evt.Symbol, evt.Interval, []market.Candle{evt.Candle}, d.maxKlines); err != nil {
		logger.Warnf("[feed] 写入 %s %s 失败: %v", evt.Symbol, evt.Interval, err)
	}
}

func (d *Driver) applyTrade(data gjson.Result) {
	tick, ok := parseTradeFrame(data)
	if !ok {
		logger.Debugf("[feed] trade 帧解析失败，跳过")
		return
	}
	if err := d.ticks.Append(tick.Symbol, tick); err != nil {
		logger.Warnf("[feed] 写入 tick %s 失败: %v", tick.Symbol, err)
	}
}
