package market

import "math"

// Candle 单根 K 线，时间戳为毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Valid reports whether the candle can be committed to a buffer: positive
// open time and finite, non-zero prices. Rows failing this poison ATR/trend
// math downstream, so stores must reject the whole batch.
func (c Candle) Valid() bool {
	if c.OpenTime <= 0 {
		return false
	}
	for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return !math.IsNaN(c.Volume) && !math.IsInf(c.Volume, 0)
}

// Tick 最新成交快照。
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	EventTime int64   `json:"event_time"`
	TradeTime int64   `json:"trade_time"`
}

func (t Tick) Valid() bool {
	return t.TradeTime > 0 && t.Price > 0 && !math.IsNaN(t.Price) && !math.IsInf(t.Price, 0)
}
