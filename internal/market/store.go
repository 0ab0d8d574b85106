package market

import "context"

// KlineStore holds the per (symbol, interval) candle buffers. Put merges by
// open time (idempotent upsert), Set replaces the whole buffer (re-seed).
type KlineStore interface {
	Get(ctx context.Context, symbol, interval string) ([]Candle, error)
	Set(ctx context.Context, symbol, interval string, klines []Candle) error
	Put(ctx context.Context, symbol, interval string, klines []Candle, max int) error
}

// TickStore holds the per-symbol last-trade ring.
type TickStore interface {
	Append(symbol string, ticks ...Tick) error
	Last(symbol string) (Tick, bool)
	Recent(symbol string, n int) []Tick
}
