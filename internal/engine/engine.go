// Package engine reconciles the grid ledger against the execution venue.
// Every cycle re-reads venue order records and derives all local state from
// them, so a missed cycle or restart never leaves phantom state behind: the
// next cycle converges to the same ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gridbot/internal/analysis/indicator"
	"gridbot/internal/gateway/exchange"
	"gridbot/internal/grid"
	"gridbot/internal/logger"
	"gridbot/internal/market"
	"gridbot/internal/pkg/circuit"
	"gridbot/internal/scheduler"
	"gridbot/internal/trend"
)

var ErrBreakerOpen = errors.New("venue breaker open")

// FillRecord is handed to the Recorder whenever a tracked order reaches
// FILLED, for persistence and later inspection.
type FillRecord struct {
	Symbol   string
	OrderID  int64
	Side     exchange.Side
	Price    float64
	Quantity float64
	FilledAt time.Time
}

type Recorder interface {
	RecordFill(ctx context.Context, fill FillRecord) error
}

// RegimeClassifier labels the market regime for one horizon interval.
// *trend.Classifier is the production implementation.
type RegimeClassifier interface {
	Classify(ctx context.Context, symbol, interval string) trend.Label
}

type Engine struct {
	cfg    Config
	venue  exchange.Venue
	klines market.KlineStore
	ticks  market.TickStore
	ledger *Ledger

	breaker *circuit.Breaker
	short   RegimeClassifier
	long    RegimeClassifier
	rec     Recorder

	halted atomic.Bool
	// suspended and levels belong to the cycle goroutine; mu guards the
	// read-only views handed to the HTTP layer.
	mu        sync.RWMutex
	suspended bool
	levels    []float64
	spacing   float64
}

func New(cfg Config, venue exchange.Venue, klines market.KlineStore, ticks market.TickStore, short, long RegimeClassifier, rec Recorder) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:     cfg,
		venue:   venue,
		klines:  klines,
		ticks:   ticks,
		ledger:  NewLedger(),
		breaker: circuit.NewBreaker("venue:"+cfg.Symbol, cfg.BreakerThreshold, cfg.BreakerCooldown),
		short:   short,
		long:    long,
		rec:     rec,
	}
}

func (e *Engine) Symbol() string { return e.cfg.Symbol }

// Halt pauses order placement; bookkeeping continues so fills and cancels
// arriving while halted are still observed.
func (e *Engine) Halt()        { e.halted.Store(true) }
func (e *Engine) Resume()      { e.halted.Store(false) }
func (e *Engine) Halted() bool { return e.halted.Load() }

func (e *Engine) Suspended() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.suspended
}

func (e *Engine) Pairs() []PairView { return e.ledger.Snapshot() }

func (e *Engine) Levels() []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]float64, len(e.levels))
	copy(out, e.levels)
	return out
}

// Run drives Cycle on the configured cadence until ctx cancels.
func (e *Engine) Run(ctx context.Context) error {
	loop := &scheduler.Loop{Name: "engine:" + e.cfg.Symbol, Interval: e.cfg.Interval, RunImmediately: true}
	loop.Start(ctx, func(c context.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[%s] 对账周期 panic: %v", e.cfg.Symbol, r)
			}
		}()
		if err := e.Cycle(c); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warnf("[%s] 对账周期失败: %v", e.cfg.Symbol, err)
		}
	})
	return ctx.Err()
}

// Cycle is one reconciliation pass: sync venue records, update tracked
// pairs, adopt or cancel strays, recycle terminal pairs, then maintain the
// ladder. Running it twice against an unchanged venue is a no-op.
func (e *Engine) Cycle(ctx context.Context) error {
	records, err := e.syncOrders(ctx)
	if err != nil {
		// ledger untouched; a stale view is safer than a guessed one
		return fmt.Errorf("sync orders: %w", err)
	}
	e.updatePairs(ctx, records)
	e.detectStrays(ctx, records)
	e.recycle()

	if e.halted.Load() {
		logger.Debugf("[%s] 已手动暂停，仅做账本维护", e.cfg.Symbol)
		return nil
	}

	price, ok := e.currentPrice(ctx)
	if !ok {
		logger.Warnf("[%s] 暂无可用价格，跳过网格维护", e.cfg.Symbol)
		return nil
	}

	longLabel := e.label(ctx, e.long, e.cfg.LongInterval)
	if longLabel == trend.Downtrend {
		e.liquidate(ctx, price)
		return nil
	}
	if e.Suspended() {
		if longLabel != trend.Uptrend && longLabel != trend.Sideways {
			return nil
		}
		logger.Infof("[%s] 长周期趋势恢复（%s），重启网格", e.cfg.Symbol, longLabel)
		e.mu.Lock()
		e.suspended = false
		e.levels = nil
		e.mu.Unlock()
	}

	if err := e.ensureLadder(ctx, price); err != nil {
		logger.Warnf("[%s] 网格生成失败: %v", e.cfg.Symbol, err)
		return nil
	}

	shortLabel := e.label(ctx, e.short, e.cfg.ShortInterval)
	buysAllowed := shortLabel != trend.Downtrend
	if !buysAllowed {
		e.cancelOpenBuys(ctx, "短周期下跌")
	}

	if buysAllowed {
		e.topUp(price)
	}
	e.enforceLimit(ctx)

	orderValue, err := e.orderValue(ctx, price)
	if err != nil {
		logger.Warnf("[%s] 读取余额失败，跳过下单: %v", e.cfg.Symbol, err)
		return nil
	}
	e.placeOrders(ctx, orderValue, buysAllowed)
	return nil
}

func (e *Engine) label(ctx context.Context, c RegimeClassifier, interval string) trend.Label {
	if c == nil {
		return trend.Unknown
	}
	return c.Classify(ctx, e.cfg.Symbol, interval)
}

// call wraps a venue operation with the retry policy and circuit breaker.
func (e *Engine) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if !e.breaker.Allow() {
		return fmt.Errorf("%s: %w", op, ErrBreakerOpen)
	}
	if err := e.cfg.Retry.Do(ctx, fn); err != nil {
		e.breaker.RecordFailure()
		return err
	}
	e.breaker.RecordSuccess()
	return nil
}

func (e *Engine) syncOrders(ctx context.Context) (map[int64]exchange.OrderRecord, error) {
	var recs []exchange.OrderRecord
	err := e.call(ctx, "fetch_orders", func(c context.Context) error {
		var ferr error
		recs, ferr = e.venue.FetchOrders(c, e.cfg.Symbol)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]exchange.OrderRecord, len(recs))
	for _, r := range recs {
		out[r.ID] = r
	}
	return out, nil
}

func (e *Engine) updatePairs(ctx context.Context, records map[int64]exchange.OrderRecord) {
	e.ledger.each(func(key string, p *GridPair) {
		e.updateSide(ctx, p, &p.Buy, exchange.SideBuy, records)
		e.updateSide(ctx, p, &p.Sell, exchange.SideSell, records)
	})
}

func (e *Engine) updateSide(ctx context.Context, p *GridPair, side *PairSide, dir exchange.Side, records map[int64]exchange.OrderRecord) {
	if side.OrderID == 0 || side.State.Terminal() {
		return
	}
	rec, found := records[side.OrderID]
	var next SideState
	filled := side.Quantity
	if found {
		next = stateFromStatus(rec.Status)
		filled = rec.Filled
	} else {
		// the venue no longer reports the order at all; assume it filled
		// so the exit leg is never skipped on a lost record
		logger.Warnf("[%s] 订单 %d 在交易所记录中消失，按已成交处理", e.cfg.Symbol, side.OrderID)
		next = SideClosed
	}
	if p.Stray && next == SideOpen {
		return // adopted sells keep the stray marker while they rest
	}
	if next == side.State {
		return
	}
	prev := side.State
	side.State = next
	logger.Infof("[%s] 订单 %d (%s @%.8f) %s -> %s", e.cfg.Symbol, side.OrderID, dir, e.sidePrice(p, dir), prev, next)
	if next != SideClosed {
		return
	}
	if filled <= 0 {
		logger.Warnf("[%s] 订单 %d 已成交但成交量为 0，回退为下单数量 %.8f", e.cfg.Symbol, side.OrderID, side.Quantity)
		filled = side.Quantity
	}
	if dir == exchange.SideBuy && !p.Stray && p.Sell.State == SideNone && p.Sell.OrderID == 0 {
		// the sell leg exits exactly what the buy acquired
		p.Sell.Quantity = filled
	}
	e.recordFill(ctx, side.OrderID, dir, e.sidePrice(p, dir), filled)
}

func (e *Engine) sidePrice(p *GridPair, dir exchange.Side) float64 {
	if dir == exchange.SideBuy {
		return p.BuyPrice
	}
	return p.SellPrice
}

func (e *Engine) recordFill(ctx context.Context, orderID int64, dir exchange.Side, price, qty float64) {
	if e.rec == nil {
		return
	}
	fill := FillRecord{Symbol: e.cfg.Symbol, OrderID: orderID, Side: dir, Price: price, Quantity: qty, FilledAt: time.Now()}
	if err := e.rec.RecordFill(ctx, fill); err != nil {
		logger.Warnf("[%s] 成交记录落库失败 id=%d: %v", e.cfg.Symbol, orderID, err)
	}
}

// detectStrays handles venue orders no tracked pair references: sells are
// adopted (they exit inventory we presumably hold), buys are canceled.
func (e *Engine) detectStrays(ctx context.Context, records map[int64]exchange.OrderRecord) {
	for id, rec := range records {
		if !rec.Status.Open() || e.ledger.References(id) {
			continue
		}
		switch rec.Side {
		case exchange.SideSell:
			key := strayKey(id)
			if _, ok := e.ledger.Get(key); ok {
				continue
			}
			e.ledger.Put(key, &GridPair{
				Stray:     true,
				SellPrice: rec.Price,
				Sell:      PairSide{OrderID: id, State: SideStray, Quantity: rec.Remaining},
			})
			logger.Warnf("[%s] 收养游离卖单 id=%d price=%.8f qty=%.8f", e.cfg.Symbol, id, rec.Price, rec.Remaining)
		case exchange.SideBuy:
			logger.Errorf("[%s] 发现未知买单 id=%d price=%.8f qty=%.8f，执行撤单", e.cfg.Symbol, id, rec.Price, rec.Amount)
			err := e.call(ctx, "cancel_stray_buy", func(c context.Context) error {
				return e.venue.CancelOrder(c, e.cfg.Symbol, id)
			})
			if err != nil {
				logger.Errorf("[%s] 撤销游离买单 %d 失败: %v", e.cfg.Symbol, id, err)
			}
		}
	}
}

// recycle frees level slots so they can be reused. Cancel-class terminal
// buys clear completely; a cancel-class sell keeps its quantity and is
// re-placed, since the inventory it was exiting still exists.
func (e *Engine) recycle() {
	for _, key := range e.ledger.Keys() {
		p, ok := e.ledger.Get(key)
		if !ok {
			continue
		}
		if p.Stray {
			if p.Sell.State.Terminal() {
				logger.Infof("[%s] 游离卖单 %s 已了结（%s），移除", e.cfg.Symbol, key, p.Sell.State)
				e.ledger.Delete(key)
			}
			continue
		}
		switch p.Buy.State {
		case SideCanceled, SideRejected, SideExpired:
			p.Buy = PairSide{}
		}
		switch p.Sell.State {
		case SideCanceled, SideRejected, SideExpired:
			p.Sell = PairSide{Quantity: p.Sell.Quantity}
		}
		if p.Buy.State == SideClosed && p.Sell.State == SideClosed {
			logger.Infof("[%s] 网格 %.8f/%.8f 完成一轮买卖，回收槽位", e.cfg.Symbol, p.BuyPrice, p.SellPrice)
			p.Buy, p.Sell = PairSide{}, PairSide{}
		}
		// a fully idle slot that no longer sits on the ladder (post-reset)
		// would otherwise re-place a buy at a stale price
		if p.Buy.State == SideNone && p.Buy.OrderID == 0 && p.Sell.OrderID == 0 && p.Sell.Quantity == 0 && !e.inLadder(p.BuyPrice) {
			e.ledger.Delete(key)
		}
	}
}

func (e *Engine) inLadder(price float64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.levels) == 0 {
		return true
	}
	for _, lv := range e.levels {
		if lv == price {
			return true
		}
	}
	return false
}

func (e *Engine) currentPrice(ctx context.Context) (float64, bool) {
	if tick, ok := e.ticks.Last(e.cfg.Symbol); ok && tick.Price > 0 {
		return tick.Price, true
	}
	candles, err := e.klines.Get(ctx, e.cfg.Symbol, e.cfg.ShortInterval)
	if err != nil || len(candles) == 0 {
		return 0, false
	}
	last := candles[len(candles)-1]
	if last.Close <= 0 {
		return 0, false
	}
	return last.Close, true
}

// ensureLadder builds the level set on first use and rebuilds it after a
// sustained upward breakout. Downward moves never rebuild: buy levels below
// price simply wait.
func (e *Engine) ensureLadder(ctx context.Context, price float64) error {
	e.mu.RLock()
	have := len(e.levels) > 0
	var maxLevel float64
	if have {
		maxLevel = e.levels[len(e.levels)-1]
	}
	e.mu.RUnlock()

	if have {
		window := e.cfg.Grid.ResetWindow
		if window <= 0 {
			window = 30
		}
		ticks := e.ticks.Recent(e.cfg.Symbol, window)
		if !grid.NeedsReset(ticks, maxLevel, window) {
			return nil
		}
		logger.Infof("[%s] 价格连续 %d 笔成交高于网格上沿 %.8f，重建网格", e.cfg.Symbol, window, maxLevel)
		e.cancelOpenBuys(ctx, "网格重建")
	}

	atr := e.volatility(ctx)
	levels, err := grid.Levels(price, atr, e.cfg.Grid)
	if err != nil {
		return err
	}
	spacing := grid.Spacing(price, atr, e.cfg.Grid)
	e.mu.Lock()
	e.levels = levels
	e.spacing = spacing
	e.mu.Unlock()
	e.seedPairs(price)
	logger.Infof("[%s] 网格已生成 price=%.8f atr=%.8f spacing=%.8f levels=%d", e.cfg.Symbol, price, atr, spacing, len(levels))
	return nil
}

// volatility estimates ATR on the short interval; on insufficient history
// the spacing floor (price * min_pct) takes over.
func (e *Engine) volatility(ctx context.Context) float64 {
	candles, err := e.klines.Get(ctx, e.cfg.Symbol, e.cfg.ShortInterval)
	if err != nil {
		return 0
	}
	atr, err := indicator.ATR(candles, e.cfg.ATRPeriod)
	if err != nil {
		return 0
	}
	return atr
}

// seedPairs creates ladder slots for levels below price, nearest first, and
// drops idle slots left over from a previous ladder.
func (e *Engine) seedPairs(price float64) {
	e.mu.RLock()
	levels := e.levels
	e.mu.RUnlock()

	valid := make(map[string]bool, len(levels))
	for _, lv := range levels {
		valid[levelKey(lv)] = true
	}
	for _, key := range e.ledger.Keys() {
		p, ok := e.ledger.Get(key)
		if !ok || p.Stray {
			continue
		}
		// stale slots with no venue order and no held inventory are safe
		// to drop; anything else keeps riding the old prices out
		if !valid[key] && p.Buy.OrderID == 0 && p.Sell.OrderID == 0 && p.Sell.Quantity == 0 {
			e.ledger.Delete(key)
		}
	}

	budget := e.cfg.MaxPairs - e.ledger.ActiveCount()
	for i := len(levels) - 2; i >= 0 && budget > 0; i-- {
		buy := levels[i]
		if buy >= price {
			continue
		}
		key := levelKey(buy)
		if _, exists := e.ledger.Get(key); exists {
			continue
		}
		e.ledger.Put(key, &GridPair{BuyPrice: buy, SellPrice: levels[i+1]})
		budget--
	}
}

// topUp keeps forward exposure above price: when capacity allows and no
// sell already rests above price, a pair is opened at the next level up.
func (e *Engine) topUp(price float64) {
	if e.ledger.ActiveCount() >= e.cfg.MaxPairs {
		return
	}
	for _, v := range e.ledger.Snapshot() {
		if v.Sell.State.Outstanding() && v.SellPrice > price {
			return
		}
	}
	buy, sell, ok := e.nextLevelsAbove(price)
	if !ok {
		return
	}
	key := levelKey(buy)
	if _, exists := e.ledger.Get(key); exists {
		return
	}
	e.ledger.Put(key, &GridPair{BuyPrice: buy, SellPrice: sell})
	logger.Infof("[%s] 上方补位 buy=%.8f sell=%.8f", e.cfg.Symbol, buy, sell)
}

func (e *Engine) nextLevelsAbove(price float64) (float64, float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, lv := range e.levels {
		if lv > price {
			if i+1 < len(e.levels) {
				return lv, e.levels[i+1], true
			}
			// extend one step past the ladder top
			next := lv + e.spacing
			e.levels = append(e.levels, next)
			return lv, next, true
		}
	}
	return 0, 0, false
}

// enforceLimit cancels the lowest-priced open buys until the outstanding
// pair count is back under the limit. Sells are never canceled here.
func (e *Engine) enforceLimit(ctx context.Context) {
	over := e.ledger.OutstandingCount() - e.cfg.MaxPairs
	if over <= 0 {
		return
	}
	type candidate struct {
		key string
		p   *GridPair
	}
	var cands []candidate
	e.ledger.each(func(key string, p *GridPair) {
		if !p.Stray && p.Buy.State == SideOpen {
			cands = append(cands, candidate{key, p})
		}
	})
	// each visits buy prices ascending, so cands is already lowest-first
	for _, c := range cands {
		if over <= 0 {
			return
		}
		err := e.call(ctx, "cancel_order", func(cc context.Context) error {
			return e.venue.CancelOrder(cc, e.cfg.Symbol, c.p.Buy.OrderID)
		})
		if err != nil {
			logger.Errorf("[%s] 限额撤单失败 id=%d: %v", e.cfg.Symbol, c.p.Buy.OrderID, err)
			continue
		}
		logger.Warnf("[%s] 超出挂单上限，撤销最低价买单 price=%.8f id=%d", e.cfg.Symbol, c.p.BuyPrice, c.p.Buy.OrderID)
		c.p.Buy.State = SideCanceled // next sync confirms
		over--
	}
}

// placeOrders submits missing legs: fresh buys (when buys are allowed) and
// sells for filled buys. A zero computed quantity skips with a warning.
func (e *Engine) placeOrders(ctx context.Context, orderValue float64, buysAllowed bool) {
	e.ledger.each(func(key string, p *GridPair) {
		if p.Stray {
			return
		}
		if buysAllowed && p.Buy.State == SideNone && p.Buy.OrderID == 0 {
			if e.ledger.OutstandingCount() >= e.cfg.MaxPairs {
				return
			}
			qty := buyQuantity(orderValue, p.BuyPrice, e.cfg.QtyStep)
			if qty <= 0 {
				logger.Warnf("[%s] 买入数量为 0（value=%.4f price=%.8f），跳过", e.cfg.Symbol, orderValue, p.BuyPrice)
				return
			}
			var id int64
			err := e.call(ctx, "place_buy", func(c context.Context) error {
				var perr error
				id, perr = e.venue.PlaceLimitOrder(c, e.cfg.Symbol, exchange.SideBuy, p.BuyPrice, qty)
				return perr
			})
			if err != nil {
				logger.Errorf("[%s] 买单提交失败 price=%.8f: %v", e.cfg.Symbol, p.BuyPrice, err)
				return
			}
			p.Buy = PairSide{OrderID: id, State: SideOpen, Quantity: qty}
			logger.Infof("[%s] 已挂买单 id=%d price=%.8f qty=%.8f", e.cfg.Symbol, id, p.BuyPrice, qty)
		}
		if p.Buy.State == SideClosed && p.Sell.State == SideNone && p.Sell.OrderID == 0 {
			if p.Sell.Quantity <= 0 {
				logger.Warnf("[%s] 卖出数量为 0，槽位 %.8f 暂不挂卖单", e.cfg.Symbol, p.SellPrice)
				return
			}
			var id int64
			qty := p.Sell.Quantity
			err := e.call(ctx, "place_sell", func(c context.Context) error {
				var perr error
				id, perr = e.venue.PlaceLimitOrder(c, e.cfg.Symbol, exchange.SideSell, p.SellPrice, qty)
				return perr
			})
			if err != nil {
				logger.Errorf("[%s] 卖单提交失败 price=%.8f: %v", e.cfg.Symbol, p.SellPrice, err)
				return
			}
			p.Sell.OrderID = id
			p.Sell.State = SideOpen
			logger.Infof("[%s] 已挂卖单 id=%d price=%.8f qty=%.8f", e.cfg.Symbol, id, p.SellPrice, qty)
		}
	})
}

func (e *Engine) cancelOpenBuys(ctx context.Context, reason string) {
	e.ledger.each(func(key string, p *GridPair) {
		if p.Stray || p.Buy.State != SideOpen {
			return
		}
		err := e.call(ctx, "cancel_order", func(c context.Context) error {
			return e.venue.CancelOrder(c, e.cfg.Symbol, p.Buy.OrderID)
		})
		if err != nil {
			logger.Errorf("[%s] 撤销买单失败 id=%d (%s): %v", e.cfg.Symbol, p.Buy.OrderID, reason, err)
			return
		}
		logger.Infof("[%s] 已撤销买单 id=%d price=%.8f (%s)", e.cfg.Symbol, p.Buy.OrderID, p.BuyPrice, reason)
		p.Buy.State = SideCanceled
	})
}
