package engine

import (
	"context"

	"gridbot/internal/gateway/exchange"
	"gridbot/internal/logger"
)

// liquidate is the long-horizon downtrend response: cancel every open order
// for the symbol, market-sell the base inventory, clear the ledger and
// suspend trading until the long label recovers. Any venue failure aborts
// without suspending, so the next cycle retries from scratch.
func (e *Engine) liquidate(ctx context.Context, price float64) {
	if e.Suspended() {
		return
	}
	logger.Warnf("[%s] 长周期下跌，开始清仓", e.cfg.Symbol)

	var open []exchange.OrderRecord
	err := e.call(ctx, "fetch_open_orders", func(c context.Context) error {
		var ferr error
		open, ferr = e.venue.FetchOpenOrders(c, e.cfg.Symbol)
		return ferr
	})
	if err != nil {
		logger.Errorf("[%s] 清仓前读取挂单失败: %v", e.cfg.Symbol, err)
		return
	}
	for _, rec := range open {
		id := rec.ID
		err := e.call(ctx, "cancel_order", func(c context.Context) error {
			return e.venue.CancelOrder(c, e.cfg.Symbol, id)
		})
		if err != nil {
			logger.Errorf("[%s] 清仓撤单失败 id=%d: %v", e.cfg.Symbol, id, err)
			return
		}
	}

	var balances map[string]exchange.Balance
	err = e.call(ctx, "fetch_balances", func(c context.Context) error {
		var ferr error
		balances, ferr = e.venue.FetchBalances(c)
		return ferr
	})
	if err != nil {
		logger.Errorf("[%s] 清仓读取余额失败: %v", e.cfg.Symbol, err)
		return
	}
	qty := quantize(balances[e.cfg.BaseAsset].Free, e.cfg.QtyStep)
	if qty > 0 {
		var id int64
		err := e.call(ctx, "market_sell", func(c context.Context) error {
			var perr error
			id, perr = e.venue.PlaceMarketSell(c, e.cfg.Symbol, qty)
			return perr
		})
		if err != nil {
			logger.Errorf("[%s] 清仓市价卖出失败 qty=%.8f: %v", e.cfg.Symbol, qty, err)
			return
		}
		logger.Warnf("[%s] 已市价清仓 id=%d qty=%.8f", e.cfg.Symbol, id, qty)
		e.recordFill(ctx, id, exchange.SideSell, price, qty)
	}

	e.ledger.Clear()
	e.mu.Lock()
	e.suspended = true
	e.levels = nil
	e.mu.Unlock()
	logger.Warnf("[%s] 网格已暂停，等待长周期趋势恢复", e.cfg.Symbol)
}
