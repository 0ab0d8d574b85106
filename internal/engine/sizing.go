package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"gridbot/internal/gateway/exchange"
)

// orderValue returns the quote value one grid order may deploy:
// allocation_ratio * total_account_value / max_pairs. Account value counts
// free quote, quote locked in resting buys, and base holdings at price.
func (e *Engine) orderValue(ctx context.Context, price float64) (float64, error) {
	var balances map[string]exchange.Balance
	err := e.call(ctx, "fetch_balances", func(c context.Context) error {
		var ferr error
		balances, ferr = e.venue.FetchBalances(c)
		return ferr
	})
	if err != nil {
		return 0, err
	}
	quote := balances[e.cfg.QuoteAsset]
	base := balances[e.cfg.BaseAsset]
	total := quote.Free + quote.Locked + (base.Free+base.Locked)*price
	if total <= 0 {
		return 0, fmt.Errorf("account value not positive (%s=%.8f %s=%.8f)", e.cfg.QuoteAsset, quote.Free+quote.Locked, e.cfg.BaseAsset, base.Free+base.Locked)
	}
	return total * e.cfg.AllocationRatio / float64(e.cfg.MaxPairs), nil
}

func buyQuantity(orderValue, price, step float64) float64 {
	if orderValue <= 0 || price <= 0 {
		return 0
	}
	return quantize(orderValue/price, step)
}

// quantize rounds qty down to a multiple of step. Floats would drift here
// (0.1 step * 3 != 0.3), so the division happens in decimal space.
func quantize(qty, step float64) float64 {
	if qty <= 0 {
		return 0
	}
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	out, _ := q.Div(s).Floor().Mul(s).Float64()
	return out
}
