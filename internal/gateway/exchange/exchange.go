// Package exchange defines the execution-venue surface the reconciliation
// engine talks to. The venue's order records are the single source of truth
// for order state; local ledger state is derived from them, never the
// other way around.
package exchange

import "context"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Open reports whether the order still rests on the book.
func (s OrderStatus) Open() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// Terminal reports whether the order can no longer fill.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// OrderRecord 交易所侧的订单快照（ground truth）。
type OrderRecord struct {
	ID        int64
	ClientID  string
	Symbol    string
	Side      Side
	Status    OrderStatus
	Price     float64
	Amount    float64
	Filled    float64
	Remaining float64
	UpdatedAt int64
}

// Balance per asset: amount free plus amount locked in open orders.
type Balance struct {
	Free   float64
	Locked float64
}

type Venue interface {
	Name() string

	FetchBalances(ctx context.Context) (map[string]Balance, error)

	// FetchOrders returns all recent order records for the symbol,
	// including terminal ones, so canceled/rejected transitions are
	// observed at least once.
	FetchOrders(ctx context.Context, symbol string) ([]OrderRecord, error)

	FetchOpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error)

	PlaceLimitOrder(ctx context.Context, symbol string, side Side, price, quantity float64) (int64, error)

	// PlaceMarketSell liquidates quantity of the base asset immediately.
	PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (int64, error)

	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}
