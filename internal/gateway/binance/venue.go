// Package binance 基于 go-binance SDK 实现 exchange.Venue 与行情历史拉取。
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"

	"gridbot/internal/gateway/exchange"
	"gridbot/internal/market"
)

const maxHistoryLimit = 1000

type Venue struct {
	cfg    Config
	client *binance.Client
}

func New(cfg Config) (*Venue, error) {
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Venue{cfg: final, client: client}, nil
}

func (v *Venue) Name() string { return "binance" }

// StreamURL returns the combined-stream websocket endpoint for the feed.
func (v *Venue) StreamURL() string { return v.cfg.WSBaseURL }

func (v *Venue) FetchBalances(ctx context.Context) (map[string]exchange.Balance, error) {
	acct, err := v.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]exchange.Balance, len(acct.Balances))
	for _, b := range acct.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		out[strings.ToUpper(b.Asset)] = exchange.Balance{Free: free, Locked: locked}
	}
	return out, nil
}

func (v *Venue) FetchOrders(ctx context.Context, symbol string) ([]exchange.OrderRecord, error) {
	orders, err := v.client.NewListOrdersService().Symbol(cleanSymbol(symbol)).Limit(500).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.OrderRecord, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, convertOrder(o))
	}
	return out, nil
}

func (v *Venue) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderRecord, error) {
	orders, err := v.client.NewListOpenOrdersService().Symbol(cleanSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.OrderRecord, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, convertOrder(o))
	}
	return out, nil
}

func (v *Venue) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, price, quantity float64) (int64, error) {
	if price <= 0 || quantity <= 0 {
		return 0, fmt.Errorf("invalid limit order price=%v quantity=%v", price, quantity)
	}
	res, err := v.client.NewCreateOrderService().
		Symbol(cleanSymbol(symbol)).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Price(formatFloat(price)).
		Quantity(formatFloat(quantity)).
		NewClientOrderID(clientOrderID()).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	return res.OrderID, nil
}

func (v *Venue) PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (int64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("invalid market sell quantity=%v", quantity)
	}
	res, err := v.client.NewCreateOrderService().
		Symbol(cleanSymbol(symbol)).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(formatFloat(quantity)).
		NewClientOrderID(clientOrderID()).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	return res.OrderID, nil
}

func (v *Venue) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := v.client.NewCancelOrderService().Symbol(cleanSymbol(symbol)).OrderID(orderID).Do(ctx)
	return err
}

// FetchHistory implements market.HistorySource via the REST klines endpoint.
func (v *Venue) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = cleanSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := v.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	// drop the still-forming last candle so buffers only hold closed bars
	if len(out) > 0 && out[len(out)-1].CloseTime > time.Now().UnixMilli() {
		out = out[:len(out)-1]
	}
	return out, nil
}

// StartUserStream opens a listen key for the authenticated stream. The key
// expires venue-side after 60 minutes unless kept alive.
func (v *Venue) StartUserStream(ctx context.Context) (string, time.Duration, error) {
	key, err := v.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", 0, err
	}
	return key, 60 * time.Minute, nil
}

func (v *Venue) KeepaliveUserStream(ctx context.Context, key string) error {
	return v.client.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx)
}

func convertOrder(o *binance.Order) exchange.OrderRecord {
	orig := parseFloat(o.OrigQuantity)
	executed := parseFloat(o.ExecutedQuantity)
	remaining := orig - executed
	if remaining < 0 {
		remaining = 0
	}
	return exchange.OrderRecord{
		ID:        o.OrderID,
		ClientID:  o.ClientOrderID,
		Symbol:    strings.ToUpper(o.Symbol),
		Side:      exchange.Side(o.Side),
		Status:    exchange.OrderStatus(o.Status),
		Price:     parseFloat(o.Price),
		Amount:    orig,
		Filled:    executed,
		Remaining: remaining,
		UpdatedAt: o.UpdateTime,
	}
}

func cleanSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return strings.ReplaceAll(symbol, "/", "")
}

func clientOrderID() string {
	return "grid-" + uuid.NewString()[:18]
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
