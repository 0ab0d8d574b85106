package engine

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"gridbot/internal/gateway/exchange"
)

// SideState is derived from venue order records, never from local intent.
type SideState string

const (
	SideNone     SideState = ""          // not yet placed
	SideOpen     SideState = "open"      // submitted, awaiting fill
	SideClosed   SideState = "closed"    // fully filled
	SideCanceled SideState = "canceled"
	SideRejected SideState = "rejected"
	SideExpired  SideState = "expired"
	// SideStray marks a venue-side sell adopted into the ledger so its
	// capacity counts against the order limit.
	SideStray SideState = "stray_sell"
)

func (s SideState) Outstanding() bool {
	return s == SideOpen || s == SideStray
}

func (s SideState) Terminal() bool {
	switch s {
	case SideClosed, SideCanceled, SideRejected, SideExpired:
		return true
	default:
		return false
	}
}

func stateFromStatus(status exchange.OrderStatus) SideState {
	switch status {
	case exchange.StatusNew, exchange.StatusPartiallyFilled:
		return SideOpen
	case exchange.StatusFilled:
		return SideClosed
	case exchange.StatusCanceled:
		return SideCanceled
	case exchange.StatusRejected:
		return SideRejected
	case exchange.StatusExpired:
		return SideExpired
	default:
		return SideOpen
	}
}

type PairSide struct {
	OrderID  int64     `json:"order_id,omitempty"`
	State    SideState `json:"state,omitempty"`
	Quantity float64   `json:"quantity,omitempty"`
}

// GridPair is one grid cell: a buy level and the sell level directly above
// it. Stray entries carry only one populated side and a stray key.
type GridPair struct {
	BuyPrice  float64  `json:"buy_price"`
	SellPrice float64  `json:"sell_price"`
	Buy       PairSide `json:"buy"`
	Sell      PairSide `json:"sell"`
	Stray     bool     `json:"stray,omitempty"`
}

// Outstanding reports whether the pair counts against the per-symbol limit:
// either side open, or an adopted stray sell.
func (p *GridPair) Outstanding() bool {
	return p.Buy.State.Outstanding() || p.Sell.State.Outstanding()
}

const strayPrefix = "stray:"

func strayKey(orderID int64) string {
	return strayPrefix + strconv.FormatInt(orderID, 10)
}

func levelKey(price float64) string {
	return strconv.FormatFloat(price, 'f', 8, 64)
}

// Ledger owns the per-symbol order-pair map. The reconciliation cycle is
// its only writer; readers get deep copies.
type Ledger struct {
	mu    sync.RWMutex
	pairs map[string]*GridPair
}

func NewLedger() *Ledger {
	return &Ledger{pairs: make(map[string]*GridPair)}
}

func (l *Ledger) Get(key string) (*GridPair, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.pairs[key]
	return p, ok
}

func (l *Ledger) Put(key string, p *GridPair) {
	l.mu.Lock()
	l.pairs[key] = p
	l.mu.Unlock()
}

func (l *Ledger) Delete(key string) {
	l.mu.Lock()
	delete(l.pairs, key)
	l.mu.Unlock()
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	l.pairs = make(map[string]*GridPair)
	l.mu.Unlock()
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pairs)
}

// Keys returns ladder keys sorted by buy price ascending, stray keys last.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.pairs))
	for k := range l.pairs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := strings.HasPrefix(out[i], strayPrefix), strings.HasPrefix(out[j], strayPrefix)
		if si != sj {
			return !si
		}
		if si {
			return out[i] < out[j]
		}
		return l.pairs[out[i]].BuyPrice < l.pairs[out[j]].BuyPrice
	})
	return out
}

// each visits pairs in key order; the caller must hold the cycle (single
// writer), pairs may be mutated in place.
func (l *Ledger) each(fn func(key string, p *GridPair)) {
	for _, k := range l.Keys() {
		l.mu.RLock()
		p, ok := l.pairs[k]
		l.mu.RUnlock()
		if ok {
			fn(k, p)
		}
	}
}

// awaitingPlacement reports whether the next Place step will submit an
// order for this pair (fresh buy slot, or sell leg after a filled buy).
func (p *GridPair) awaitingPlacement() bool {
	if p.Stray {
		return false
	}
	if p.Buy.State == SideNone && p.Buy.OrderID == 0 {
		return true
	}
	return p.Buy.State == SideClosed && p.Sell.State == SideNone && p.Sell.OrderID == 0
}

// ActiveCount counts pairs that hold or are about to hold venue orders.
// Ladder seeding and top-up budget against this, so planned slots are not
// over-committed before placement.
func (l *Ledger) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, p := range l.pairs {
		if p.Outstanding() || p.awaitingPlacement() {
			n++
		}
	}
	return n
}

// OutstandingCount counts pairs against the per-symbol order limit.
func (l *Ledger) OutstandingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, p := range l.pairs {
		if p.Outstanding() {
			n++
		}
	}
	return n
}

// References reports whether any tracked pair references the venue order id.
func (l *Ledger) References(orderID int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.pairs {
		if p.Buy.OrderID == orderID || p.Sell.OrderID == orderID {
			return true
		}
	}
	return false
}

// PairView is the read-only ledger snapshot for logging and the HTTP API.
type PairView struct {
	Key string `json:"key"`
	GridPair
}

func (l *Ledger) Snapshot() []PairView {
	keys := l.Keys()
	out := make([]PairView, 0, len(keys))
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, k := range keys {
		p, ok := l.pairs[k]
		if !ok {
			continue
		}
		out = append(out, PairView{Key: k, GridPair: *p})
	}
	return out
}
