package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/gateway/exchange"
)

func TestLedgerKeysOrderedByBuyPriceStraysLast(t *testing.T) {
	l := NewLedger()
	l.Put(levelKey(101), &GridPair{BuyPrice: 101})
	l.Put(strayKey(7), &GridPair{Stray: true, Sell: PairSide{OrderID: 7, State: SideStray}})
	l.Put(levelKey(99), &GridPair{BuyPrice: 99})
	l.Put(levelKey(100), &GridPair{BuyPrice: 100})

	keys := l.Keys()
	require.Len(t, keys, 4)
	assert.Equal(t, levelKey(99), keys[0])
	assert.Equal(t, levelKey(100), keys[1])
	assert.Equal(t, levelKey(101), keys[2])
	assert.Equal(t, strayKey(7), keys[3])
}

func TestLedgerCounts(t *testing.T) {
	l := NewLedger()
	l.Put(levelKey(99), &GridPair{BuyPrice: 99, Buy: PairSide{OrderID: 1, State: SideOpen}})
	l.Put(levelKey(100), &GridPair{BuyPrice: 100}) // awaiting buy placement
	l.Put(levelKey(101), &GridPair{BuyPrice: 101, Buy: PairSide{OrderID: 2, State: SideClosed, Quantity: 1}, Sell: PairSide{Quantity: 1}})
	l.Put(strayKey(9), &GridPair{Stray: true, Sell: PairSide{OrderID: 9, State: SideStray}})

	assert.Equal(t, 2, l.OutstandingCount(), "open buy + stray sell")
	assert.Equal(t, 4, l.ActiveCount(), "plus the two slots awaiting placement")
}

func TestLedgerReferences(t *testing.T) {
	l := NewLedger()
	l.Put(levelKey(99), &GridPair{Buy: PairSide{OrderID: 11, State: SideOpen}, Sell: PairSide{OrderID: 12, State: SideOpen}})

	assert.True(t, l.References(11))
	assert.True(t, l.References(12))
	assert.False(t, l.References(13))
}

func TestLedgerSnapshotIsDetached(t *testing.T) {
	l := NewLedger()
	l.Put(levelKey(99), &GridPair{BuyPrice: 99, Buy: PairSide{OrderID: 1, State: SideOpen}})

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Buy.State = SideCanceled

	p, _ := l.Get(levelKey(99))
	assert.Equal(t, SideOpen, p.Buy.State, "mutating the snapshot must not touch the ledger")
}

func TestStateFromStatus(t *testing.T) {
	assert.Equal(t, SideOpen, stateFromStatus(exchange.StatusNew))
	assert.Equal(t, SideOpen, stateFromStatus(exchange.StatusPartiallyFilled))
	assert.Equal(t, SideClosed, stateFromStatus(exchange.StatusFilled))
	assert.Equal(t, SideCanceled, stateFromStatus(exchange.StatusCanceled))
	assert.Equal(t, SideRejected, stateFromStatus(exchange.StatusRejected))
	assert.Equal(t, SideExpired, stateFromStatus(exchange.StatusExpired))
}
