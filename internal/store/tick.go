package store

import (
	"errors"
	"sync"

	"gridbot/internal/market"
)

// MemoryTickStore keeps the most recent ticks per symbol, deduplicated by
// trade time, capped at a fixed retention count.
type MemoryTickStore struct {
	mu   sync.RWMutex
	max  int
	data map[string][]market.Tick
}

func NewMemoryTickStore(max int) *MemoryTickStore {
	if max <= 0 {
		max = 1000
	}
	return &MemoryTickStore{max: max, data: make(map[string][]market.Tick)}
}

func (s *MemoryTickStore) Append(symbol string, ticks ...market.Tick) error {
	if symbol == "" {
		return errors.New("symbol 不能为空")
	}
	for _, t := range ticks {
		if !t.Valid() {
			return errors.New("batch contains invalid tick")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.data[symbol]
	for _, t := range ticks {
		n := len(cur)
		if n > 0 && cur[n-1].TradeTime == t.TradeTime {
			cur[n-1] = t
			continue
		}
		if n > 0 && cur[n-1].TradeTime > t.TradeTime {
			// out-of-order tick, drop rather than break monotonicity
			continue
		}
		cur = append(cur, t)
	}
	if len(cur) > s.max {
		cur = cur[len(cur)-s.max:]
	}
	s.data[symbol] = cur
	return nil
}

func (s *MemoryTickStore) Last(symbol string) (market.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.data[symbol]
	if len(cur) == 0 {
		return market.Tick{}, false
	}
	return cur[len(cur)-1], true
}

// Recent returns up to n most recent ticks, oldest first.
func (s *MemoryTickStore) Recent(symbol string, n int) []market.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.data[symbol]
	if n <= 0 || len(cur) == 0 {
		return nil
	}
	if n > len(cur) {
		n = len(cur)
	}
	out := make([]market.Tick, n)
	copy(out, cur[len(cur)-n:])
	return out
}
