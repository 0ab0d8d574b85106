package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"gridbot/internal/market"
)

var ErrInvalidCandle = errors.New("batch contains invalid candle")

// MemoryKlineStore 以 symbol@interval 为 key 的分片内存 K 线缓存。
// Put 按 OpenTime 合并（幂等），整批校验，超出上限时裁掉最旧的。
type MemoryKlineStore struct {
	shards []klineShard
}

type klineShard struct {
	mu   sync.RWMutex
	data map[string][]market.Candle
}

const defaultShardCount = 32

func NewMemoryKlineStore() *MemoryKlineStore {
	out := &MemoryKlineStore{shards: make([]klineShard, defaultShardCount)}
	for i := range out.shards {
		out.shards[i] = klineShard{data: make(map[string][]market.Candle)}
	}
	return out
}

func key(symbol, interval string) string { return symbol + "@" + interval }

func (s *MemoryKlineStore) shardFor(k string) *klineShard {
	return &s.shards[fnv32(k)%uint32(len(s.shards))]
}

// Put merges the batch into the buffer by OpenTime. The newest duplicate
// wins, output stays sorted ascending, and the buffer is trimmed to max.
// If any row fails validation the whole batch is rejected — a partially
// merged batch would poison downstream indicator math.
func (s *MemoryKlineStore) Put(ctx context.Context, symbol, interval string, ks []market.Candle, max int) error {
	if symbol == "" || interval == "" {
		return errors.New("symbol/interval 不能为空")
	}
	if len(ks) == 0 {
		return nil
	}
	for _, c := range ks {
		if !c.Valid() {
			return ErrInvalidCandle
		}
	}
	if max <= 0 {
		max = 300
	}
	k := key(symbol, interval)
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	merged := mergeCandles(sh.data[k], ks)
	if len(merged) > max {
		merged = merged[len(merged)-max:]
	}
	sh.data[k] = merged
	return nil
}

// Set replaces the buffer wholesale (used by the poll backstop re-seed).
// Invalid rows are rejected batch-wide, same as Put.
func (s *MemoryKlineStore) Set(ctx context.Context, symbol, interval string, ks []market.Candle) error {
	if symbol == "" || interval == "" {
		return errors.New("symbol/interval 不能为空")
	}
	for _, c := range ks {
		if !c.Valid() {
			return ErrInvalidCandle
		}
	}
	dst := mergeCandles(nil, ks)
	k := key(symbol, interval)
	sh := s.shardFor(k)
	sh.mu.Lock()
	sh.data[k] = dst
	sh.mu.Unlock()
	return nil
}

func (s *MemoryKlineStore) Get(ctx context.Context, symbol, interval string) ([]market.Candle, error) {
	k := key(symbol, interval)
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	out := make([]market.Candle, len(cur))
	copy(out, cur)
	return out, nil
}

// mergeCandles merges batch into cur keyed by OpenTime, later entries win,
// result sorted ascending with strictly increasing timestamps.
func mergeCandles(cur []market.Candle, batch []market.Candle) []market.Candle {
	byTime := make(map[int64]market.Candle, len(cur)+len(batch))
	for _, c := range cur {
		byTime[c.OpenTime] = c
	}
	for _, c := range batch {
		byTime[c.OpenTime] = c
	}
	out := make([]market.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
