package feed

import (
	"context"
	"time"

	"gridbot/internal/logger"
	"gridbot/internal/market"
)

// Warmup seeds the candle buffers over REST before the stream and the
// trading loops start, so the first cycle already has indicator history.
func Warmup(ctx context.Context, src market.HistorySource, store market.KlineStore, symbols, intervals []string, limit, max int) {
	if src == nil || store == nil {
		return
	}
	if limit <= 0 {
		limit = max
	}
	for _, sym := range symbols {
		for _, iv := range intervals {
			callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			batch, err := src.FetchHistory(callCtx, sym, iv, limit)
			cancel()
			if err != nil {
				logger.Warnf("[预热] 获取 %s %s 失败: %v", sym, iv, err)
				continue
			}
			if err := store.Put(ctx, sym, iv, batch, max); err != nil {
				logger.Warnf("[预热] 写入 %s %s 失败: %v", sym, iv, err)
				continue
			}
			logger.Infof("[预热] %s %s 条数=%d", sym, iv, len(batch))
		}
	}
}
