package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gridbot/internal/market"
)

type handlers struct {
	controllers map[string]SymbolController
	feed        FeedStatus
	klines      market.KlineStore
	fills       FillReader
}

func (h *handlers) register(group *gin.RouterGroup) {
	group.GET("/symbols", h.listSymbols)
	group.GET("/ledger/:symbol", h.getLedger)
	group.POST("/halt/:symbol", h.halt)
	group.DELETE("/halt/:symbol", h.resume)
	group.GET("/feed", h.feedStatus)
	group.GET("/candles/:symbol/:interval", h.getCandles)
	group.GET("/fills/:symbol", h.getFills)
}

func (h *handlers) controller(c *gin.Context) (SymbolController, bool) {
	sym := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	ctrl, ok := h.controllers[sym]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol: " + sym})
		return nil, false
	}
	return ctrl, true
}

func (h *handlers) listSymbols(c *gin.Context) {
	out := make([]gin.H, 0, len(h.controllers))
	for _, sym := range sortedSymbols(h.controllers) {
		ctrl := h.controllers[sym]
		pairs := ctrl.Pairs()
		outstanding := 0
		for _, p := range pairs {
			if p.Outstanding() {
				outstanding++
			}
		}
		out = append(out, gin.H{
			"symbol":      sym,
			"halted":      ctrl.Halted(),
			"suspended":   ctrl.Suspended(),
			"pairs":       len(pairs),
			"outstanding": outstanding,
		})
	}
	c.JSON(http.StatusOK, gin.H{"symbols": out})
}

func (h *handlers) getLedger(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    ctrl.Symbol(),
		"halted":    ctrl.Halted(),
		"suspended": ctrl.Suspended(),
		"levels":    ctrl.Levels(),
		"pairs":     ctrl.Pairs(),
	})
}

func (h *handlers) halt(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	ctrl.Halt()
	c.JSON(http.StatusOK, gin.H{"symbol": ctrl.Symbol(), "halted": true})
}

func (h *handlers) resume(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	ctrl.Resume()
	c.JSON(http.StatusOK, gin.H{"symbol": ctrl.Symbol(), "halted": false})
}

func (h *handlers) feedStatus(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed not running"})
		return
	}
	stats := h.feed.Stats()
	c.JSON(http.StatusOK, gin.H{
		"state":            h.feed.State().String(),
		"reconnects":       stats.Reconnects,
		"subscribe_errors": stats.SubscribeErrors,
		"frames_dropped":   stats.FramesDropped,
		"failed_channels":  stats.FailedChannels,
		"last_error":       stats.LastError,
	})
}

func (h *handlers) getCandles(c *gin.Context) {
	if h.klines == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "kline store unavailable"})
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	interval := strings.ToLower(strings.TrimSpace(c.Param("interval")))
	candles, err := h.klines.Get(c.Request.Context(), sym, interval)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if limit := queryInt(c, "limit", 0); limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "interval": interval, "candles": candles})
}

func (h *handlers) getFills(c *gin.Context) {
	if h.fills == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade store unavailable"})
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	fills, err := h.fills.RecentFills(c.Request.Context(), sym, queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "fills": fills})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
