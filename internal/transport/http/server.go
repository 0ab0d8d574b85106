// Package httpapi 提供只读巡检与人工停牌的最小 HTTP 服务。
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gridbot/internal/engine"
	"gridbot/internal/logger"
	"gridbot/internal/market"
)

// SymbolController is the per-symbol surface the API exposes; *engine.Engine
// is the production implementation.
type SymbolController interface {
	Symbol() string
	Halted() bool
	Suspended() bool
	Halt()
	Resume()
	Pairs() []engine.PairView
	Levels() []float64
}

// FeedStatus reports stream health; *feed.Driver implements it.
type FeedStatus interface {
	State() market.FeedState
	Stats() market.FeedStats
}

type FillReader interface {
	RecentFills(ctx context.Context, symbol string, limit int) ([]engine.FillRecord, error)
}

// Server 提供 /api HTTP 服务（账本查询 + 停牌开关）。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr        string
	Controllers []SymbolController
	Feed        FeedStatus
	Klines      market.KlineStore
	Fills       FillReader
}

// NewServer 构建 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if len(cfg.Controllers) == 0 {
		return nil, errors.New("http server requires at least one symbol controller")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{
		controllers: make(map[string]SymbolController, len(cfg.Controllers)),
		feed:        cfg.Feed,
		klines:      cfg.Klines,
		fills:       cfg.Fills,
	}
	for _, ctrl := range cfg.Controllers {
		h.controllers[strings.ToUpper(ctrl.Symbol())] = ctrl
	}
	h.register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// requestLogger 记录人工操作，便于追踪刷新与调用。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func sortedSymbols(m map[string]SymbolController) []string {
	out := make([]string, 0, len(m))
	for sym := range m {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
