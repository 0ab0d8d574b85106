package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/engine"
	"gridbot/internal/market"
	"gridbot/internal/store"
)

type stubController struct {
	symbol    string
	halted    bool
	suspended bool
	pairs     []engine.PairView
	levels    []float64
}

func (s *stubController) Symbol() string           { return s.symbol }
func (s *stubController) Halted() bool             { return s.halted }
func (s *stubController) Suspended() bool          { return s.suspended }
func (s *stubController) Halt()                    { s.halted = true }
func (s *stubController) Resume()                  { s.halted = false }
func (s *stubController) Pairs() []engine.PairView { return s.pairs }
func (s *stubController) Levels() []float64        { return s.levels }

type stubFeed struct{ state market.FeedState }

func (s stubFeed) State() market.FeedState { return s.state }
func (s stubFeed) Stats() market.FeedStats {
	return market.FeedStats{State: s.state.String(), Reconnects: 2}
}

func newTestServer(t *testing.T, ctrl *stubController) *Server {
	t.Helper()
	ks := store.NewMemoryKlineStore()
	require.NoError(t, ks.Set(context.Background(), "BTCUSDT", "1m", []market.Candle{
		{OpenTime: 1000, CloseTime: 1999, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1},
	}))
	srv, err := NewServer(ServerConfig{
		Addr:        ":0",
		Controllers: []SymbolController{ctrl},
		Feed:        stubFeed{state: market.StateStreaming},
		Klines:      ks,
	})
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubController{symbol: "BTCUSDT"})
	rec := doRequest(srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListSymbols(t *testing.T) {
	ctrl := &stubController{symbol: "BTCUSDT", pairs: []engine.PairView{
		{Key: "99.5", GridPair: engine.GridPair{Buy: engine.PairSide{State: engine.SideOpen}}},
		{Key: "98.5", GridPair: engine.GridPair{Buy: engine.PairSide{State: engine.SideClosed}}},
	}}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodGet, "/api/symbols")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Symbols []struct {
			Symbol      string `json:"symbol"`
			Pairs       int    `json:"pairs"`
			Outstanding int    `json:"outstanding"`
		} `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Symbols, 1)
	assert.Equal(t, "BTCUSDT", body.Symbols[0].Symbol)
	assert.Equal(t, 2, body.Symbols[0].Pairs)
	assert.Equal(t, 1, body.Symbols[0].Outstanding)
}

func TestHaltRoundTrip(t *testing.T) {
	ctrl := &stubController{symbol: "BTCUSDT"}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodPost, "/api/halt/btcusdt")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctrl.halted)

	rec = doRequest(srv, http.MethodDelete, "/api/halt/BTCUSDT")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ctrl.halted)

	rec = doRequest(srv, http.MethodPost, "/api/halt/DOGEUSDT")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedStatus(t *testing.T) {
	srv := newTestServer(t, &stubController{symbol: "BTCUSDT"})
	rec := doRequest(srv, http.MethodGet, "/api/feed")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "streaming", body["state"])
}

func TestGetCandlesWithLimit(t *testing.T) {
	srv := newTestServer(t, &stubController{symbol: "BTCUSDT"})
	rec := doRequest(srv, http.MethodGet, "/api/candles/btcusdt/1m?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Candles []market.Candle `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Candles, 1)
}
