package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/config"
	"github.com/synapsestrike/tradeops/cooldown"
	"github.com/synapsestrike/tradeops/gateway"
	"github.com/synapsestrike/tradeops/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubUpstream struct{}

func (stubUpstream) FetchTicker(symbol string) (gateway.Ticker, error) {
	return gateway.Ticker{Symbol: symbol, Price: 100}, nil
}
func (stubUpstream) FetchKlines(symbol, interval string, limit int) ([]gateway.Kline, error) {
	return nil, nil
}
func (stubUpstream) FetchFundingRate(symbol string) (float64, error) { return 0, nil }

type stubSentiment struct{}

func (stubSentiment) FetchSentiment() (gateway.Sentiment, error) {
	return gateway.Sentiment{Value: 50, Classification: "Neutral"}, nil
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *tracker.Tracker) {
	t.Helper()
	clk := clock.NewFake(time.Now())
	base := zerolog.Nop()

	gw := gateway.New(gateway.DefaultConfig(), stubUpstream{}, stubSentiment{}, clk, base)

	store, err := tracker.OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gate := cooldown.New(cfg.CooldownConfig(), clk, nil)
	tr, err := tracker.New(store, gate, gw, nil, cfg, clk, base)
	require.NoError(t, err)
	gate.SetLookup(tr.ActiveLookup)

	state := NewStrategyState()
	s := New(gw, tr, nil, gate, nil, state, cfg, base)
	return s, tr
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_ReportsOK(t *testing.T) {
	s, _ := newTestServer(t, config.Default())
	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
}

func TestHandleGetConfig_ReturnsCurrentSnapshot(t *testing.T) {
	s, _ := newTestServer(t, config.Default())
	rec := doRequest(s, http.MethodGet, "/api/config", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePostConfig_MergesPartialUpdate(t *testing.T) {
	s, _ := newTestServer(t, config.Default())

	rec := doRequest(s, http.MethodPost, "/api/config", map[string]any{
		"strategy": map[string]any{"kronosGateEnabled": true},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.True(t, s.configSnapshot().Strategy.KronosGateEnabled)
}

func TestTestingOverrides_ForbiddenWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Testing.AllowPriceOverride = false
	s, _ := newTestServer(t, cfg)

	rec := doRequest(s, http.MethodPost, "/api/testing/price-override", map[string]any{"symbol": "BTCUSDT", "price": 123})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTestingOverrides_AppliedWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Testing.AllowPriceOverride = true
	s, _ := newTestServer(t, cfg)

	rec := doRequest(s, http.MethodPost, "/api/testing/price-override", map[string]any{"symbol": "BTCUSDT", "price": 123.0})
	assert.Equal(t, http.StatusOK, rec.Code)

	ticker, err := s.gw.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 123.0, ticker.Price)
}

func TestTestingOverrides_AcceptsTTLMs(t *testing.T) {
	cfg := config.Default()
	cfg.Testing.AllowPriceOverride = true
	s, _ := newTestServer(t, cfg)

	rec := doRequest(s, http.MethodPost, "/api/testing/price-override", map[string]any{
		"symbol": "BTCUSDT", "price": 123.0, "ttl_ms": 60_000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	ticker, err := s.gw.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 123.0, ticker.Price)
}

func TestRecommendationLifecycle_CreateListCloseStats(t *testing.T) {
	s, _ := newTestServer(t, config.Default())

	create := doRequest(s, http.MethodPost, "/api/recommendations", map[string]any{
		"symbol":          "BTCUSDT",
		"direction":       "LONG",
		"entryPrice":      50000,
		"takeProfitPrice": 51000,
		"stopLossPrice":   49000,
		"confidence":      0.9,
	})
	require.Equal(t, http.StatusCreated, create.Code)

	active := doRequest(s, http.MethodGet, "/api/recommendations/active", nil)
	require.Equal(t, http.StatusOK, active.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(active.Body.Bytes(), &env))
	list, ok := env.Data.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)

	first, ok := list[0].(map[string]any)
	require.True(t, ok)
	id, _ := first["ID"].(string)
	require.NotEmpty(t, id)

	closeRec := doRequest(s, http.MethodPost, "/api/recommendations/"+id+"/close", nil)
	assert.Equal(t, http.StatusOK, closeRec.Code)

	closeAgain := doRequest(s, http.MethodPost, "/api/recommendations/"+id+"/close", nil)
	assert.Equal(t, http.StatusNotFound, closeAgain.Code)

	stats := doRequest(s, http.MethodGet, "/api/recommendations/stats?symbol=BTCUSDT", nil)
	assert.Equal(t, http.StatusOK, stats.Code)
}

func TestHandleMarketTicker_RequiresSymbol(t *testing.T) {
	s, _ := newTestServer(t, config.Default())
	rec := doRequest(s, http.MethodGet, "/api/market/ticker", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/market/ticker?symbol=BTCUSDT", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
