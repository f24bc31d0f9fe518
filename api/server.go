// Package api implements the External Interface Adapter (C7): it
// translates HTTP routes and websocket control frames into calls on
// C2-C6, validates inputs, applies the override permission checks, and
// serializes the {success, data?, error?, timestamp} envelope. It holds
// no business logic of its own.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/synapsestrike/tradeops/broadcaster"
	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/config"
	"github.com/synapsestrike/tradeops/cooldown"
	"github.com/synapsestrike/tradeops/gateway"
	"github.com/synapsestrike/tradeops/metrics"
	"github.com/synapsestrike/tradeops/strategy"
	"github.com/synapsestrike/tradeops/tracker"
)

// Server wires C2-C6 behind the HTTP/websocket surface described in
// spec §6. Mirrors the teacher's api.Server-with-store-field shape
// (api/tactics.go's `s.store.Tactic()...`) generalized to this domain's
// five collaborators instead of one.
type Server struct {
	gw      *gateway.Gateway
	tr      *tracker.Tracker
	ctrl    *strategy.Controller
	gate    *cooldown.Gate
	hub     *broadcaster.Hub
	state   *strategyState
	log     zerolog.Logger
	started time.Time

	cfgMu sync.RWMutex
	cfg   config.Config

	router *gin.Engine
}

// New constructs the adapter and registers every route. state must be
// the same strategyState passed into the fan-out progress sink at
// wiring time.
func New(gw *gateway.Gateway, tr *tracker.Tracker, ctrl *strategy.Controller, gate *cooldown.Gate, hub *broadcaster.Hub, state *strategyState, cfg config.Config, base zerolog.Logger) *Server {
	s := &Server{
		gw:      gw,
		tr:      tr,
		ctrl:    ctrl,
		gate:    gate,
		hub:     hub,
		state:   state,
		cfg:     cfg,
		log:     base.With().Str("component", "api").Logger(),
		started: time.Now(),
	}
	s.router = s.newRouter()
	return s
}

// NewStrategyState exposes the progress/result cache constructor so
// cmd/server can build it before constructing the strategy.Controller
// (the cache must exist to be wired as one of the controller's fan-out
// progress sinks and its onResult callback).
func NewStrategyState() *strategyState { return newStrategyState() }

// FanOutProgress combines the server's cache with any other progress
// sinks (typically the broadcaster hub) into one strategy.ProgressSink.
func FanOutProgress(sinks ...strategy.ProgressSink) strategy.ProgressSink {
	return fanOutProgress(sinks)
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.handleWebsocket)

	apiGroup := r.Group("/api")
	{
		strategyGroup := apiGroup.Group("/strategy")
		strategyGroup.GET("/status", s.handleStrategyStatus)
		strategyGroup.GET("/analysis", s.handleStrategyAnalysis)
		strategyGroup.POST("/analysis/trigger", s.handleStrategyTrigger)
		strategyGroup.GET("/progress", s.handleStrategyProgress)

		marketGroup := apiGroup.Group("/market")
		marketGroup.GET("/ticker", s.handleMarketTicker)
		marketGroup.GET("/kline", s.handleMarketKline)
		marketGroup.GET("/funding-rate", s.handleMarketFundingRate)

		apiGroup.GET("/sentiment/fgi", s.handleSentiment)

		apiGroup.GET("/config", s.handleGetConfig)
		apiGroup.POST("/config", s.handlePostConfig)

		testingGroup := apiGroup.Group("/testing")
		testingGroup.POST("/price-override", s.handlePriceOverride)
		testingGroup.POST("/price-override/clear", s.handlePriceOverrideClear)
		testingGroup.POST("/fgi-override", s.handleFGIOverride)
		testingGroup.POST("/fgi-override/clear", s.handleFGIOverrideClear)
		testingGroup.POST("/funding-override", s.handleFundingOverride)
		testingGroup.POST("/funding-override/clear", s.handleFundingOverrideClear)

		recoGroup := apiGroup.Group("/recommendations")
		recoGroup.POST("", s.handleCreateRecommendation)
		recoGroup.GET("/active", s.handleListActive)
		recoGroup.GET("/history", s.handleListHistory)
		recoGroup.POST("/:id/close", s.handleCloseRecommendation)
		recoGroup.GET("/stats", s.handleStats)
	}

	return r
}

// Run starts the HTTP server and blocks until scope is cancelled, per
// the shutdown ordering in spec §5 (the adapter itself has no long-lived
// background work beyond the listener).
func (s *Server) Run(scope *clock.Scope, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-scope.Done():
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
	metrics.SystemUptime.Set(time.Since(s.started).Seconds())
}

func (s *Server) configSnapshot() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}
