package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/synapsestrike/tradeops/gateway"
)

func (s *Server) handleMarketTicker(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondErr(c, http.StatusBadRequest, "symbol is required")
		return
	}

	ticker, err := s.gw.GetTicker(c.Request.Context(), symbol)
	if err != nil {
		s.respondUpstreamErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, ticker)
}

func (s *Server) handleMarketKline(c *gin.Context) {
	symbol := c.Query("symbol")
	interval := c.DefaultQuery("interval", "5m")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if symbol == "" {
		respondErr(c, http.StatusBadRequest, "symbol is required")
		return
	}

	klines, err := s.gw.GetKlines(c.Request.Context(), symbol, interval, limit)
	if err != nil {
		s.respondUpstreamErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, klines)
}

func (s *Server) handleMarketFundingRate(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondErr(c, http.StatusBadRequest, "symbol is required")
		return
	}

	rate, err := s.gw.GetFundingRate(c.Request.Context(), symbol)
	if err != nil {
		s.respondUpstreamErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"symbol": symbol, "fundingRate": rate})
}

func (s *Server) handleSentiment(c *gin.Context) {
	sentiment, err := s.gw.GetSentimentIndex(c.Request.Context())
	if err != nil {
		s.respondUpstreamErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, sentiment)
}

// respondUpstreamErr maps a Gateway error per spec §7's error table: an
// auth failure is the one upstream kind the Gateway cannot absorb behind
// a stale cache fallback, so it is the one that reaches the client as a
// 500. Every other kind means the Gateway already exhausted its retry
// and stale-cache path before returning, so a generic 502 covers it.
func (s *Server) respondUpstreamErr(c *gin.Context, err error) {
	var upErr *gateway.UpstreamError
	if errors.As(err, &upErr) && upErr.Kind == gateway.KindAuthError {
		respondErr(c, http.StatusInternalServerError, "API key invalid")
		return
	}
	respondErr(c, http.StatusBadGateway, err.Error())
}
