package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// priceOverrideRequest is the POST /api/testing/price-override body.
// TtlMs, if omitted or non-positive, falls back to testing.priceDefaultTtlMs
// (spec §4.2).
type priceOverrideRequest struct {
	Symbol string  `json:"symbol" binding:"required"`
	Price  float64 `json:"price" binding:"required"`
	TtlMs  int64   `json:"ttl_ms"`
}

func (s *Server) handlePriceOverride(c *gin.Context) {
	testingCfg := s.configSnapshot().Testing
	if !testingCfg.AllowPriceOverride {
		respondErr(c, http.StatusForbidden, "price override disabled")
		return
	}
	var req priceOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	ttl := req.TtlMs
	if ttl <= 0 {
		ttl = testingCfg.PriceDefaultTtlMs
	}
	s.gw.SetPriceOverride(req.Symbol, req.Price, time.Duration(ttl)*time.Millisecond)
	respondOK(c, http.StatusOK, gin.H{"symbol": req.Symbol, "price": req.Price, "ttlMs": ttl})
}

func (s *Server) handlePriceOverrideClear(c *gin.Context) {
	if !s.configSnapshot().Testing.AllowPriceOverride {
		respondErr(c, http.StatusForbidden, "price override disabled")
		return
	}
	symbol := c.Query("symbol")
	s.gw.ClearPriceOverride(symbol)
	respondOK(c, http.StatusOK, gin.H{"cleared": true})
}

type fgiOverrideRequest struct {
	Value float64 `json:"value" binding:"required"`
	TtlMs int64   `json:"ttl_ms"`
}

func (s *Server) handleFGIOverride(c *gin.Context) {
	testingCfg := s.configSnapshot().Testing
	if !testingCfg.AllowFGIOverride {
		respondErr(c, http.StatusForbidden, "FGI override disabled")
		return
	}
	var req fgiOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	ttl := req.TtlMs
	if ttl <= 0 {
		ttl = testingCfg.FGIDefaultTtlMs
	}
	s.gw.SetSentimentOverride(req.Value, time.Duration(ttl)*time.Millisecond)
	respondOK(c, http.StatusOK, gin.H{"value": req.Value, "ttlMs": ttl})
}

func (s *Server) handleFGIOverrideClear(c *gin.Context) {
	if !s.configSnapshot().Testing.AllowFGIOverride {
		respondErr(c, http.StatusForbidden, "FGI override disabled")
		return
	}
	s.gw.ClearSentimentOverride()
	respondOK(c, http.StatusOK, gin.H{"cleared": true})
}

type fundingOverrideRequest struct {
	Symbol string  `json:"symbol" binding:"required"`
	Rate   float64 `json:"rate"`
	TtlMs  int64   `json:"ttl_ms"`
}

func (s *Server) handleFundingOverride(c *gin.Context) {
	testingCfg := s.configSnapshot().Testing
	if !testingCfg.AllowFundingOverride {
		respondErr(c, http.StatusForbidden, "funding override disabled")
		return
	}
	var req fundingOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	ttl := req.TtlMs
	if ttl <= 0 {
		ttl = testingCfg.FundingDefaultTtlMs
	}
	s.gw.SetFundingOverride(req.Symbol, req.Rate, time.Duration(ttl)*time.Millisecond)
	respondOK(c, http.StatusOK, gin.H{"symbol": req.Symbol, "rate": req.Rate, "ttlMs": ttl})
}

func (s *Server) handleFundingOverrideClear(c *gin.Context) {
	if !s.configSnapshot().Testing.AllowFundingOverride {
		respondErr(c, http.StatusForbidden, "funding override disabled")
		return
	}
	symbol := c.Query("symbol")
	s.gw.ClearFundingOverride(symbol)
	respondOK(c, http.StatusOK, gin.H{"cleared": true})
}
