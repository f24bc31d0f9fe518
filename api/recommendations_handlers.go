package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/synapsestrike/tradeops/tracker"
)

// createRecommendationRequest mirrors tracker.CandidateSignal for the
// operator-initiated create path (spec §6: "Recommendation endpoints
// ... create").
type createRecommendationRequest struct {
	Symbol          string  `json:"symbol" binding:"required"`
	Direction       string  `json:"direction" binding:"required"`
	EntryPrice      float64 `json:"entryPrice" binding:"required"`
	TakeProfitPrice float64 `json:"takeProfitPrice"`
	StopLossPrice   float64 `json:"stopLossPrice"`
	Confidence      float64 `json:"confidence"`
	Leverage        float64 `json:"leverage"`
	PositionSize    float64 `json:"positionSize"`
	StrategyType    string  `json:"strategyType"`
	Source          string  `json:"source"`
}

func (s *Server) handleCreateRecommendation(c *gin.Context) {
	var req createRecommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}

	source := req.Source
	if source == "" {
		source = "manual"
	}

	err := s.tr.Ingest(c.Request.Context(), tracker.CandidateSignal{
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		EntryPrice:      req.EntryPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		StopLossPrice:   req.StopLossPrice,
		Confidence:      req.Confidence,
		Leverage:        req.Leverage,
		PositionSize:    req.PositionSize,
		StrategyType:    req.StrategyType,
		Source:          source,
	})
	if err != nil {
		respondErr(c, http.StatusOK, err.Error())
		return
	}

	respondOK(c, http.StatusCreated, gin.H{"accepted": true})
}

func (s *Server) handleListActive(c *gin.Context) {
	respondOK(c, http.StatusOK, s.tr.ActiveRecommendations())
}

func (s *Server) handleListHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	history, err := s.tr.History(limit)
	if err != nil {
		respondErr(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, http.StatusOK, history)
}

func (s *Server) handleCloseRecommendation(c *gin.Context) {
	id := c.Param("id")
	r, err := s.tr.CloseByID(c.Request.Context(), id)
	if err != nil {
		respondErr(c, http.StatusNotFound, err.Error())
		return
	}
	respondOK(c, http.StatusOK, r)
}

func (s *Server) handleStats(c *gin.Context) {
	if symbol := c.Query("symbol"); symbol != "" {
		respondOK(c, http.StatusOK, s.tr.StatsForSymbol(symbol))
		return
	}
	respondOK(c, http.StatusOK, s.tr.Stats())
}
