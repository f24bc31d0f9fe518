package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleStrategyStatus(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{
		"running": s.ctrl.Running(),
		"symbols": s.ctrl.Symbols(),
		"period":  s.ctrl.Period().String(),
	})
}

func (s *Server) handleStrategyAnalysis(c *gin.Context) {
	result := s.state.LastResult()
	if result == nil {
		respondOK(c, http.StatusOK, gin.H{"candidates": []any{}})
		return
	}

	kronosEnabled := s.configSnapshot().Strategy.KronosGateEnabled

	candidates := make([]gin.H, 0, len(result.Candidates))
	for _, cand := range result.Candidates {
		metadata := gin.H{}
		for k, v := range cand.Metadata {
			metadata[k] = v
		}
		if !kronosEnabled {
			delete(metadata, "kronos")
		}

		signal := gin.H{
			"symbol":          cand.Symbol,
			"direction":       cand.Direction,
			"entryPrice":      cand.EntryPrice,
			"takeProfitPrice": cand.TakeProfitPrice,
			"stopLossPrice":   cand.StopLossPrice,
			"confidence":      cand.Confidence,
			"strategyType":    cand.StrategyType,
			"metadata":        metadata,
		}
		candidates = append(candidates, gin.H{"signal": signal})
	}

	var errMsg string
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	respondOK(c, http.StatusOK, gin.H{
		"candidates": candidates,
		"startedAt":  result.StartedAt,
		"finishedAt": result.FinishedAt,
		"error":      errMsg,
	})
}

// handleStrategyTrigger runs a manual strategy invocation, returning 429
// with Retry-After when C3/C4 deny it — single-flight in progress,
// manual-rate window, or global/manual cooldown (spec §6).
func (s *Server) handleStrategyTrigger(c *gin.Context) {
	result, decision := s.ctrl.TriggerManual(c.Request.Context())
	if !decision.Admitted {
		// Round up: a client polling at the floor of the remaining cooldown
		// would still arrive before the gate reopens.
		retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		respondErr(c, http.StatusTooManyRequests, decision.Reason)
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"candidateCount": len(result.Candidates),
		"startedAt":      result.StartedAt,
		"finishedAt":     result.FinishedAt,
	})
}

func (s *Server) handleStrategyProgress(c *gin.Context) {
	ev, ok := s.state.LastProgress()
	if !ok {
		respondOK(c, http.StatusOK, gin.H{"active": false})
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"active": s.ctrl.Running(),
		"symbol": ev.Symbol,
		"stage":  ev.Stage,
		"detail": ev.Detail,
	})
}
