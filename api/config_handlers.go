package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synapsestrike/tradeops/config"
)

func (s *Server) handleGetConfig(c *gin.Context) {
	respondOK(c, http.StatusOK, s.configSnapshot())
}

// handlePostConfig validates and merges a partial update (spec §6):
// unknown top-level keys are ignored, out-of-range values are coerced
// with a warning, and the cooldown gate picks up the new admission
// parameters immediately.
func (s *Server) handlePostConfig(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "failed to read request body")
		return
	}

	s.cfgMu.Lock()
	merged := s.cfg
	warnings, err := config.ApplyPartial(&merged, json.RawMessage(body))
	if err != nil {
		s.cfgMu.Unlock()
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	s.cfg = merged
	s.cfgMu.Unlock()

	if s.gate != nil {
		s.gate.UpdateConfig(merged.CooldownConfig())
	}

	respondOKWithWarnings(c, merged, warnings)
}
