package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleWebsocket upgrades /ws and registers the connection with the
// broadcaster hub; subscribe-updates/unsubscribe-updates control frames
// and the topic fan-out itself are entirely the hub's concern (spec §6).
func (s *Server) handleWebsocket(c *gin.Context) {
	if err := s.hub.ServeWS(c.Writer, c.Request); err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		if !c.Writer.Written() {
			respondErr(c, http.StatusBadRequest, "websocket upgrade failed")
		}
	}
}
