package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger replaces gin's default combined-format access log with a
// structured zerolog line, the convention every other component in this
// module follows instead of fmt/log output.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	}
}
