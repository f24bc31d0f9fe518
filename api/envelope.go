package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// envelope is the {success, data?, error?, timestamp} response shape
// every route in spec §6 uses.
type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data, Timestamp: time.Now()})
}

func respondOKWithWarnings(c *gin.Context, data any, warnings []string) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Warnings: warnings, Timestamp: time.Now()})
}

func respondErr(c *gin.Context, status int, msg string) {
	c.JSON(status, envelope{Success: false, Error: msg, Timestamp: time.Now()})
}
