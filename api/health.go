package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency whose reachability the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /health. Unreachable dependencies are reported but
// do not fail the check, since sessions fall back to memory.
func HealthHandler(sessions interface{ Len() int }, deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "healthy", "sessions": sessions.Len()}
		for name, dep := range deps {
			state := "ok"
			if err := dep.Ping(c.Request.Context()); err != nil {
				state = err.Error()
			}
			body[name] = state
		}
		c.JSON(http.StatusOK, body)
	}
}
