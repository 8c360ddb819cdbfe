package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nlu-agent/model"
	"nlu-agent/service"
)

type SessionResponse struct {
	Success bool               `json:"success"`
	Data    *model.SessionView `json:"data,omitempty"`
	Message string             `json:"message,omitempty"`
}

// GetSessionHandler serves GET /api/sessions/:id.
func GetSessionHandler(store *service.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		dctx, ok, err := store.Lookup(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, SessionResponse{Message: err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, SessionResponse{Message: "session not found"})
			return
		}

		view := service.View(id, dctx)
		c.JSON(http.StatusOK, SessionResponse{Success: true, Data: &view})
	}
}

// ResetSessionHandler serves POST /api/sessions/:id/reset. It abandons the
// pending intent and keeps the history.
func ResetSessionHandler(store *service.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.ResetContext(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusServiceUnavailable, SessionResponse{Message: err.Error()})
			return
		}
		c.JSON(http.StatusOK, SessionResponse{Success: true, Message: "session reset"})
	}
}

// DeleteSessionHandler serves DELETE /api/sessions/:id.
func DeleteSessionHandler(store *service.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Remove(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusServiceUnavailable, SessionResponse{Message: err.Error()})
			return
		}
		c.JSON(http.StatusOK, SessionResponse{Success: true, Message: "session deleted"})
	}
}
