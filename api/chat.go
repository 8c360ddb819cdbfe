package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nlu-agent/model"
	"nlu-agent/service"
)

const anonymousUser = "anonymous"

// ProcessHandler serves POST /api/nlu/process. The user id doubles as the
// session id. Turn failures are reported in the body with state "error", so
// only a malformed request gets a non-200 status.
func ProcessHandler(chatSvc *service.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		if strings.TrimSpace(req.UserID) == "" {
			req.UserID = anonymousUser
		}

		resp := chatSvc.Process(c.Request.Context(), req.UserID, req.Text)
		c.JSON(http.StatusOK, resp)
	}
}
