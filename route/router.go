package route

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nlu-agent/api"
	"nlu-agent/service"
)

func Register(r *gin.Engine, chatSvc *service.ChatService, deps map[string]api.Pinger, logger *zap.Logger) {
	if logger != nil {
		logger = logger.Named("http")
	}
	r.Use(api.Recovery(logger), api.RequestLogger(logger))

	store := chatSvc.Store()

	r.GET("/health", api.HealthHandler(store, deps))
	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "VCNI Assistant API"})
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/nlu/process", api.ProcessHandler(chatSvc))

		sessions := apiGroup.Group("/sessions")
		sessions.GET("/:id", api.GetSessionHandler(store))
		sessions.POST("/:id/reset", api.ResetSessionHandler(store))
		sessions.DELETE("/:id", api.DeleteSessionHandler(store))
	}
}
