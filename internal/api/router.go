package api

import (
	"github.com/gin-gonic/gin"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session"
)

// SetupRoutes configures the session API routes
func SetupRoutes(router *gin.Engine, manager *session.Manager, log *logger.Logger) {
	handler := NewHandler(manager, log)

	router.GET("/health", handler.Health)

	v1 := router.Group("/api/v1")
	sessions := v1.Group("/sessions")
	{
		sessions.POST("", handler.CreateSession)
		sessions.GET("", handler.ListSessions)
		sessions.GET("/:sessionId", handler.GetSession)
		sessions.DELETE("/:sessionId", handler.StopSession)
		sessions.GET("/:sessionId/results", handler.GetResults)
		sessions.GET("/:sessionId/transcript", handler.GetTranscript)
	}
}
