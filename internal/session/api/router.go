package api

import (
	"github.com/gin-gonic/gin"

	"github.com/donna-assistant/donna/internal/common/logger"
	"github.com/donna-assistant/donna/internal/session"
	"github.com/donna-assistant/donna/internal/session/record"
)

// SetupRoutes configures the session API routes
func SetupRoutes(router *gin.RouterGroup, svc *session.Service, store record.Store, log *logger.Logger) {
	handler := NewHandler(svc, store, log)

	sessions := router.Group("/sessions")
	{
		sessions.POST("", handler.StartSession)
		sessions.GET("", handler.ListActiveSessions)
		sessions.GET("/:sessionId", handler.GetSession)
		sessions.POST("/:sessionId/respond", handler.Respond)
		sessions.POST("/:sessionId/finish", handler.Finish)
		sessions.POST("/:sessionId/approve", handler.Approve)
		sessions.POST("/:sessionId/reject", handler.Reject)
		sessions.POST("/:sessionId/stop", handler.Stop)
		sessions.POST("/:sessionId/resume", handler.Resume)
	}

	router.POST("/actions", handler.DispatchAction)
}
