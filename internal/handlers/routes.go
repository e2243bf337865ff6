package handlers

import (
	"fieldops/internal/services"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the automation API under /api/v1.
func RegisterRoutes(r *gin.Engine, automation *AutomationHandler, health *HealthHandler, feed *services.LiveFeed) {
	r.GET("/health", health.Health)
	r.GET("/stats", health.Stats)

	api := r.Group("/api/v1")
	{
		flows := api.Group("/automation/flows")
		{
			flows.GET("", automation.ListFlows)
			flows.POST("", automation.CreateFlow)
			flows.GET("/:id", automation.GetFlow)
			flows.PATCH("/:id/status", automation.SetFlowStatus)
			flows.DELETE("/:id", automation.DeleteFlow)
		}

		api.GET("/automation/logs", automation.ListLogs)

		api.POST("/events", automation.InjectEvent)
		api.POST("/events/async", automation.InjectEventAsync)
	}

	if feed != nil {
		r.GET("/ws/feed", feed.HandleWebSocket)
	}
}
