package handlers

import (
	"net/http"

	"fieldops/internal/metrics"
	"fieldops/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler reports process and store health plus engine counters.
type HealthHandler struct {
	db         *gorm.DB
	dispatcher *services.Dispatcher
	feed       *services.LiveFeed
}

func NewHealthHandler(db *gorm.DB, dispatcher *services.Dispatcher, feed *services.LiveFeed) *HealthHandler {
	return &HealthHandler{db: db, dispatcher: dispatcher, feed: feed}
}

func (h *HealthHandler) Health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{"status": status})
}

func (h *HealthHandler) Stats(c *gin.Context) {
	dropTotal, dropBy := metrics.DispatchDropSnapshot()
	rlTotal, _ := metrics.RateLimitSnapshot()

	stats := gin.H{
		"dispatch_drops_total": dropTotal,
		"dispatch_drops":       dropBy,
		"rate_limit_drops":     rlTotal,
	}
	if h.dispatcher != nil {
		stats["queue_depth"] = h.dispatcher.QueueDepth()
	}
	if h.feed != nil {
		stats["feed_clients"] = h.feed.ClientCount()
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}
