package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes on the given router
func SetupRoutes(router *gin.Engine, handler *Handler, hub *Hub, gatherer prometheus.Gatherer) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", handler.GetStatus)
		v1.GET("/config", handler.GetConfig)

		v1.GET("/targets", handler.GetTargets)
		v1.GET("/targets/:prefix/:id", handler.GetTarget)
		v1.GET("/targets/:prefix/:id/archive", handler.GetTargetArchive)

		if hub != nil {
			v1.GET("/ws", ServeWebSocket(hub))
		}
	}

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// Health check endpoint (outside versioned API)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})
}
