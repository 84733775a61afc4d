package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/eventscout/internal/metrics"
)

// MetricsHandler exposes the in-process metrics snapshot
type MetricsHandler struct {
	collector *metrics.Metrics
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(collector *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{collector: collector}
}

// GetMetrics returns all collected metrics as JSON
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.Snapshot())
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", h.GetMetrics)
}
