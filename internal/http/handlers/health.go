package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	Check func(ctx context.Context) map[string]string
}

// GET /healthz
func (h *HealthHandler) Health(c *gin.Context) {
	stats := h.Check(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
