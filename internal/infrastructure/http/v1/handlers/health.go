package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger is a database handle that can be health checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	meta    Pinger
	version string
}

func NewHealthHandler(meta Pinger, version string) *HealthHandler {
	return &HealthHandler{meta: meta, version: version}
}

// Live handles GET /health/live.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}

// Ready handles GET /health/ready. Only the meta database is checked; tenant
// databases are opened lazily.
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.meta.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"checks": gin.H{"meta_database": "unhealthy: " + err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": gin.H{"meta_database": "healthy"},
	})
}
