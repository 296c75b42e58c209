// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
)

// Pinger is the readiness dependency contract. The directory service
// satisfies it; a nil-backed directory always reports healthy.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the health endpoints.
type Handler struct {
	directory Pinger
}

// NewHandler builds a Handler. directory may be nil.
func NewHandler(directory Pinger) *Handler {
	return &Handler{directory: directory}
}

// Liveness reports that the process is up. It never checks dependencies;
// a dead directory must not restart the signaling pods.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness reports whether the service should receive traffic.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.directory != nil {
		if err := h.directory.Ping(ctx); err != nil {
			logging.Warn(ctx, "Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"checks": gin.H{"directory": err.Error()},
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
