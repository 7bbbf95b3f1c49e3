package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Info identifies the running service.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Handler manages health check and service info endpoints
type Handler struct {
	info    Info
	readyFn func() error
	now     func() time.Time
}

// NewHandler creates a new health check handler. readyFn reports whether the
// location database is loaded; nil means always ready.
func NewHandler(info Info, readyFn func() error) *Handler {
	return &Handler{info: info, readyFn: readyFn, now: time.Now}
}

// Health is the liveness probe endpoint. It does not touch the databases.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": h.now().UTC(),
	})
}

// Ready is the readiness probe endpoint
// GET /ready
func (h *Handler) Ready(c *gin.Context) {
	if h.readyFn != nil {
		if err := h.readyFn(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// Info returns the service name and version
// GET /
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, h.info)
}
