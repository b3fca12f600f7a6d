package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/statlinehq/statline-auth/pkg/database"
	"github.com/statlinehq/statline-auth/pkg/redis"
)

// HealthHandler handles health check HTTP requests
type HealthHandler struct {
	db    *database.PostgresDB
	cache *redis.Client
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *database.PostgresDB, cache *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Health returns basic health status
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "statline-auth",
	})
}

// Ready checks if the service is ready to accept traffic. Postgres is
// required; Redis degrades the login throttle but does not block logins.
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"service":  "statline-auth",
			"database": "disconnected",
			"error":    err.Error(),
		})
		return
	}

	cacheStatus := "connected"
	if h.cache != nil {
		if err := h.cache.Ping(c.Request.Context()); err != nil {
			cacheStatus = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"service":  "statline-auth",
		"database": "connected",
		"redis":    cacheStatus,
	})
}
