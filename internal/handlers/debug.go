package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AuditEmitter interface {
	Emit(ctx context.Context, level, text, requestID string, userID *string)
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter AuditEmitter, userID string, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		uid := userID
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), &uid)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
