package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports ok once the session is synchronizing.
func Health(userID string, started func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !started() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting", "user_id": userID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "user_id": userID})
	}
}
