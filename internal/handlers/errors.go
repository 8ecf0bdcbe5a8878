package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/conversations"
	"chat-sync/internal/messages"
	"chat-sync/internal/models"
	"chat-sync/internal/remote"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, messages.ErrUnknownMessage):
		return http.StatusNotFound
	case errors.Is(err, messages.ErrNotLive),
		errors.Is(err, messages.ErrNotRetryable),
		errors.Is(err, messages.ErrStreamClosed),
		errors.Is(err, conversations.ErrNotStarted):
		return http.StatusConflict
	case errors.Is(err, remote.ErrRejected):
		return http.StatusForbidden
	case errors.Is(err, remote.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// writeCreated answers a create call. A conversation left without all its
// members is still reported as created, with the warning attached.
func writeCreated(c *gin.Context, conv models.Conversation, err error) {
	var warning *conversations.InconsistentStateWarning
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"conversation": conv})
	case errors.As(err, &warning):
		c.JSON(http.StatusCreated, gin.H{"conversation": conv, "warning": warning.Error()})
	default:
		writeError(c, err)
	}
}
