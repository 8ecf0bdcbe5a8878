package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
)

// StreamService is the per-conversation message side of a session.
type StreamService interface {
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	Send(ctx context.Context, conversationID, content string) (models.Message, error)
	Retry(ctx context.Context, conversationID, messageID string) (models.Message, error)
	CloseStream(conversationID string)
}

// MessageHandler serves the open conversation streams.
type MessageHandler struct {
	service StreamService
}

func NewMessageHandler(service StreamService) *MessageHandler {
	return &MessageHandler{service: service}
}

// List opens the stream on first use and returns its messages.
func (h *MessageHandler) List(c *gin.Context) {
	msgs, err := h.service.Messages(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.Send(c.Request.Context(), c.Param("conversation_id"), req.Content)
	writeDelivery(c, msg, err)
}

func (h *MessageHandler) Retry(c *gin.Context) {
	msg, err := h.service.Retry(c.Request.Context(), c.Param("conversation_id"), c.Param("message_id"))
	writeDelivery(c, msg, err)
}

func (h *MessageHandler) Close(c *gin.Context) {
	h.service.CloseStream(c.Param("conversation_id"))
	c.Status(http.StatusNoContent)
}

// writeDelivery reports a send. A message the server refused stays in the
// stream as failed and is returned so the UI can offer a retry.
func writeDelivery(c *gin.Context, msg models.Message, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	case msg.Status == models.MessageFailed:
		c.JSON(http.StatusBadGateway, gin.H{"message": msg, "error": err.Error()})
	default:
		writeError(c, err)
	}
}
