package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
)

// ConversationService is the conversation list side of a session.
type ConversationService interface {
	Conversations() []models.ConversationSummary
	Refresh(ctx context.Context) error
	CreateDirect(ctx context.Context, otherUserID string) (models.Conversation, error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Conversation, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// ConversationHandler serves the conversation list to the local UI.
type ConversationHandler struct {
	service ConversationService
}

func NewConversationHandler(service ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// List returns the current list. With ?refresh=true a pass runs first.
func (h *ConversationHandler) List(c *gin.Context) {
	if c.Query("refresh") == "true" {
		if err := h.service.Refresh(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
	}
	conversations := h.service.Conversations()
	if conversations == nil {
		conversations = []models.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *ConversationHandler) CreateDirect(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.service.CreateDirect(c.Request.Context(), req.UserID)
	writeCreated(c, conv, err)
}

func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"member_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.service.CreateGroup(c.Request.Context(), req.Name, req.MemberIDs)
	writeCreated(c, conv, err)
}

func (h *ConversationHandler) MarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Request.Context(), c.Param("conversation_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
