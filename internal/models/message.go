package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation marks input rejected locally, before any remote call.
var ErrValidation = errors.New("validation failed")

// MessageStatus tracks a message through the optimistic send path.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageConfirmed MessageStatus = "confirmed"
	MessageFailed    MessageStatus = "failed"
)

// Message represents a chat message.
type Message struct {
	ID              string        `db:"id" json:"id"`
	ConversationID  string        `db:"conversation_id" json:"conversation_id"`
	AuthorID        string        `db:"author_id" json:"author_id"`
	Content         string        `db:"content" json:"content"`
	SentAt          time.Time     `db:"sent_at" json:"sent_at"`
	Status          MessageStatus `db:"-" json:"status"`
	AuthorName      string        `db:"-" json:"author_name,omitempty"`
	AuthorAvatarURL string        `db:"-" json:"author_avatar_url,omitempty"`
}

// NewPendingMessage builds a locally originated message awaiting confirmation.
func NewPendingMessage(id, conversationID, authorID, content string, sentAt time.Time) (Message, error) {
	msg := Message{
		ID:             id,
		ConversationID: conversationID,
		AuthorID:       authorID,
		Content:        content,
		SentAt:         sentAt,
		Status:         MessagePending,
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate checks the fields every message must carry.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	if m.ConversationID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	return nil
}
