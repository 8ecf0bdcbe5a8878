package models

import "time"

// Conversation is the server-owned conversation row, including the denormalized
// pointer to its most recent message.
type Conversation struct {
	ID                  string    `db:"id" json:"id"`
	IsGroup             bool      `db:"is_group" json:"is_group"`
	Name                string    `db:"name" json:"name,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	LastMessageID       string    `db:"last_message_id" json:"last_message_id,omitempty"`
	LastMessageText     string    `db:"last_message_text" json:"last_message_text,omitempty"`
	LastMessageAt       time.Time `db:"last_message_at" json:"last_message_at"`
	LastMessageAuthorID string    `db:"last_message_author_id" json:"last_message_author_id,omitempty"`
}

// ActivityAt is the timestamp used to order conversation lists. Conversations
// without messages fall back to their creation time.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessageAt.IsZero() {
		return c.CreatedAt
	}
	return c.LastMessageAt
}

// ConversationSummary is a conversation as presented in a user's list.
type ConversationSummary struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	IsGroup             bool      `json:"is_group"`
	AvatarURL           string    `json:"avatar_url,omitempty"`
	LastMessage         string    `json:"last_message,omitempty"`
	LastMessageAt       time.Time `json:"last_message_at"`
	LastMessageAuthorID string    `json:"last_message_author_id,omitempty"`
	Participants        int       `json:"participants"`
	Unread              bool      `json:"unread"`
}
