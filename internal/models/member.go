package models

import "time"

// Member is a user's membership in a conversation, enriched with the
// profile attributes needed for display.
type Member struct {
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	Name           string    `db:"name" json:"name,omitempty"`
	AvatarURL      string    `db:"avatar_url" json:"avatar_url,omitempty"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// ReadMarker records when a user last read a conversation.
type ReadMarker struct {
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	ReadAt         time.Time `db:"read_at" json:"read_at"`
}
