package models

const (
	EventConversationsChanged = "conversations_changed"
	EventMessagesChanged      = "messages_changed"
)

// SyncEvent is pushed to local websocket clients when synchronized state changes.
type SyncEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}
