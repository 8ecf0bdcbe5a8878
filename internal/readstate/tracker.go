// Package readstate decides whether a conversation is unread for the current
// user and records read markers.
package readstate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chat-sync/internal/observability"
	"chat-sync/internal/remote"
)

// Tracker answers unread questions against the server on every call.
type Tracker struct {
	store  remote.Store
	userID string
	now    func() time.Time
	log    zerolog.Logger
}

// NewTracker creates a tracker for userID.
func NewTracker(store remote.Store, userID string, log zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		userID: userID,
		now:    time.Now,
		log:    log.With().Str("component", "readstate").Logger(),
	}
}

// SetClock replaces the clock used for read marker timestamps.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// IsUnread reports whether the conversation has a message the user has not
// read. Own messages are never unread. Lookup failures count as read.
func (t *Tracker) IsUnread(ctx context.Context, conversationID string, lastMessageAt time.Time, lastMessageAuthorID string) bool {
	if lastMessageAuthorID == t.userID {
		return false
	}
	result, err := t.store.Call(ctx, remote.ProcHasUserReadConversation, remote.Row{
		"conversation_id": conversationID,
	})
	if err != nil {
		observability.IncReadStateError()
		t.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("read state lookup failed, treating as read")
		return false
	}
	read, ok := result.(bool)
	if !ok {
		observability.IncReadStateError()
		t.log.Warn().Str("conversation_id", conversationID).Interface("result", result).Msg("unexpected read state result, treating as read")
		return false
	}
	return !read
}

// MarkRead records that the user has read the conversation now.
func (t *Tracker) MarkRead(ctx context.Context, conversationID string) error {
	_, err := t.store.Insert(ctx, remote.ReadMarkers, remote.Row{
		"conversation_id": conversationID,
		"user_id":         t.userID,
		"read_at":         t.now(),
	})
	if err != nil {
		return fmt.Errorf("mark %s read: %w", conversationID, err)
	}
	return nil
}
