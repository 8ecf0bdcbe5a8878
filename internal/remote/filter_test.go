package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatch(t *testing.T) {
	row := Row{"conversation_id": "c1", "author_id": "u2", "is_group": false}

	assert.True(t, Eq("conversation_id", "c1").Match(row))
	assert.False(t, Eq("conversation_id", "c2").Match(row))
	assert.True(t, Neq("author_id", "u1").Match(row))
	assert.False(t, Neq("author_id", "u2").Match(row))
	assert.True(t, In("conversation_id", []string{"c3", "c1"}).Match(row))
	assert.False(t, In("conversation_id", nil).Match(row))
	assert.True(t, Eq("is_group", false).Match(row))
	assert.False(t, Eq("missing", "x").Match(row))
	assert.True(t, Neq("missing", "x").Match(row))
}

func TestTopicMatches(t *testing.T) {
	topic := Topic{
		Resource: Messages,
		Event:    EventInsert,
		Filters:  []Filter{Eq("conversation_id", "c1"), Neq("author_id", "me")},
	}

	assert.True(t, topic.Matches(ChangeEvent{Resource: Messages, Type: EventInsert, New: Row{"conversation_id": "c1", "author_id": "u2"}}))
	assert.False(t, topic.Matches(ChangeEvent{Resource: Messages, Type: EventInsert, New: Row{"conversation_id": "c1", "author_id": "me"}}))
	assert.False(t, topic.Matches(ChangeEvent{Resource: Messages, Type: EventUpdate, New: Row{"conversation_id": "c1", "author_id": "u2"}}))
	assert.False(t, topic.Matches(ChangeEvent{Resource: Conversations, Type: EventInsert, New: Row{"conversation_id": "c1"}}))

	all := Topic{Resource: ConversationMembers, Event: EventAll}
	assert.True(t, all.Matches(ChangeEvent{Resource: ConversationMembers, Type: EventDelete, Old: Row{"user_id": "u1"}}))
}

func TestCompareValues(t *testing.T) {
	early, late := time.Unix(1, 0), time.Unix(2, 0)
	assert.Equal(t, -1, CompareValues(early, late))
	assert.Equal(t, 1, CompareValues(late, early))
	assert.Equal(t, 0, CompareValues("a", "a"))
	assert.Equal(t, -1, CompareValues(nil, "a"))
	assert.Equal(t, -1, CompareValues(false, true))
}

func TestDecodeAcceptsStringTimestamps(t *testing.T) {
	var out struct {
		ID     string    `db:"id"`
		SentAt time.Time `db:"sent_at"`
		Group  bool      `db:"is_group"`
	}
	err := Decode(Row{"id": "m1", "sent_at": "2024-03-01T10:00:00.5+00:00", "is_group": true, "extra": 1}, &out)
	assert.NoError(t, err)
	assert.Equal(t, "m1", out.ID)
	assert.True(t, out.Group)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 500_000_000, time.UTC), out.SentAt.UTC())
}

func TestDecodeLeavesNullColumnsZero(t *testing.T) {
	var out struct {
		Name   string    `db:"name"`
		LastAt time.Time `db:"last_message_at"`
	}
	err := Decode(Row{"name": nil, "last_message_at": nil}, &out)
	assert.NoError(t, err)
	assert.Empty(t, out.Name)
	assert.True(t, out.LastAt.IsZero())
}
