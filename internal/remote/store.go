// Package remote describes the backend the synchronizers talk to: a store of
// named resources with queries, inserts, updates, server-side procedures and
// realtime change subscriptions.
package remote

import (
	"context"
	"time"
)

// Resource names a table or view on the remote store.
type Resource string

const (
	Conversations       Resource = "conversations"
	ConversationMembers Resource = "conversation_members"
	MemberProfiles      Resource = "enriched_conversation_members"
	Messages            Resource = "messages"
	ReadMarkers         Resource = "read_markers"
)

// ProcHasUserReadConversation reports whether the caller has read the latest
// message of a conversation.
const ProcHasUserReadConversation = "has_user_read_conversation"

// Row is a single record keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the column value as a string, or "" when absent.
func (r Row) String(column string) string {
	if v, ok := r[column].(string); ok {
		return v
	}
	return ""
}

// Order sorts query results by a single column.
type Order struct {
	Column    string
	Ascending bool
}

// Asc orders by column ascending.
func Asc(column string) *Order { return &Order{Column: column, Ascending: true} }

// Desc orders by column descending.
func Desc(column string) *Order { return &Order{Column: column} }

// EventType is the kind of change a subscription listens for.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// ChangeEvent is a committed change delivered to subscribers.
type ChangeEvent struct {
	Resource   Resource
	Type       EventType
	New        Row
	Old        Row
	CommitTime time.Time
}

// Record is the row the event is about: the new row, or the old one for deletes.
func (e ChangeEvent) Record() Row {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// Topic selects the change events a subscription receives.
type Topic struct {
	Resource Resource
	Event    EventType
	Filters  []Filter
}

// Matches reports whether ev belongs to the topic.
func (t Topic) Matches(ev ChangeEvent) bool {
	if ev.Resource != t.Resource {
		return false
	}
	if t.Event != EventAll && t.Event != "" && t.Event != ev.Type {
		return false
	}
	return MatchAll(t.Filters, ev.Record())
}

// Handler receives change events. Handlers of one subscription are invoked
// sequentially in commit order.
type Handler func(ChangeEvent)

// SubscriptionID identifies an active subscription.
type SubscriptionID string

// Store is the gateway to the remote backend. Every method may block on the
// network; none of them retries.
type Store interface {
	Query(ctx context.Context, resource Resource, filters []Filter, order *Order) ([]Row, error)
	Insert(ctx context.Context, resource Resource, row Row) (Row, error)
	Update(ctx context.Context, resource Resource, filters []Filter, values Row) ([]Row, error)
	Call(ctx context.Context, procedure string, args Row) (any, error)
	Subscribe(ctx context.Context, topic Topic, handler Handler) (SubscriptionID, error)
	// Unsubscribe is idempotent and may be called from inside a handler.
	Unsubscribe(id SubscriptionID)
}
