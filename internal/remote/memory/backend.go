// Package memory is an in-process remote store: a shared backend holding
// tables and an event bus, plus per-identity clients that implement
// remote.Store. It backs the daemon's demo mode and the synchronizer tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-sync/internal/remote"
)

// Operation names a store method, for interceptors.
type Operation string

const (
	OpQuery     Operation = "query"
	OpInsert    Operation = "insert"
	OpUpdate    Operation = "update"
	OpCall      Operation = "call"
	OpSubscribe Operation = "subscribe"
)

// Interceptor runs before every operation. A non-nil error aborts the
// operation and is returned to the caller unchanged.
type Interceptor func(ctx context.Context, op Operation, resource remote.Resource, row remote.Row) error

// Backend is the shared state every client sees.
type Backend struct {
	mu        sync.Mutex
	tables    map[remote.Resource][]remote.Row
	profiles  map[string]remote.Row
	now       func() time.Time
	intercept Interceptor
	bus       *remote.Bus
}

// New creates an empty backend.
func New(log zerolog.Logger) *Backend {
	return &Backend{
		tables:   make(map[remote.Resource][]remote.Row),
		profiles: make(map[string]remote.Row),
		now:      time.Now,
		bus:      remote.NewBus(log),
	}
}

// SetClock replaces the server clock used for assigned timestamps.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Intercept installs fn ahead of every operation; nil removes it.
func (b *Backend) Intercept(fn Interceptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intercept = fn
}

// PutProfile stores the display attributes of a user.
func (b *Backend) PutProfile(userID, name, avatarURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles[userID] = remote.Row{"id": userID, "name": name, "avatar_url": avatarURL}
}

// SubscriptionCount returns the number of active subscriptions across clients.
func (b *Backend) SubscriptionCount() int {
	return b.bus.Len()
}

// Rows returns a copy of a resource's rows.
func (b *Backend) Rows(resource remote.Resource) []remote.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, _ := b.readLocked(resource)
	return cloneRows(rows)
}

// Client returns a store bound to the caller identity userID.
func (b *Backend) Client(userID string) *Client {
	return &Client{backend: b, userID: userID}
}

// Close drops every subscription.
func (b *Backend) Close() {
	b.bus.Close()
}

func (b *Backend) before(ctx context.Context, op Operation, resource remote.Resource, row remote.Row) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", remote.ErrTransient, err)
	}
	b.mu.Lock()
	fn := b.intercept
	b.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, op, resource, row)
}

func (b *Backend) readLocked(resource remote.Resource) ([]remote.Row, error) {
	switch resource {
	case remote.Conversations, remote.ConversationMembers, remote.Messages, remote.ReadMarkers:
		return b.tables[resource], nil
	case remote.MemberProfiles:
		members := b.tables[remote.ConversationMembers]
		out := make([]remote.Row, 0, len(members))
		for _, m := range members {
			row := m.Clone()
			if p, ok := b.profiles[m.String("user_id")]; ok {
				row["name"] = p["name"]
				row["avatar_url"] = p["avatar_url"]
			}
			out = append(out, row)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown resource %q", remote.ErrRejected, resource)
	}
}

func (b *Backend) insertLocked(caller string, resource remote.Resource, row remote.Row) (remote.Row, error) {
	row = row.Clone()
	now := b.now()
	switch resource {
	case remote.Conversations:
		setDefault(row, "id", uuid.NewString())
		setDefault(row, "created_at", now)
		setDefault(row, "is_group", false)
	case remote.ConversationMembers:
		convID := row.String("conversation_id")
		if convID == "" || row.String("user_id") == "" {
			return nil, fmt.Errorf("%w: conversation_id and user_id are required", remote.ErrRejected)
		}
		if b.findLocked(remote.Conversations, "id", convID) < 0 {
			return nil, fmt.Errorf("%w: conversation %s does not exist", remote.ErrRejected, convID)
		}
		for _, m := range b.tables[remote.ConversationMembers] {
			if m.String("conversation_id") == convID && m.String("user_id") == row.String("user_id") {
				return nil, fmt.Errorf("%w: duplicate member", remote.ErrRejected)
			}
		}
		setDefault(row, "joined_at", now)
	case remote.Messages:
		if strings.TrimSpace(row.String("content")) == "" {
			return nil, fmt.Errorf("%w: message content is empty", remote.ErrRejected)
		}
		if row.String("author_id") != caller {
			return nil, fmt.Errorf("%w: cannot post as another user", remote.ErrRejected)
		}
		row["id"] = uuid.NewString()
		row["sent_at"] = now
	case remote.ReadMarkers:
		if row.String("user_id") != caller {
			return nil, fmt.Errorf("%w: cannot mark read for another user", remote.ErrRejected)
		}
		setDefault(row, "read_at", now)
	default:
		return nil, fmt.Errorf("%w: resource %q is read-only", remote.ErrRejected, resource)
	}
	b.tables[resource] = append(b.tables[resource], row)
	return row.Clone(), nil
}

func (b *Backend) findLocked(resource remote.Resource, column, value string) int {
	for i, r := range b.tables[resource] {
		if r.String(column) == value {
			return i
		}
	}
	return -1
}

// hasReadLocked mirrors the server-side procedure: a conversation is read when
// it has no messages, its latest message is the caller's own, or the caller's
// latest read marker is not older than the latest message.
func (b *Backend) hasReadLocked(caller, conversationID string) bool {
	var latest remote.Row
	for _, m := range b.tables[remote.Messages] {
		if m.String("conversation_id") != conversationID {
			continue
		}
		if latest == nil || remote.CompareValues(m["sent_at"], latest["sent_at"]) > 0 {
			latest = m
		}
	}
	if latest == nil || latest.String("author_id") == caller {
		return true
	}
	sentAt, _ := latest["sent_at"].(time.Time)
	for _, r := range b.tables[remote.ReadMarkers] {
		if r.String("conversation_id") != conversationID || r.String("user_id") != caller {
			continue
		}
		if readAt, ok := r["read_at"].(time.Time); ok && !readAt.Before(sentAt) {
			return true
		}
	}
	return false
}

func setDefault(row remote.Row, column string, value any) {
	if v, ok := row[column]; !ok || v == nil || v == "" {
		row[column] = value
	}
}

func cloneRows(rows []remote.Row) []remote.Row {
	out := make([]remote.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Clone())
	}
	return out
}

func sortRows(rows []remote.Row, order *remote.Order) {
	if order == nil {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := remote.CompareValues(rows[i][order.Column], rows[j][order.Column])
		if order.Ascending {
			return c < 0
		}
		return c > 0
	})
}
