// Package messages keeps the message history of one open conversation in
// sync and sends messages optimistically.
package messages

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chat-sync/internal/broadcast"
	"chat-sync/internal/members"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/remote"
)

var tracer = otel.Tracer("chat-sync/messages")

var (
	ErrStreamClosed   = errors.New("message stream closed")
	ErrNotLive        = errors.New("message stream not live")
	ErrUnknownMessage = errors.New("unknown message")
	ErrNotRetryable   = errors.New("message is not failed")
)

// TempIDPrefix marks ids of messages the server has not confirmed yet.
const TempIDPrefix = "tmp-"

type State int

const (
	Closed State = iota
	Loading
	Live
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Live:
		return "live"
	default:
		return "closed"
	}
}

// Stream is the synchronized history of a single conversation.
type Stream struct {
	store     remote.Store
	directory *members.Directory
	userID    string
	log       zerolog.Logger
	now       func() time.Time
	changes   broadcast.Notifier

	mu       sync.Mutex
	state    State
	convID   string
	epoch    uint64
	runCtx   context.Context
	cancel   context.CancelFunc
	subs     []remote.SubscriptionID
	entries  map[string]models.Message
	order    []string
	pos      map[string]int
	buffered []remote.ChangeEvent
}

// New creates a closed stream for userID.
func New(store remote.Store, directory *members.Directory, userID string, log zerolog.Logger) *Stream {
	s := &Stream{
		store:     store,
		directory: directory,
		userID:    userID,
		log:       log.With().Str("component", "messages").Str("user_id", userID).Logger(),
		now:       time.Now,
	}
	s.resetLocked()
	return s
}

// SetClock replaces the clock used for pending message timestamps.
func (s *Stream) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Stream) resetLocked() {
	s.entries = make(map[string]models.Message)
	s.order = nil
	s.pos = make(map[string]int)
	s.buffered = nil
}

// Open subscribes to new messages of conversationID, loads its history and
// goes live. Events arriving while the history loads are merged afterwards.
// An already open stream is closed first.
func (s *Stream) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is required", models.ErrValidation)
	}
	ctx, span := tracer.Start(ctx, "messages.open")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	s.mu.Lock()
	old := s.subs
	if s.cancel != nil {
		s.cancel()
	}
	s.epoch++
	epoch := s.epoch
	s.state = Loading
	s.convID = conversationID
	s.subs = nil
	s.resetLocked()
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	for _, id := range old {
		s.store.Unsubscribe(id)
	}

	if err := s.load(ctx, epoch, conversationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.changes.Notify()
	return nil
}

func (s *Stream) load(ctx context.Context, epoch uint64, conversationID string) error {
	msgSub, err := s.store.Subscribe(ctx, remote.Topic{
		Resource: remote.Messages,
		Event:    remote.EventInsert,
		Filters: []remote.Filter{
			remote.Eq("conversation_id", conversationID),
			remote.Neq("author_id", s.userID),
		},
	}, s.guard(epoch, s.onMessage))
	if err != nil {
		s.fail(epoch, nil)
		return fmt.Errorf("subscribe messages: %w", err)
	}
	memberSub, err := s.store.Subscribe(ctx, remote.Topic{
		Resource: remote.ConversationMembers,
		Event:    remote.EventAll,
		Filters:  []remote.Filter{remote.Eq("conversation_id", conversationID)},
	}, s.guard(epoch, s.onMembership))
	if err != nil {
		s.fail(epoch, []remote.SubscriptionID{msgSub})
		return fmt.Errorf("subscribe members: %w", err)
	}
	subs := []remote.SubscriptionID{msgSub, memberSub}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		for _, id := range subs {
			s.store.Unsubscribe(id)
		}
		return ErrStreamClosed
	}
	s.subs = subs
	s.mu.Unlock()

	if err := s.directory.Refresh(ctx, conversationID); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("author names may be stale")
	}

	rows, err := s.store.Query(ctx, remote.Messages,
		[]remote.Filter{remote.Eq("conversation_id", conversationID)}, remote.Asc("sent_at"))
	if err != nil {
		s.fail(epoch, subs)
		return fmt.Errorf("load messages: %w", err)
	}
	history := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		m, err := decodeMessage(row)
		if err != nil {
			s.fail(epoch, subs)
			return fmt.Errorf("load messages: %w", err)
		}
		history = append(history, m)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].SentAt.Before(history[j].SentAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrStreamClosed
	}
	for _, m := range history {
		s.appendLocked(m)
	}
	for _, ev := range s.buffered {
		s.applyInsertLocked(ev)
	}
	s.buffered = nil
	s.state = Live
	s.log.Debug().Str("conversation_id", conversationID).Int("messages", len(s.order)).Msg("message stream live")
	return nil
}

// fail returns the stream to Closed if no newer Open or Close happened.
func (s *Stream) fail(epoch uint64, subs []remote.SubscriptionID) {
	for _, id := range subs {
		s.store.Unsubscribe(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.state = Closed
	s.convID = ""
	s.subs = nil
	s.resetLocked()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Close unsubscribes and discards the history. Sends still in flight are
// discarded when they complete.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.epoch++
	closed := s.epoch
	s.state = Closed
	subs := s.subs
	s.subs = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	for _, id := range subs {
		s.store.Unsubscribe(id)
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	if s.epoch == closed {
		s.convID = ""
		s.resetLocked()
	}
	s.mu.Unlock()
	s.changes.Notify()
}

// Messages returns a copy of the history in display order.
func (s *Stream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// OnChange registers fn to run after every change to the history.
func (s *Stream) OnChange(fn func()) (cancel func()) {
	return s.changes.Subscribe(fn)
}

// Send appends a pending message at once and confirms it in place when the
// server accepts it. On failure the entry stays, marked failed, and is
// returned together with the error.
func (s *Stream) Send(ctx context.Context, content string) (models.Message, error) {
	s.mu.Lock()
	if s.state != Live {
		s.mu.Unlock()
		return models.Message{}, ErrNotLive
	}
	pending, err := models.NewPendingMessage(TempIDPrefix+uuid.NewString(), s.convID, s.userID, content, s.now())
	if err != nil {
		s.mu.Unlock()
		return models.Message{}, err
	}
	s.appendLocked(pending)
	epoch := s.epoch
	s.mu.Unlock()
	s.changes.Notify()

	return s.deliver(ctx, epoch, pending)
}

// Retry resends a failed message, keeping its temporary id and position.
func (s *Stream) Retry(ctx context.Context, id string) (models.Message, error) {
	s.mu.Lock()
	if s.state != Live {
		s.mu.Unlock()
		return models.Message{}, ErrNotLive
	}
	m, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return models.Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if m.Status != models.MessageFailed {
		s.mu.Unlock()
		return models.Message{}, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, m.Status)
	}
	m.Status = models.MessagePending
	s.entries[id] = m
	epoch := s.epoch
	s.mu.Unlock()
	s.changes.Notify()

	return s.deliver(ctx, epoch, m)
}

func (s *Stream) deliver(ctx context.Context, epoch uint64, pending models.Message) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "messages.send")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", pending.ConversationID))

	row, err := s.store.Insert(ctx, remote.Messages, remote.Row{
		"conversation_id": pending.ConversationID,
		"author_id":       pending.AuthorID,
		"content":         pending.Content,
	})
	var confirmed models.Message
	if err == nil {
		confirmed, err = decodeMessage(row)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		observability.IncMessageSend("discarded")
		return pending, ErrStreamClosed
	}
	if err != nil {
		failed := s.entries[pending.ID]
		failed.Status = models.MessageFailed
		s.entries[pending.ID] = failed
		s.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.IncMessageSend("failed")
		s.log.Warn().Err(err).Str("conversation_id", pending.ConversationID).Str("temp_id", pending.ID).Msg("message send failed")
		s.changes.Notify()
		return failed, fmt.Errorf("send message: %w", err)
	}
	s.resolveLocked(&confirmed)
	s.replaceLocked(pending.ID, confirmed)
	s.mu.Unlock()

	observability.IncMessageSend("confirmed")
	s.changes.Notify()
	s.updateLastMessage(ctx, confirmed)
	return confirmed, nil
}

// updateLastMessage moves the conversation's last-message pointer so list
// views pick up the send.
func (s *Stream) updateLastMessage(ctx context.Context, m models.Message) {
	_, err := s.store.Update(ctx, remote.Conversations, []remote.Filter{remote.Eq("id", m.ConversationID)}, remote.Row{
		"last_message_id":        m.ID,
		"last_message_text":      m.Content,
		"last_message_at":        m.SentAt,
		"last_message_author_id": m.AuthorID,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", m.ConversationID).Msg("last message pointer not updated")
	}
}

func (s *Stream) guard(epoch uint64, fn func(context.Context, remote.ChangeEvent)) remote.Handler {
	return func(ev remote.ChangeEvent) {
		s.mu.Lock()
		live := s.epoch == epoch && s.state != Closed
		ctx := s.runCtx
		s.mu.Unlock()
		if !live {
			return
		}
		observability.IncRealtimeEvent(string(ev.Resource), string(ev.Type))
		fn(ctx, ev)
	}
}

func (s *Stream) onMessage(_ context.Context, ev remote.ChangeEvent) {
	s.mu.Lock()
	changed := false
	switch s.state {
	case Loading:
		s.buffered = append(s.buffered, ev)
	case Live:
		changed = s.applyInsertLocked(ev)
	}
	s.mu.Unlock()
	if changed {
		s.changes.Notify()
	}
}

func (s *Stream) onMembership(ctx context.Context, _ remote.ChangeEvent) {
	convID := s.ConversationID()
	if err := s.directory.Refresh(ctx, convID); err != nil {
		return
	}
	s.mu.Lock()
	if s.convID != convID || s.state == Closed {
		s.mu.Unlock()
		return
	}
	for id, m := range s.entries {
		s.resolveLocked(&m)
		s.entries[id] = m
	}
	s.mu.Unlock()
	s.changes.Notify()
}

// applyInsertLocked appends a remote message unless it is already present.
func (s *Stream) applyInsertLocked(ev remote.ChangeEvent) bool {
	m, err := decodeMessage(ev.New)
	if err != nil {
		s.log.Error().Err(err).Msg("dropping undecodable message event")
		return false
	}
	if _, dup := s.entries[m.ID]; dup {
		return false
	}
	s.resolveLocked(&m)
	s.appendLocked(m)
	return true
}

func (s *Stream) appendLocked(m models.Message) {
	s.pos[m.ID] = len(s.order)
	s.order = append(s.order, m.ID)
	s.entries[m.ID] = m
}

// replaceLocked swaps the entry at oldID's position for m. When m is already
// present the old entry is dropped instead.
func (s *Stream) replaceLocked(oldID string, m models.Message) {
	i, ok := s.pos[oldID]
	if !ok {
		return
	}
	delete(s.entries, oldID)
	delete(s.pos, oldID)
	if _, dup := s.entries[m.ID]; dup {
		s.order = append(s.order[:i], s.order[i+1:]...)
		for j := i; j < len(s.order); j++ {
			s.pos[s.order[j]] = j
		}
		return
	}
	s.order[i] = m.ID
	s.pos[m.ID] = i
	s.entries[m.ID] = m
}

func (s *Stream) resolveLocked(m *models.Message) {
	if m.AuthorID == s.userID {
		return
	}
	if member, ok := s.directory.Lookup(s.convID, m.AuthorID); ok {
		m.AuthorName = member.Name
		m.AuthorAvatarURL = member.AvatarURL
	}
}

func decodeMessage(row remote.Row) (models.Message, error) {
	var m models.Message
	if err := remote.Decode(row, &m); err != nil {
		return models.Message{}, err
	}
	m.Status = models.MessageConfirmed
	return m, nil
}
