// Package session owns the synchronized state of one signed-in user: the
// conversation list, the member directory, read state and open message
// streams.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"chat-sync/internal/conversations"
	"chat-sync/internal/members"
	"chat-sync/internal/messages"
	"chat-sync/internal/models"
	"chat-sync/internal/readstate"
	"chat-sync/internal/remote"
)

// Broadcaster pushes state-changed events to local clients.
type Broadcaster interface {
	Broadcast(event models.SyncEvent)
}

type openStream struct {
	stream *messages.Stream
	cancel func()
	// ready is closed once the first Open returned; err holds its result.
	ready chan struct{}
	err   error
}

type Session struct {
	userID      string
	store       remote.Store
	directory   *members.Directory
	tracker     *readstate.Tracker
	list        *conversations.Synchronizer
	broadcaster Broadcaster
	log         zerolog.Logger

	mu         sync.Mutex
	streams    map[string]*openStream
	cancelList func()
}

// New wires the components for userID. broadcaster and audit may be nil.
func New(store remote.Store, userID string, opts conversations.Options, audit conversations.Auditor, broadcaster Broadcaster, log zerolog.Logger) *Session {
	directory := members.NewDirectory(store, userID, log)
	tracker := readstate.NewTracker(store, userID, log)
	return &Session{
		userID:      userID,
		store:       store,
		directory:   directory,
		tracker:     tracker,
		list:        conversations.New(store, directory, tracker, userID, opts, audit, log),
		broadcaster: broadcaster,
		log:         log.With().Str("component", "session").Str("user_id", userID).Logger(),
		streams:     make(map[string]*openStream),
	}
}

func (s *Session) UserID() string {
	return s.userID
}

// Start begins synchronizing the conversation list.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelList == nil {
		s.cancelList = s.list.OnChange(func() {
			s.broadcast(models.SyncEvent{Type: models.EventConversationsChanged})
		})
	}
	s.mu.Unlock()
	return s.list.Start(ctx)
}

// Stop closes every open stream, then stops the conversation list.
func (s *Session) Stop() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]*openStream)
	cancelList := s.cancelList
	s.cancelList = nil
	s.mu.Unlock()

	for _, entry := range streams {
		entry.stream.Close()
		entry.cancel()
	}
	s.list.Stop()
	if cancelList != nil {
		cancelList()
	}
	s.log.Info().Int("streams", len(streams)).Msg("session stopped")
}

// Started reports whether the conversation list holds live subscriptions.
func (s *Session) Started() bool {
	return s.list.Started()
}

func (s *Session) Conversations() []models.ConversationSummary {
	return s.list.List()
}

func (s *Session) Refresh(ctx context.Context) error {
	return s.list.Refresh(ctx)
}

func (s *Session) CreateDirect(ctx context.Context, otherUserID string) (models.Conversation, error) {
	return s.list.CreateDirect(ctx, otherUserID)
}

func (s *Session) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Conversation, error) {
	return s.list.CreateGroup(ctx, name, memberIDs)
}

func (s *Session) MarkRead(ctx context.Context, conversationID string) error {
	return s.list.MarkRead(ctx, conversationID)
}

// Stream returns the open stream of conversationID, opening it if needed.
// Concurrent callers for the same conversation share one open.
func (s *Session) Stream(ctx context.Context, conversationID string) (*messages.Stream, error) {
	for {
		s.mu.Lock()
		entry, ok := s.streams[conversationID]
		if !ok {
			break
		}
		s.mu.Unlock()

		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry.err != nil {
			return nil, entry.err
		}
		if entry.stream.State() != messages.Closed {
			return entry.stream, nil
		}
		s.mu.Lock()
		if s.streams[conversationID] == entry {
			delete(s.streams, conversationID)
			s.mu.Unlock()
			entry.cancel()
			continue
		}
		s.mu.Unlock()
	}

	st := messages.New(s.store, s.directory, s.userID, s.log)
	cancel := st.OnChange(func() {
		s.broadcast(models.SyncEvent{Type: models.EventMessagesChanged, ConversationID: conversationID})
	})
	entry := &openStream{stream: st, cancel: cancel, ready: make(chan struct{})}
	s.streams[conversationID] = entry
	s.mu.Unlock()

	err := st.Open(ctx, conversationID)
	if err != nil {
		s.mu.Lock()
		if s.streams[conversationID] == entry {
			delete(s.streams, conversationID)
		}
		s.mu.Unlock()
		cancel()
	}
	entry.err = err
	close(entry.ready)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Session) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	st, err := s.Stream(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return st.Messages(), nil
}

func (s *Session) Send(ctx context.Context, conversationID, content string) (models.Message, error) {
	st, err := s.Stream(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	return st.Send(ctx, content)
}

func (s *Session) Retry(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	st, err := s.Stream(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	return st.Retry(ctx, messageID)
}

// CloseStream closes the stream of conversationID if it is open.
func (s *Session) CloseStream(conversationID string) {
	s.mu.Lock()
	entry, ok := s.streams[conversationID]
	delete(s.streams, conversationID)
	s.mu.Unlock()
	if !ok {
		return
	}
	entry.stream.Close()
	entry.cancel()
}

// OpenStreams returns the number of registered streams.
func (s *Session) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *Session) broadcast(event models.SyncEvent) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(event)
	}
}
