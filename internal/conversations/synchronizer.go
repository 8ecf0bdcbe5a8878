// Package conversations keeps the current user's conversation list in sync
// with the remote store: subscribe to conversation and membership changes,
// re-derive the whole list on every relevant change.
package conversations

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"chat-sync/internal/broadcast"
	"chat-sync/internal/members"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/readstate"
	"chat-sync/internal/remote"
)

var tracer = otel.Tracer("chat-sync/conversations")

// Auditor receives warnings worth keeping outside the process log.
type Auditor interface {
	Emit(ctx context.Context, level, text, requestID string, userID *string)
}

// Options tune a Synchronizer.
type Options struct {
	Naming Naming
	// Concurrency bounds per-conversation work inside one pass.
	Concurrency int
}

func DefaultOptions() Options {
	return Options{Naming: DefaultNaming(), Concurrency: 8}
}

// Synchronizer owns the derived conversation list of one user.
type Synchronizer struct {
	store     remote.Store
	directory *members.Directory
	tracker   *readstate.Tracker
	userID    string
	opts      Options
	audit     Auditor
	log       zerolog.Logger
	changes   broadcast.Notifier

	mu      sync.Mutex
	started bool
	epoch   uint64
	issued  uint64
	applied uint64
	cancel  context.CancelFunc
	runCtx  context.Context
	subs    []remote.SubscriptionID
	list    []models.ConversationSummary
	known   map[string]struct{}
	// readSeq holds, per conversation, the last pass issued before MarkRead.
	// Those passes may have computed unread before the marker existed.
	readSeq map[string]uint64
}

// New creates a stopped synchronizer. audit may be nil.
func New(store remote.Store, directory *members.Directory, tracker *readstate.Tracker, userID string, opts Options, audit Auditor, log zerolog.Logger) *Synchronizer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Synchronizer{
		store:     store,
		directory: directory,
		tracker:   tracker,
		userID:    userID,
		opts:      opts,
		audit:     audit,
		log:       log.With().Str("component", "conversations").Str("user_id", userID).Logger(),
		known:     make(map[string]struct{}),
		readSeq:   make(map[string]uint64),
	}
}

// Start subscribes to changes and runs the first derivation pass. Calling it
// again replaces the existing subscriptions. When the first pass fails its
// error is returned but the synchronizer stays started.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	old := s.subs
	s.subs = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.epoch++
	epoch := s.epoch
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCtx, s.cancel = runCtx, cancel
	s.started = true
	s.mu.Unlock()

	for _, id := range old {
		s.store.Unsubscribe(id)
	}

	convSub, err := s.store.Subscribe(ctx, remote.Topic{
		Resource: remote.Conversations,
		Event:    remote.EventAll,
	}, s.guard(epoch, s.onConversationChange))
	if err != nil {
		s.abortStart(epoch)
		return fmt.Errorf("subscribe conversations: %w", err)
	}
	memberSub, err := s.store.Subscribe(ctx, remote.Topic{
		Resource: remote.ConversationMembers,
		Event:    remote.EventAll,
	}, s.guard(epoch, s.onMembershipChange))
	if err != nil {
		s.store.Unsubscribe(convSub)
		s.abortStart(epoch)
		return fmt.Errorf("subscribe memberships: %w", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.store.Unsubscribe(convSub)
		s.store.Unsubscribe(memberSub)
		return nil
	}
	s.subs = []remote.SubscriptionID{convSub, memberSub}
	s.mu.Unlock()

	s.log.Info().Msg("conversation sync started")
	return s.Refresh(ctx)
}

func (s *Synchronizer) abortStart(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.started = false
	s.epoch++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Stop unsubscribes and clears the list. In-flight passes are discarded.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.epoch++
	stopped := s.epoch
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
	if s.epoch == stopped {
		s.list = nil
		s.known = make(map[string]struct{})
		s.readSeq = make(map[string]uint64)
	}
	s.mu.Unlock()
	s.log.Info().Msg("conversation sync stopped")
	s.changes.Notify()
}

// Started reports whether the synchronizer holds live subscriptions.
func (s *Synchronizer) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// List returns a copy of the current list, most recently active first.
func (s *Synchronizer) List() []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationSummary, len(s.list))
	copy(out, s.list)
	return out
}

// OnChange registers fn to run after every change to the list.
func (s *Synchronizer) OnChange(fn func()) (cancel func()) {
	return s.changes.Subscribe(fn)
}

// Refresh runs one full derivation pass. A pass that completes after a newer
// pass was applied, or after Stop, leaves the list untouched.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.issued++
	seq, epoch := s.issued, s.epoch
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "conversations.derive")
	defer span.End()
	span.SetAttributes(attribute.Int64("pass", int64(seq)))

	start := time.Now()
	convs, summaries, err := s.derive(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ObserveDerivationPass("failed", time.Since(start))
		s.log.Warn().Err(err).Uint64("pass", seq).Msg("derivation pass failed, keeping previous list")
		return err
	}

	s.mu.Lock()
	if !s.started || s.epoch != epoch || seq < s.applied {
		s.mu.Unlock()
		observability.ObserveDerivationPass("stale", time.Since(start))
		return nil
	}
	s.applied = seq
	for i := range summaries {
		if read, ok := s.readSeq[summaries[i].ID]; ok && seq <= read {
			summaries[i].Unread = false
		}
	}
	for id, read := range s.readSeq {
		if read <= seq {
			delete(s.readSeq, id)
		}
	}
	s.list = summaries
	previous, current := s.known, make(map[string]struct{}, len(convs))
	for _, c := range convs {
		current[c.ID] = struct{}{}
	}
	s.known = current
	s.mu.Unlock()

	// Members of conversations that left the list are no longer needed.
	for id := range previous {
		if _, ok := current[id]; !ok {
			s.directory.Forget(id)
		}
	}

	observability.ObserveDerivationPass("applied", time.Since(start))
	s.log.Debug().Uint64("pass", seq).Int("conversations", len(summaries)).Msg("conversation list updated")
	s.changes.Notify()
	return nil
}

func (s *Synchronizer) derive(ctx context.Context) ([]models.Conversation, []models.ConversationSummary, error) {
	memberships, err := s.store.Query(ctx, remote.ConversationMembers,
		[]remote.Filter{remote.Eq("user_id", s.userID)}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("list memberships: %w", err)
	}
	seen := make(map[string]struct{}, len(memberships))
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		id := m.String("conversation_id")
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, []models.ConversationSummary{}, nil
	}

	rows, err := s.store.Query(ctx, remote.Conversations, []remote.Filter{remote.In("id", ids)}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("list conversations: %w", err)
	}
	convs := make([]models.Conversation, 0, len(rows))
	for _, row := range rows {
		var c models.Conversation
		if err := remote.Decode(row, &c); err != nil {
			return nil, nil, err
		}
		convs = append(convs, c)
	}
	sort.SliceStable(convs, func(i, j int) bool {
		ai, aj := convs[i].ActivityAt(), convs[j].ActivityAt()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return convs[i].ID < convs[j].ID
	})

	summaries := make([]models.ConversationSummary, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, c := range convs {
		i, c := i, c
		g.Go(func() error {
			summaries[i] = s.summarize(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return convs, summaries, nil
}

func (s *Synchronizer) summarize(ctx context.Context, c models.Conversation) models.ConversationSummary {
	// A failed refresh leaves the previous snapshot, which is good enough
	// for naming until the next pass.
	_ = s.directory.Refresh(ctx, c.ID)
	others := s.directory.Get(c.ID)

	summary := models.ConversationSummary{
		ID:                  c.ID,
		Name:                s.opts.Naming.DisplayName(c, others),
		IsGroup:             c.IsGroup,
		LastMessage:         c.LastMessageText,
		LastMessageAt:       c.ActivityAt(),
		LastMessageAuthorID: c.LastMessageAuthorID,
		Participants:        len(others) + 1,
	}
	if !c.IsGroup && len(others) > 0 {
		summary.AvatarURL = others[0].AvatarURL
	}
	if !c.LastMessageAt.IsZero() {
		summary.Unread = s.tracker.IsUnread(ctx, c.ID, c.LastMessageAt, c.LastMessageAuthorID)
	}
	return summary
}

// guard drops events delivered to a subscription generation that was
// replaced or stopped.
func (s *Synchronizer) guard(epoch uint64, fn func(context.Context, remote.ChangeEvent)) remote.Handler {
	return func(ev remote.ChangeEvent) {
		s.mu.Lock()
		live := s.started && s.epoch == epoch
		ctx := s.runCtx
		s.mu.Unlock()
		if !live {
			return
		}
		observability.IncRealtimeEvent(string(ev.Resource), string(ev.Type))
		fn(ctx, ev)
	}
}

func (s *Synchronizer) onConversationChange(ctx context.Context, ev remote.ChangeEvent) {
	if !s.isKnown(ev.Record().String("id")) {
		return
	}
	s.refreshFromEvent(ctx, ev)
}

func (s *Synchronizer) onMembershipChange(ctx context.Context, ev remote.ChangeEvent) {
	rec := ev.Record()
	if rec.String("user_id") != s.userID && !s.isKnown(rec.String("conversation_id")) {
		return
	}
	s.refreshFromEvent(ctx, ev)
}

func (s *Synchronizer) refreshFromEvent(ctx context.Context, ev remote.ChangeEvent) {
	if err := s.Refresh(ctx); err != nil && err != ErrNotStarted {
		s.log.Warn().Err(err).Str("resource", string(ev.Resource)).Str("event", string(ev.Type)).Msg("refresh after change failed")
	}
}

func (s *Synchronizer) isKnown(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[conversationID]
	return ok
}

// CreateDirect creates a one-to-one conversation with otherUserID. When a
// member cannot be added the conversation is returned together with an
// *InconsistentStateWarning.
func (s *Synchronizer) CreateDirect(ctx context.Context, otherUserID string) (models.Conversation, error) {
	other := strings.TrimSpace(otherUserID)
	if other == "" {
		return models.Conversation{}, fmt.Errorf("%w: other user id is required", models.ErrValidation)
	}
	if other == s.userID {
		return models.Conversation{}, fmt.Errorf("%w: cannot start a conversation with yourself", models.ErrValidation)
	}

	conv, err := s.createConversation(ctx, remote.Row{"is_group": false})
	if err != nil {
		return models.Conversation{}, err
	}
	return s.addMembers(ctx, "create_direct", conv, []string{s.userID, other})
}

// CreateGroup creates a group conversation. name may be empty, in which case
// the group is labelled from its members.
func (s *Synchronizer) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Conversation, error) {
	seen := map[string]struct{}{s.userID: {}}
	others := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		others = append(others, id)
	}
	if len(others) == 0 {
		return models.Conversation{}, fmt.Errorf("%w: a group needs at least one other member", models.ErrValidation)
	}

	conv, err := s.createConversation(ctx, remote.Row{"is_group": true, "name": strings.TrimSpace(name)})
	if err != nil {
		return models.Conversation{}, err
	}
	return s.addMembers(ctx, "create_group", conv, append([]string{s.userID}, others...))
}

func (s *Synchronizer) createConversation(ctx context.Context, row remote.Row) (models.Conversation, error) {
	created, err := s.store.Insert(ctx, remote.Conversations, row)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	var conv models.Conversation
	if err := remote.Decode(created, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Synchronizer) addMembers(ctx context.Context, operation string, conv models.Conversation, userIDs []string) (models.Conversation, error) {
	for _, uid := range userIDs {
		_, err := s.store.Insert(ctx, remote.ConversationMembers, remote.Row{
			"conversation_id": conv.ID,
			"user_id":         uid,
		})
		if err == nil {
			continue
		}
		warning := &InconsistentStateWarning{
			Operation:      operation,
			ConversationID: conv.ID,
			UserID:         uid,
			Err:            err,
		}
		observability.IncInconsistentState(operation)
		s.log.Error().Err(err).Str("conversation_id", conv.ID).Str("member_id", uid).Msg("conversation left without all members")
		if s.audit != nil {
			userID := s.userID
			s.audit.Emit(ctx, "warning", warning.Error(), observability.RequestIDFromContext(ctx), &userID)
		}
		return conv, warning
	}
	return conv, nil
}

// MarkRead clears the unread flag locally, then records the read marker.
func (s *Synchronizer) MarkRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.readSeq[conversationID] = s.issued
	changed := false
	for i := range s.list {
		if s.list[i].ID == conversationID && s.list[i].Unread {
			s.list[i].Unread = false
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.changes.Notify()
	}
	return s.tracker.MarkRead(ctx, conversationID)
}
