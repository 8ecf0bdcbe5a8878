// Package members caches, per conversation, the members other than the
// current user together with their display attributes.
package members

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"chat-sync/internal/models"
	"chat-sync/internal/remote"
)

type entry struct {
	members []models.Member
	applied uint64
}

// Directory is a per-user member cache. Snapshots are replaced whole; a
// refresh that fails leaves the previous snapshot in place.
type Directory struct {
	store  remote.Store
	userID string
	log    zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	entries map[string]*entry
}

// NewDirectory creates an empty directory for userID.
func NewDirectory(store remote.Store, userID string, log zerolog.Logger) *Directory {
	return &Directory{
		store:   store,
		userID:  userID,
		log:     log.With().Str("component", "members").Logger(),
		entries: make(map[string]*entry),
	}
}

// Refresh re-fetches the members of conversationID. When refreshes overlap,
// a result that started earlier than the one already applied is dropped.
func (d *Directory) Refresh(ctx context.Context, conversationID string) error {
	d.mu.Lock()
	d.seq++
	ticket := d.seq
	d.mu.Unlock()

	rows, err := d.store.Query(ctx, remote.MemberProfiles, []remote.Filter{
		remote.Eq("conversation_id", conversationID),
		remote.Neq("user_id", d.userID),
	}, remote.Asc("joined_at"))
	if err != nil {
		d.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("member refresh failed, keeping previous snapshot")
		return fmt.Errorf("refresh members of %s: %w", conversationID, err)
	}

	list := make([]models.Member, 0, len(rows))
	for _, row := range rows {
		var m models.Member
		if err := remote.Decode(row, &m); err != nil {
			return fmt.Errorf("refresh members of %s: %w", conversationID, err)
		}
		if m.UserID == d.userID {
			continue
		}
		list = append(list, m)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].UserID < list[j].UserID
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[conversationID]; ok && e.applied > ticket {
		return nil
	}
	d.entries[conversationID] = &entry{members: list, applied: ticket}
	return nil
}

// Get returns a copy of the last snapshot, empty if never refreshed.
func (d *Directory) Get(conversationID string) []models.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[conversationID]
	if !ok {
		return []models.Member{}
	}
	out := make([]models.Member, len(e.members))
	copy(out, e.members)
	return out
}

// Lookup finds one member in the snapshot of conversationID.
func (d *Directory) Lookup(conversationID, userID string) (models.Member, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[conversationID]
	if !ok {
		return models.Member{}, false
	}
	for _, m := range e.members {
		if m.UserID == userID {
			return m, true
		}
	}
	return models.Member{}, false
}

// Forget drops the snapshot of conversationID.
func (d *Directory) Forget(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, conversationID)
}
