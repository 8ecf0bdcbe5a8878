// Package postgres implements remote.Store on PostgreSQL: queries through
// sqlx and realtime changes through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"chat-sync/internal/remote"
)

type procedure struct {
	query string
	args  []string
}

// procedures maps callable names to statements; $1 is always the caller.
var procedures = map[string]procedure{
	remote.ProcHasUserReadConversation: {
		query: "SELECT has_user_read_conversation($2, $1)",
		args:  []string{"conversation_id"},
	},
}

// Store is a remote.Store bound to one caller identity.
type Store struct {
	db     *sqlx.DB
	dsn    string
	userID string
	log    zerolog.Logger
	bus    *remote.Bus

	mu       sync.Mutex
	listener *pq.Listener
	done     chan struct{}
}

var _ remote.Store = (*Store)(nil)

// New creates a store acting as userID. The LISTEN connection is opened on
// the first subscription.
func New(db *sqlx.DB, dsn, userID string, log zerolog.Logger) *Store {
	log = log.With().Str("component", "postgres_store").Logger()
	return &Store{
		db:     db,
		dsn:    dsn,
		userID: userID,
		log:    log,
		bus:    remote.NewBus(log),
	}
}

func (s *Store) Query(ctx context.Context, resource remote.Resource, filters []remote.Filter, order *remote.Order) ([]remote.Row, error) {
	query, args, err := buildSelect(resource, filters, order)
	if err != nil {
		return nil, err
	}
	return s.rows(ctx, query, args)
}

func (s *Store) Insert(ctx context.Context, resource remote.Resource, row remote.Row) (remote.Row, error) {
	row, err := s.authorize(resource, row)
	if err != nil {
		return nil, err
	}
	query, args, err := buildInsert(resource, row)
	if err != nil {
		return nil, err
	}
	rows, err := s.rows(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: insert returned %d rows", remote.ErrRejected, len(rows))
	}
	return rows[0], nil
}

func (s *Store) Update(ctx context.Context, resource remote.Resource, filters []remote.Filter, values remote.Row) ([]remote.Row, error) {
	query, args, err := buildUpdate(resource, filters, values)
	if err != nil {
		return nil, err
	}
	return s.rows(ctx, query, args)
}

func (s *Store) Call(ctx context.Context, name string, args remote.Row) (any, error) {
	proc, ok := procedures[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown procedure %q", remote.ErrRejected, name)
	}
	params := []any{s.userID}
	for _, a := range proc.args {
		v, ok := args[a]
		if !ok {
			return nil, fmt.Errorf("%w: %s requires %s", remote.ErrRejected, name, a)
		}
		params = append(params, v)
	}
	var result any
	if err := s.db.QueryRowxContext(ctx, proc.query, params...).Scan(&result); err != nil {
		return nil, classify(err)
	}
	if b, ok := result.([]byte); ok {
		return string(b), nil
	}
	return result, nil
}

func (s *Store) Subscribe(ctx context.Context, topic remote.Topic, handler remote.Handler) (remote.SubscriptionID, error) {
	if err := ctx.Err(); err != nil {
		return "", classify(err)
	}
	if !readable[topic.Resource] {
		return "", fmt.Errorf("%w: resource %q not allowed", remote.ErrRejected, topic.Resource)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		if err := s.startListener(); err != nil {
			return "", err
		}
	}
	return s.bus.Add(topic, handler), nil
}

func (s *Store) Unsubscribe(id remote.SubscriptionID) {
	s.bus.Remove(id)
}

// Close stops the listener and drops every subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	l, done := s.listener, s.done
	s.listener, s.done = nil, nil
	s.mu.Unlock()

	s.bus.Close()
	if l == nil {
		return nil
	}
	close(done)
	return l.Close()
}

// authorize applies the row-level rules the backend enforces for the caller
// and strips columns the server assigns.
func (s *Store) authorize(resource remote.Resource, row remote.Row) (remote.Row, error) {
	row = row.Clone()
	if row == nil {
		row = remote.Row{}
	}
	switch resource {
	case remote.Messages:
		if row.String("author_id") != s.userID {
			return nil, fmt.Errorf("%w: cannot post as another user", remote.ErrRejected)
		}
		delete(row, "id")
		delete(row, "sent_at")
	case remote.ReadMarkers:
		if row.String("user_id") != s.userID {
			return nil, fmt.Errorf("%w: cannot mark read for another user", remote.ErrRejected)
		}
	}
	return row, nil
}

func (s *Store) rows(ctx context.Context, query string, args []any) ([]remote.Row, error) {
	rs, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rs.Close()

	var out []remote.Row
	for rs.Next() {
		m := make(map[string]any)
		if err := rs.MapScan(m); err != nil {
			return nil, classify(err)
		}
		out = append(out, normalize(m))
	}
	if err := rs.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
