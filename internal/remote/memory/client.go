package memory

import (
	"context"
	"fmt"

	"chat-sync/internal/remote"
)

// Client is a remote.Store acting on behalf of one user.
type Client struct {
	backend *Backend
	userID  string
}

var _ remote.Store = (*Client)(nil)

// UserID returns the caller identity of the client.
func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) Query(ctx context.Context, resource remote.Resource, filters []remote.Filter, order *remote.Order) ([]remote.Row, error) {
	if err := c.backend.before(ctx, OpQuery, resource, nil); err != nil {
		return nil, err
	}
	c.backend.mu.Lock()
	rows, err := c.backend.readLocked(resource)
	if err != nil {
		c.backend.mu.Unlock()
		return nil, err
	}
	out := make([]remote.Row, 0, len(rows))
	for _, r := range rows {
		if remote.MatchAll(filters, r) {
			out = append(out, r.Clone())
		}
	}
	c.backend.mu.Unlock()

	sortRows(out, order)
	return out, nil
}

func (c *Client) Insert(ctx context.Context, resource remote.Resource, row remote.Row) (remote.Row, error) {
	if err := c.backend.before(ctx, OpInsert, resource, row); err != nil {
		return nil, err
	}
	c.backend.mu.Lock()
	created, err := c.backend.insertLocked(c.userID, resource, row)
	now := c.backend.now()
	c.backend.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.backend.bus.Publish(remote.ChangeEvent{
		Resource:   resource,
		Type:       remote.EventInsert,
		New:        created.Clone(),
		CommitTime: now,
	})
	return created, nil
}

func (c *Client) Update(ctx context.Context, resource remote.Resource, filters []remote.Filter, values remote.Row) ([]remote.Row, error) {
	if err := c.backend.before(ctx, OpUpdate, resource, values); err != nil {
		return nil, err
	}
	if resource == remote.MemberProfiles {
		return nil, fmt.Errorf("%w: resource %q is read-only", remote.ErrRejected, resource)
	}

	c.backend.mu.Lock()
	var events []remote.ChangeEvent
	var updated []remote.Row
	now := c.backend.now()
	for i, r := range c.backend.tables[resource] {
		if !remote.MatchAll(filters, r) {
			continue
		}
		next := r.Clone()
		for k, v := range values {
			next[k] = v
		}
		c.backend.tables[resource][i] = next
		updated = append(updated, next.Clone())
		events = append(events, remote.ChangeEvent{
			Resource:   resource,
			Type:       remote.EventUpdate,
			New:        next.Clone(),
			Old:        r.Clone(),
			CommitTime: now,
		})
	}
	c.backend.mu.Unlock()

	for _, ev := range events {
		c.backend.bus.Publish(ev)
	}
	return updated, nil
}

func (c *Client) Call(ctx context.Context, procedure string, args remote.Row) (any, error) {
	if err := c.backend.before(ctx, OpCall, remote.Resource(procedure), args); err != nil {
		return nil, err
	}
	switch procedure {
	case remote.ProcHasUserReadConversation:
		convID := args.String("conversation_id")
		if convID == "" {
			return nil, fmt.Errorf("%w: conversation_id is required", remote.ErrRejected)
		}
		c.backend.mu.Lock()
		defer c.backend.mu.Unlock()
		return c.backend.hasReadLocked(c.userID, convID), nil
	default:
		return nil, fmt.Errorf("%w: unknown procedure %q", remote.ErrRejected, procedure)
	}
}

func (c *Client) Subscribe(ctx context.Context, topic remote.Topic, handler remote.Handler) (remote.SubscriptionID, error) {
	if err := c.backend.before(ctx, OpSubscribe, topic.Resource, nil); err != nil {
		return "", err
	}
	return c.backend.bus.Add(topic, handler), nil
}

func (c *Client) Unsubscribe(id remote.SubscriptionID) {
	c.backend.bus.Remove(id)
}
