package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"chat-sync/internal/remote"
)

// Channel is the NOTIFY channel the schema triggers publish on.
const Channel = "chat_sync_changes"

type notification struct {
	Table      string         `json:"table"`
	Type       string         `json:"type"`
	Record     map[string]any `json:"record"`
	OldRecord  map[string]any `json:"old_record"`
	CommitTime time.Time      `json:"commit_time"`
}

func decodeNotification(payload string) (remote.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return remote.ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Table == "" || n.Type == "" {
		return remote.ChangeEvent{}, fmt.Errorf("decode notification: missing table or type")
	}
	ev := remote.ChangeEvent{
		Resource:   remote.Resource(n.Table),
		Type:       remote.EventType(n.Type),
		CommitTime: n.CommitTime,
	}
	if n.Record != nil {
		ev.New = remote.Row(n.Record)
	}
	if n.OldRecord != nil {
		ev.Old = remote.Row(n.OldRecord)
	}
	return ev, nil
}

// startListener opens the LISTEN connection and pumps notifications into the
// bus until done is closed.
func (s *Store) startListener() error {
	l := pq.NewListener(s.dsn, 500*time.Millisecond, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			s.log.Warn().Err(err).Msg("listener connection attempt failed")
		case pq.ListenerEventDisconnected:
			s.log.Warn().Err(err).Msg("listener disconnected")
		case pq.ListenerEventReconnected:
			s.log.Info().Msg("listener reconnected")
		}
	})
	if err := l.Listen(Channel); err != nil {
		_ = l.Close()
		return classify(err)
	}
	s.listener = l
	s.done = make(chan struct{})
	go s.pump(l, s.done)
	return nil
}

func (s *Store) pump(l *pq.Listener, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case n, ok := <-l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnected; notifications sent while disconnected are gone.
				s.log.Warn().Msg("listener resynchronized, changes may have been missed")
				continue
			}
			ev, err := decodeNotification(n.Extra)
			if err != nil {
				s.log.Error().Err(err).Msg("dropping notification")
				continue
			}
			s.bus.Publish(ev)
		case <-time.After(90 * time.Second):
			go func() {
				if err := l.Ping(); err != nil {
					s.log.Warn().Err(err).Msg("listener ping failed")
				}
			}()
		}
	}
}
