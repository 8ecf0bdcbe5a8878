package remote

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	bus.Add(Topic{Resource: Messages, Event: EventInsert}, func(ev ChangeEvent) {
		mu.Lock()
		got = append(got, ev.New.String("id"))
		mu.Unlock()
	})

	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		bus.Publish(ChangeEvent{Resource: Messages, Type: EventInsert, New: Row{"id": id}})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, got)
}

func TestBusSkipsNonMatchingTopics(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	delivered := make(chan ChangeEvent, 1)
	bus.Add(Topic{Resource: Messages, Event: EventInsert, Filters: []Filter{Eq("conversation_id", "c1")}}, func(ev ChangeEvent) {
		delivered <- ev
	})

	bus.Publish(ChangeEvent{Resource: Messages, Type: EventInsert, New: Row{"conversation_id": "c2"}})
	bus.Publish(ChangeEvent{Resource: Messages, Type: EventInsert, New: Row{"conversation_id": "c1"}})

	select {
	case ev := <-delivered:
		assert.Equal(t, "c1", ev.New.String("conversation_id"))
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
}

func TestBusRemoveIsIdempotent(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	id := bus.Add(Topic{Resource: Conversations, Event: EventAll}, func(ChangeEvent) {})
	assert.Equal(t, 1, bus.Len())
	assert.True(t, bus.Remove(id))
	assert.False(t, bus.Remove(id))
	assert.Equal(t, 0, bus.Len())
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	calls := make(chan struct{}, 2)
	bus.Add(Topic{Resource: Conversations, Event: EventAll}, func(ChangeEvent) {
		calls <- struct{}{}
		panic("boom")
	})

	bus.Publish(ChangeEvent{Resource: Conversations, Type: EventUpdate, New: Row{}})
	bus.Publish(ChangeEvent{Resource: Conversations, Type: EventUpdate, New: Row{}})

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("handler stopped receiving after panic")
		}
	}
}
