package readstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/remote"
)

func TestIsUnreadOwnMessageSkipsRemote(t *testing.T) {
	store := new(mocks.StoreMock)
	tracker := NewTracker(store, "u1", zerolog.Nop())

	assert.False(t, tracker.IsUnread(context.Background(), "c1", time.Now(), "u1"))
	store.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
}

func TestIsUnreadAsksServer(t *testing.T) {
	tests := []struct {
		name   string
		result any
		err    error
		want   bool
	}{
		{"not read", false, nil, true},
		{"read", true, nil, false},
		{"procedure error", nil, errors.New("boom"), false},
		{"transient", nil, remote.ErrTransient, false},
		{"non boolean", "yes", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mocks.StoreMock)
			store.On("Call", mock.Anything, remote.ProcHasUserReadConversation, remote.Row{"conversation_id": "c1"}).
				Return(tt.result, tt.err).Once()
			tracker := NewTracker(store, "u1", zerolog.Nop())

			assert.Equal(t, tt.want, tracker.IsUnread(context.Background(), "c1", time.Now(), "u2"))
			store.AssertExpectations(t)
		})
	}
}

func TestMarkReadInsertsMarker(t *testing.T) {
	store := new(mocks.StoreMock)
	now := time.Unix(500, 0)
	store.On("Insert", mock.Anything, remote.ReadMarkers, remote.Row{
		"conversation_id": "c1",
		"user_id":         "u1",
		"read_at":         now,
	}).Return(remote.Row{}, nil).Once()

	tracker := NewTracker(store, "u1", zerolog.Nop())
	tracker.SetClock(func() time.Time { return now })
	require.NoError(t, tracker.MarkRead(context.Background(), "c1"))
	store.AssertExpectations(t)
}

func TestMarkReadPropagatesError(t *testing.T) {
	store := new(mocks.StoreMock)
	store.On("Insert", mock.Anything, remote.ReadMarkers, mock.Anything).Return(nil, remote.ErrTransient).Once()

	tracker := NewTracker(store, "u1", zerolog.Nop())
	err := tracker.MarkRead(context.Background(), "c1")
	assert.ErrorIs(t, err, remote.ErrTransient)
}
