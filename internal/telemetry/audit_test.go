package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-sync/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	userID := "u1"
	publisher.On("Publish", mock.Anything, "audit.chat_sync", mock.MatchedBy(func(env AuditEnvelope) bool {
		return env.EventType == "audit_log" &&
			env.Service == "chat-sync" &&
			env.Environment == "test" &&
			env.RequestID == "req-1" &&
			env.UserID != nil && *env.UserID == "u1" &&
			env.Payload.Level == "warning" &&
			env.Payload.Text == "half created" &&
			env.OccurredAt == "2024-03-01T10:00:00Z"
	})).Return(nil).Once()

	emitter := NewAuditEmitter(publisher, "audit.chat_sync", "chat-sync", "test", zerolog.Nop())
	emitter.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	emitter.Emit(context.Background(), "warning", "half created", "req-1", &userID)

	publisher.AssertExpectations(t)
}

func TestEmitSwallowsPublishError(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down")).Once()

	emitter := NewAuditEmitter(publisher, "k", "chat-sync", "test", zerolog.Nop())
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "warning", "x", "", nil)
	})
	publisher.AssertExpectations(t)
}

func TestEmitNilEmitter(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "info", "x", "", nil)
	})
}
