package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
)

type ConversationServiceMock struct {
	mock.Mock
}

func (m *ConversationServiceMock) Conversations() []models.ConversationSummary {
	args := m.Called()
	if val := args.Get(0); val != nil {
		return val.([]models.ConversationSummary)
	}
	return nil
}

func (m *ConversationServiceMock) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *ConversationServiceMock) CreateDirect(ctx context.Context, otherUserID string) (models.Conversation, error) {
	args := m.Called(ctx, otherUserID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Conversation, error) {
	args := m.Called(ctx, name, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) MarkRead(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

type StreamServiceMock struct {
	mock.Mock
}

func (m *StreamServiceMock) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *StreamServiceMock) Send(ctx context.Context, conversationID, content string) (models.Message, error) {
	args := m.Called(ctx, conversationID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *StreamServiceMock) Retry(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	args := m.Called(ctx, conversationID, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *StreamServiceMock) CloseStream(conversationID string) {
	m.Called(conversationID)
}
