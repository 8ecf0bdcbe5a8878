package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type AuditMock struct {
	mock.Mock
}

func (m *AuditMock) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	m.Called(ctx, level, text, requestID, userID)
}
