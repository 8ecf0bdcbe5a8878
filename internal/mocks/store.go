package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/remote"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) Query(ctx context.Context, resource remote.Resource, filters []remote.Filter, order *remote.Order) ([]remote.Row, error) {
	args := m.Called(ctx, resource, filters, order)
	var rows []remote.Row
	if val := args.Get(0); val != nil {
		rows = val.([]remote.Row)
	}
	return rows, args.Error(1)
}

func (m *StoreMock) Insert(ctx context.Context, resource remote.Resource, row remote.Row) (remote.Row, error) {
	args := m.Called(ctx, resource, row)
	var out remote.Row
	if val := args.Get(0); val != nil {
		out = val.(remote.Row)
	}
	return out, args.Error(1)
}

func (m *StoreMock) Update(ctx context.Context, resource remote.Resource, filters []remote.Filter, values remote.Row) ([]remote.Row, error) {
	args := m.Called(ctx, resource, filters, values)
	var rows []remote.Row
	if val := args.Get(0); val != nil {
		rows = val.([]remote.Row)
	}
	return rows, args.Error(1)
}

func (m *StoreMock) Call(ctx context.Context, procedure string, params remote.Row) (any, error) {
	args := m.Called(ctx, procedure, params)
	return args.Get(0), args.Error(1)
}

func (m *StoreMock) Subscribe(ctx context.Context, topic remote.Topic, handler remote.Handler) (remote.SubscriptionID, error) {
	args := m.Called(ctx, topic, handler)
	return remote.SubscriptionID(args.String(0)), args.Error(1)
}

func (m *StoreMock) Unsubscribe(id remote.SubscriptionID) {
	m.Called(id)
}
