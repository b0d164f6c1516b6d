package mocks

import (
	"context"

	"github.com/dukex/devicegroups/pkg/eventbus"
	"github.com/stretchr/testify/mock"
)

// MockBus is a mock implementation of eventbus.Bus.
type MockBus struct {
	mock.Mock
}

func (m *MockBus) Publish(ctx context.Context, topic string, payload []byte) error {
	args := m.Called(ctx, topic, payload)

	return args.Error(0)
}

func (m *MockBus) Subscribe(ctx context.Context, topic string, handler eventbus.Handler) error {
	args := m.Called(ctx, topic, handler)

	return args.Error(0)
}

func (m *MockBus) IsConnected() bool {
	args := m.Called()

	return args.Bool(0)
}

func (m *MockBus) Close() error {
	args := m.Called()

	return args.Error(0)
}
