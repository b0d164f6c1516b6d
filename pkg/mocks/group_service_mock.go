package mocks

import (
	"context"

	"github.com/dukex/devicegroups/pkg/groups"
	"github.com/dukex/devicegroups/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockGroupService is a mock implementation of web.GroupService.
type MockGroupService struct {
	mock.Mock
}

func (m *MockGroupService) DeviceID() string {
	return m.Called().String(0)
}

func (m *MockGroupService) EventName() string {
	return m.Called().String(0)
}

func (m *MockGroupService) Update(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockGroupService) InjectPayload(ctx context.Context, payload []byte) error {
	return m.Called(ctx, payload).Error(0)
}

func (m *MockGroupService) Configure(cfg groups.Config) error {
	return m.Called(cfg).Error(0)
}

func (m *MockGroupService) Config() groups.Config {
	return m.Called().Get(0).(groups.Config)
}

func (m *MockGroupService) Groups() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]string)
}

func (m *MockGroupService) IsInGroup(name string) bool {
	return m.Called(name).Bool(0)
}

func (m *MockGroupService) RetrievedGroups() bool {
	return m.Called().Bool(0)
}

func (m *MockGroupService) LastUpdate() uint64 {
	return m.Called().Get(0).(uint64)
}

func (m *MockGroupService) Device() models.DeviceInfo {
	return m.Called().Get(0).(models.DeviceInfo)
}

func (m *MockGroupService) State() groups.SchedulerState {
	return m.Called().Get(0).(groups.SchedulerState)
}
