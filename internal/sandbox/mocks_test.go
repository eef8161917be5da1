package sandbox

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/t-brandt/kapsel/internal/docker"
)

type MockContainerDriver struct {
	mock.Mock
}

func (m *MockContainerDriver) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockContainerDriver) EnsureNetwork(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockContainerDriver) Create(ctx context.Context, name string, volumes map[string]docker.VolumeBind, env map[string]string) (string, error) {
	args := m.Called(ctx, name, volumes, env)
	return args.String(0), args.Error(1)
}

func (m *MockContainerDriver) Start(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockContainerDriver) IP(ctx context.Context, containerID string) (string, error) {
	args := m.Called(ctx, containerID)
	return args.String(0), args.Error(1)
}

func (m *MockContainerDriver) WaitHealthy(ctx context.Context, ip string) error {
	args := m.Called(ctx, ip)
	return args.Error(0)
}

func (m *MockContainerDriver) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	args := m.Called(ctx, containerID, grace)
	return args.Error(0)
}

func (m *MockContainerDriver) Remove(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockContainerDriver) ListByPrefix(ctx context.Context) ([]docker.ContainerInfo, error) {
	args := m.Called(ctx)
	if infos := args.Get(0); infos != nil {
		return infos.([]docker.ContainerInfo), args.Error(1)
	}
	return nil, args.Error(1)
}
