package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/t-brandt/kapsel/internal/docker"
	"github.com/t-brandt/kapsel/internal/registry"
)

type MockSessionService struct {
	mock.Mock

	// chunks are streamed to the out channel on Execute.
	chunks []string
}

func (m *MockSessionService) CreateSession(ctx context.Context, volumes map[string]docker.VolumeBind) (string, error) {
	args := m.Called(ctx, volumes)
	return args.String(0), args.Error(1)
}

func (m *MockSessionService) Execute(ctx context.Context, sessionID, code, resultVar string, out chan<- string) error {
	args := m.Called(ctx, sessionID, code, resultVar)
	if err := args.Error(0); err != nil {
		return err
	}
	for _, c := range m.chunks {
		out <- c
	}
	return nil
}

func (m *MockSessionService) ReleaseSession(ctx context.Context, sessionID string) bool {
	args := m.Called(ctx, sessionID)
	return args.Bool(0)
}

func (m *MockSessionService) ResetSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockSessionService) GetSessionInfo(sessionID string) *registry.Record {
	args := m.Called(sessionID)
	if rec := args.Get(0); rec != nil {
		return rec.(*registry.Record)
	}
	return nil
}

func (m *MockSessionService) ListSessions() []registry.Record {
	args := m.Called()
	if recs := args.Get(0); recs != nil {
		return recs.([]registry.Record)
	}
	return nil
}
