package api

import (
	"context"

	"github.com/t-brandt/kapsel/internal/docker"
	"github.com/t-brandt/kapsel/internal/registry"
)

// SessionService is the slice of the sandbox manager the API needs.
type SessionService interface {
	CreateSession(ctx context.Context, volumes map[string]docker.VolumeBind) (string, error)
	Execute(ctx context.Context, sessionID, code, resultVar string, out chan<- string) error
	ReleaseSession(ctx context.Context, sessionID string) bool
	ResetSession(ctx context.Context, sessionID string) error
	GetSessionInfo(sessionID string) *registry.Record
	ListSessions() []registry.Record
}
