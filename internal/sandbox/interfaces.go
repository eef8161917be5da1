package sandbox

import (
	"context"
	"time"

	"github.com/t-brandt/kapsel/internal/docker"
)

// ContainerDriver is the slice of the container engine the manager needs.
type ContainerDriver interface {
	Ping(ctx context.Context) error
	EnsureNetwork(ctx context.Context) (string, error)
	Create(ctx context.Context, name string, volumes map[string]docker.VolumeBind, env map[string]string) (string, error)
	Start(ctx context.Context, containerID string) error
	IP(ctx context.Context, containerID string) (string, error)
	WaitHealthy(ctx context.Context, ip string) error
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string) error
	ListByPrefix(ctx context.Context) ([]docker.ContainerInfo, error)
}
