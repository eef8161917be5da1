// Package docker wraps the Docker engine API for worker container
// management: create, start, health-wait, stop, remove, list.
package docker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"

	"github.com/t-brandt/kapsel/internal/config"
)

var (
	ErrNotFound          = errors.New("container not found")
	ErrEngineUnavailable = errors.New("container engine unavailable")
	ErrStartFailed       = errors.New("container start failed")
	ErrHealthTimeout     = errors.New("worker health check timed out")
)

// VolumeBind describes one host-path bind mount, as passed by callers.
type VolumeBind struct {
	Bind string `json:"bind"` // container path
	Mode string `json:"mode"` // "rw" (default) or "ro"
}

type Client struct {
	cfg    *config.Config
	docker *client.Client
	http   *http.Client
}

func New(cfg *config.Config) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{
		cfg:    cfg,
		docker: cli,
		http:   &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.docker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return nil
}

// EnsureNetwork creates the bridge network if it does not exist and returns
// its id.
func (c *Client) EnsureNetwork(ctx context.Context) (string, error) {
	name := c.cfg.NetworkName

	inspect, err := c.docker.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return inspect.ID, nil
	}
	if !client.IsErrNotFound(err) {
		return "", fmt.Errorf("network inspect: %w", err)
	}

	created, err := c.docker.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return "", fmt.Errorf("network create: %w", err)
	}
	return created.ID, nil
}

// Create creates a worker container (without starting it) and returns its id.
// Resource limits and hardening follow the worker contract: memory cap, CPU
// quota, pids cap 100, all capabilities dropped, no-new-privileges.
func (c *Client) Create(ctx context.Context, name string, volumes map[string]VolumeBind, env map[string]string) (string, error) {
	memBytes, err := units.RAMInBytes(c.cfg.MemoryLimit)
	if err != nil {
		return "", fmt.Errorf("parse memory_limit %q: %w", c.cfg.MemoryLimit, err)
	}

	var mounts []mount.Mount
	for hostPath, vol := range volumes {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   hostPath,
			Target:   vol.Bind,
			ReadOnly: vol.Mode == "ro",
		})
	}

	var envList []string
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	pidsLimit := int64(100)
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    memBytes,
			NanoCPUs:  int64(c.cfg.CPULimit * 1e9),
			PidsLimit: &pidsLimit,
		},
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		NetworkMode: container.NetworkMode(c.cfg.NetworkName),
		Mounts:      mounts,
	}

	containerCfg := &container.Config{
		Image: c.cfg.WorkerImage,
		Env:   envList,
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	return resp.ID, nil
}

// Start starts a created container.
func (c *Client) Start(ctx context.Context, containerID string) error {
	if err := c.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	return nil
}

// IP returns the container's address on the configured network, falling back
// to any attached network.
func (c *Client) IP(ctx context.Context, containerID string) (string, error) {
	inspect, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("container inspect: %w", err)
	}

	nets := inspect.NetworkSettings.Networks
	if ep, ok := nets[c.cfg.NetworkName]; ok && ep.IPAddress != "" {
		return ep.IPAddress, nil
	}
	for _, ep := range nets {
		if ep.IPAddress != "" {
			return ep.IPAddress, nil
		}
	}
	return "", fmt.Errorf("no IP for container %s", shortID(containerID))
}

// WaitHealthy polls the worker's /health endpoint until it answers 200 or
// the configured health timeout elapses. The poll is cancelable via ctx.
func (c *Client) WaitHealthy(ctx context.Context, ip string) error {
	url := fmt.Sprintf("http://%s:%d/health", ip, c.cfg.WorkerPort)

	deadline := time.Now().Add(c.cfg.HealthTimeout())
	ticker := time.NewTicker(c.cfg.HealthInterval())
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return ErrHealthTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop stops a container, absorbing not-found.
func (c *Client) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	err := c.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

// Remove force-removes a container and its anonymous volumes, absorbing
// not-found.
func (c *Client) Remove(ctx context.Context, containerID string) error {
	err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// ContainerInfo holds basic info about a worker container.
type ContainerInfo struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Get returns info for a single container.
func (c *Client) Get(ctx context.Context, containerID string) (*ContainerInfo, error) {
	inspect, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("container inspect: %w", err)
	}
	return &ContainerInfo{ID: inspect.ID, Name: inspect.Name}, nil
}

// ListByPrefix returns all containers (running or not) whose name starts
// with the configured container prefix.
func (c *Client) ListByPrefix(ctx context.Context) ([]ContainerInfo, error) {
	f := filters.NewArgs(filters.Arg("name", c.cfg.ContainerPrefix))

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	var result []ContainerInfo
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = ctr.Names[0]
		}
		result = append(result, ContainerInfo{
			ID:        ctr.ID,
			Name:      name,
			CreatedAt: time.Unix(ctr.Created, 0),
		})
	}
	return result, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
