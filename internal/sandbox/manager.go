// Package sandbox implements the controller: session lifecycle, container
// provisioning and the execution relay between callers and workers.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/t-brandt/kapsel/internal/config"
	"github.com/t-brandt/kapsel/internal/docker"
	"github.com/t-brandt/kapsel/internal/metrics"
	"github.com/t-brandt/kapsel/internal/registry"
	"github.com/t-brandt/kapsel/protocol"
)

const releaseGrace = 10 * time.Second

type Manager struct {
	cfg    *config.Config
	driver ContainerDriver
	reg    *registry.Registry
	logger *slog.Logger
	http   *http.Client

	// Per-session mutexes to serialize exec calls.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	// Monotonic counter for container names.
	counter atomic.Int64
}

func NewManager(cfg *config.Config, driver ContainerDriver, reg *registry.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		driver: driver,
		reg:    reg,
		logger: logger,
		// No overall client timeout: the read phase is bounded per call by
		// the execution-timeout context; only dialing is capped here.
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		locks: make(map[string]*sync.Mutex),
	}
}

// Registry exposes the session registry (used by the API layer).
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

func (m *Manager) removeSessionLock(id string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, id)
}

func (m *Manager) nextContainerName() string {
	return fmt.Sprintf("%s-%d", m.cfg.ContainerPrefix, m.counter.Add(1))
}

// Initialize verifies engine reachability, ensures the worker network exists
// and reaps orphan containers left over from a previous run.
func (m *Manager) Initialize(ctx context.Context) error {
	m.logger.Info("initializing sandbox manager")

	if err := m.driver.Ping(ctx); err != nil {
		return err
	}

	if _, err := m.driver.EnsureNetwork(ctx); err != nil {
		return fmt.Errorf("ensure network: %w", err)
	}

	reaped, err := m.ReapOrphans(ctx, 0)
	if err != nil {
		return fmt.Errorf("reap orphans: %w", err)
	}
	if reaped > 0 {
		m.logger.Info("reaped orphan containers", "count", reaped)
	}

	m.logger.Info("sandbox manager initialized")
	return nil
}

// CreateSession provisions a worker container, waits for it to become
// healthy and registers a ready session. Any failure along the way releases
// every resource acquired so far.
func (m *Manager) CreateSession(ctx context.Context, volumes map[string]docker.VolumeBind) (string, error) {
	name := m.nextContainerName()
	sessionID := registry.GenerateSessionID()

	m.logger.Info("creating session", "session_id", sessionID, "container_name", name)

	env := map[string]string{
		"WORKER_PORT": fmt.Sprintf("%d", m.cfg.WorkerPort),
	}

	containerID, err := m.driver.Create(ctx, name, volumes, env)
	if err != nil {
		metrics.SessionCreateFailures.WithLabelValues("create").Inc()
		return "", err
	}

	rec, ok := m.reg.Create(containerID, "", sessionID)
	if !ok {
		// A UUID collision would be the only way here; clean up the container.
		m.driver.Remove(ctx, containerID)
		metrics.SessionCreateFailures.WithLabelValues("register").Inc()
		return "", fmt.Errorf("session %s already registered", sessionID)
	}

	if err := m.driver.Start(ctx, containerID); err != nil {
		m.cleanupFailedCreate(ctx, rec.SessionID, containerID)
		metrics.SessionCreateFailures.WithLabelValues("start").Inc()
		return "", err
	}

	ip, err := m.driver.IP(ctx, containerID)
	if err != nil {
		m.cleanupFailedCreate(ctx, rec.SessionID, containerID)
		metrics.SessionCreateFailures.WithLabelValues("ip").Inc()
		return "", err
	}
	m.reg.SetContainerIP(rec.SessionID, ip)

	if err := m.driver.WaitHealthy(ctx, ip); err != nil {
		m.cleanupFailedCreate(ctx, rec.SessionID, containerID)
		metrics.SessionCreateFailures.WithLabelValues("health").Inc()
		return "", err
	}

	m.reg.UpdateState(rec.SessionID, registry.StateReady, "")
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(float64(m.reg.CountActive()))

	m.logger.Info("session ready", "session_id", rec.SessionID, "container_ip", ip)
	return rec.SessionID, nil
}

func (m *Manager) cleanupFailedCreate(ctx context.Context, sessionID, containerID string) {
	if err := m.driver.Stop(ctx, containerID, releaseGrace); err != nil {
		m.logger.Warn("cleanup stop", "container_id", containerID, "error", err)
	}
	if err := m.driver.Remove(ctx, containerID); err != nil {
		m.logger.Warn("cleanup remove", "container_id", containerID, "error", err)
	}
	m.reg.Release(sessionID)
	m.removeSessionLock(sessionID)
}

// Execute streams one code fragment through the session's worker. Chunks are
// sent to out in emission order; the terminal result chunk is last. The
// channel is not closed; that is the caller's job once Execute returns.
//
// Worker-side interpreter failures are not errors here: they arrive as an
// error-shaped result chunk. Only lookup and state problems return an error.
func (m *Manager) Execute(ctx context.Context, sessionID, code, resultVar string, out chan<- string) error {
	rec, ok := m.reg.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if !rec.Available() {
		return fmt.Errorf("%w: %s (state: %s)", ErrUnavailable, sessionID, rec.State)
	}

	// Serialize executions per session; held end-to-end.
	mu := m.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	// Re-check under the lock: the session may have been released or errored
	// while we waited.
	rec, ok = m.reg.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if !rec.Available() {
		return fmt.Errorf("%w: %s (state: %s)", ErrUnavailable, sessionID, rec.State)
	}

	m.reg.UpdateState(sessionID, registry.StateExecuting, "")
	defer m.reg.UpdateState(sessionID, registry.StateReady, "")

	start := time.Now()
	outcome := m.streamExec(ctx, rec, code, resultVar, out)
	metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
	return nil
}

// streamExec performs the HTTP round-trip and relays reassembled SSE event
// payloads. It returns a metrics outcome label; transport failures surface to
// the caller as <err> chunks, never as Go errors.
func (m *Manager) streamExec(ctx context.Context, rec registry.Record, code, resultVar string, out chan<- string) string {
	execCtx, cancel := context.WithTimeout(ctx, m.cfg.ExecTimeout())
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/exec", rec.ContainerIP, m.cfg.WorkerPort)
	body, err := json.Marshal(protocol.ExecRequest{Code: code, ResultVar: resultVar})
	if err != nil {
		out <- protocol.OutputChunk{Kind: protocol.ChunkError, Payload: err.Error()}.Render()
		return "error"
	}

	req, err := http.NewRequestWithContext(execCtx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		out <- protocol.OutputChunk{Kind: protocol.ChunkError, Payload: err.Error()}.Render()
		return "error"
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return m.relayTransportError(execCtx, rec.SessionID, err, out)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		m.logger.Error("worker rejected exec", "session_id", rec.SessionID, "status", resp.StatusCode)
		out <- protocol.OutputChunk{
			Kind:    protocol.ChunkError,
			Payload: fmt.Sprintf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}.Render()
		return "error"
	}

	events := protocol.NewEventScanner(resp.Body)
	for {
		payload, ok := events.Next()
		if !ok {
			break
		}
		select {
		case out <- payload:
		case <-execCtx.Done():
			return m.relayTransportError(execCtx, rec.SessionID, execCtx.Err(), out)
		}
	}
	if err := events.Err(); err != nil {
		return m.relayTransportError(execCtx, rec.SessionID, err, out)
	}
	return "ok"
}

func (m *Manager) relayTransportError(execCtx context.Context, sessionID string, err error, out chan<- string) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		m.logger.Error("execution timeout", "session_id", sessionID)
		out <- protocol.OutputChunk{Kind: protocol.ChunkError, Payload: "Execution timeout"}.Render()
		return "timeout"
	}
	m.logger.Error("execution transport error", "session_id", sessionID, "error", err)
	out <- protocol.OutputChunk{Kind: protocol.ChunkError, Payload: err.Error()}.Render()
	return "error"
}

// ReleaseSession tears down the session's container and removes the record.
// Stop/remove failures are logged and absorbed; release is idempotent and
// returns false for unknown sessions.
func (m *Manager) ReleaseSession(ctx context.Context, sessionID string) bool {
	rec, ok := m.reg.Get(sessionID)
	if !ok {
		m.logger.Warn("release of unknown session", "session_id", sessionID)
		return false
	}

	m.logger.Info("releasing session", "session_id", sessionID)
	m.reg.UpdateState(sessionID, registry.StateDestroying, "")

	if err := m.driver.Stop(ctx, rec.ContainerID, releaseGrace); err != nil {
		m.logger.Warn("release stop", "session_id", sessionID, "error", err)
	}
	if err := m.driver.Remove(ctx, rec.ContainerID); err != nil {
		m.logger.Warn("release remove", "session_id", sessionID, "error", err)
	}

	m.reg.Release(sessionID)
	m.removeSessionLock(sessionID)

	metrics.SessionsReleased.Inc()
	metrics.SessionsActive.Set(float64(m.reg.CountActive()))
	return true
}

// GetSessionInfo returns a snapshot of the session record, or nil.
func (m *Manager) GetSessionInfo(sessionID string) *registry.Record {
	rec, ok := m.reg.Get(sessionID)
	if !ok {
		return nil
	}
	return &rec
}

// ListSessions returns snapshots of every session record.
func (m *Manager) ListSessions() []registry.Record {
	return m.reg.All()
}

// ResetSession asks the session's worker to drop all user variables. The
// per-session lock is held so a reset cannot interleave with an execution.
func (m *Manager) ResetSession(ctx context.Context, sessionID string) error {
	rec, ok := m.reg.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if !rec.Available() {
		return fmt.Errorf("%w: %s (state: %s)", ErrUnavailable, sessionID, rec.State)
	}

	mu := m.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	url := fmt.Sprintf("http://%s:%d/reset", rec.ContainerIP, m.cfg.WorkerPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("worker reset: %w", err)
	}
	defer resp.Body.Close()

	var rr protocol.ResetResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("worker reset: %w", err)
	}
	if !rr.Success {
		return fmt.Errorf("worker reset: %s", rr.Message)
	}
	return nil
}

// ReapOrphans stops and removes every container whose name carries the
// configured prefix but which no session record owns. Containers younger
// than minAge are skipped: a container being created exists before its
// session record does, and must not be reaped out from under CreateSession.
func (m *Manager) ReapOrphans(ctx context.Context, minAge time.Duration) (int, error) {
	containers, err := m.driver.ListByPrefix(ctx)
	if err != nil {
		return 0, err
	}

	owned := m.reg.ContainerIDs()
	reaped := 0
	for _, ctr := range containers {
		if owned[ctr.ID] {
			continue
		}
		if minAge > 0 && time.Since(ctr.CreatedAt) < minAge {
			continue
		}
		m.logger.Info("reaping orphan container", "container_id", ctr.ID, "name", ctr.Name)
		if err := m.driver.Stop(ctx, ctr.ID, releaseGrace); err != nil {
			m.logger.Warn("orphan stop", "container_id", ctr.ID, "error", err)
		}
		if err := m.driver.Remove(ctx, ctr.ID); err != nil {
			m.logger.Warn("orphan remove", "container_id", ctr.ID, "error", err)
			continue
		}
		reaped++
		metrics.OrphansReaped.Inc()
	}
	return reaped, nil
}

// Shutdown releases every live session, best-effort.
func (m *Manager) Shutdown(ctx context.Context) {
	m.logger.Info("shutting down sandbox manager")

	for _, rec := range m.reg.All() {
		m.ReleaseSession(ctx, rec.SessionID)
	}

	m.logger.Info("sandbox manager shutdown complete")
}
