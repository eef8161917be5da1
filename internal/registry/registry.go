// Package registry holds the in-memory session records and enforces the
// session state machine. All operations are atomic and non-blocking; callers
// never hold the registry lock across I/O.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session.
type State string

const (
	StateCreating   State = "creating"
	StateReady      State = "ready"
	StateExecuting  State = "executing"
	StateDestroying State = "destroying"
	StateDestroyed  State = "destroyed"
	StateError      State = "error"
)

// validNext encodes the state machine. Error is reachable from every
// non-terminal state; an errored session can still be destroyed.
var validNext = map[State][]State{
	StateCreating:   {StateReady, StateDestroying, StateError},
	StateReady:      {StateExecuting, StateDestroying, StateError},
	StateExecuting:  {StateReady, StateDestroying, StateError},
	StateDestroying: {StateDestroyed, StateError},
	StateDestroyed:  {},
	StateError:      {StateDestroying},
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Record is one session's registry entry. Values returned by the registry
// are copies; mutation goes through the registry API.
type Record struct {
	SessionID    string    `json:"session_id"`
	ContainerID  string    `json:"container_id"`
	ContainerIP  string    `json:"container_ip"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Active reports whether the session is usable or in use.
func (r Record) Active() bool {
	return r.State == StateReady || r.State == StateExecuting
}

// Available reports whether the session can accept a new execution.
func (r Record) Available() bool {
	return r.State == StateReady
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Record
}

func New() *Registry {
	return &Registry{sessions: make(map[string]*Record)}
}

// GenerateSessionID returns a fresh UUID session id.
func GenerateSessionID() string {
	return uuid.New().String()
}

// Create registers a new record in the creating state. sessionID may be
// empty, in which case one is generated. Returns false if the id is taken.
func (g *Registry) Create(containerID, containerIP, sessionID string) (Record, bool) {
	if sessionID == "" {
		sessionID = GenerateSessionID()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.sessions[sessionID]; exists {
		return Record{}, false
	}

	now := time.Now().UTC()
	rec := &Record{
		SessionID:   sessionID,
		ContainerID: containerID,
		ContainerIP: containerIP,
		State:       StateCreating,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	g.sessions[sessionID] = rec
	return *rec, true
}

// Get returns a copy of the record, or false if absent.
func (g *Registry) Get(sessionID string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.sessions[sessionID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// UpdateState transitions a session, recording an optional error message.
// Returns false if the record is absent or the transition is not legal.
// Every successful transition also bumps last_used_at.
func (g *Registry) UpdateState(sessionID string, state State, errorMessage string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.sessions[sessionID]
	if !ok {
		return false
	}
	if !CanTransition(rec.State, state) {
		return false
	}

	rec.State = state
	rec.LastUsedAt = time.Now().UTC()
	if errorMessage != "" {
		rec.ErrorMessage = errorMessage
	}
	return true
}

// SetContainerIP records the worker address once the container is started.
func (g *Registry) SetContainerIP(sessionID, ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.sessions[sessionID]
	if !ok {
		return false
	}
	rec.ContainerIP = ip
	return true
}

// Release removes the record, returning its final (destroyed) snapshot.
// A destroyed session is absent from the registry by definition.
func (g *Registry) Release(sessionID string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.sessions[sessionID]
	if !ok {
		return Record{}, false
	}
	delete(g.sessions, sessionID)

	rec.State = StateDestroyed
	rec.LastUsedAt = time.Now().UTC()
	return *rec, true
}

// All returns copies of every record.
func (g *Registry) All() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Record, 0, len(g.sessions))
	for _, rec := range g.sessions {
		out = append(out, *rec)
	}
	return out
}

// Active returns copies of every ready or executing record.
func (g *Registry) Active() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Record
	for _, rec := range g.sessions {
		if rec.Active() {
			out = append(out, *rec)
		}
	}
	return out
}

func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *Registry) CountActive() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, rec := range g.sessions {
		if rec.Active() {
			n++
		}
	}
	return n
}

// ByContainer finds the record owning a container id.
func (g *Registry) ByContainer(containerID string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, rec := range g.sessions {
		if rec.ContainerID == containerID {
			return *rec, true
		}
	}
	return Record{}, false
}

// ContainerIDs returns the set of container ids currently owned by records.
func (g *Registry) ContainerIDs() map[string]bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]bool, len(g.sessions))
	for _, rec := range g.sessions {
		out[rec.ContainerID] = true
	}
	return out
}
