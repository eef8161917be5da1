package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGeneratesUniqueIDs(t *testing.T) {
	reg := New()

	a, ok := reg.Create("ctr-a", "", "")
	require.True(t, ok)
	b, ok := reg.Create("ctr-b", "", "")
	require.True(t, ok)

	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.Equal(t, StateCreating, a.State)
	assert.Equal(t, 2, reg.Count())
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	reg := New()

	_, ok := reg.Create("ctr-a", "", "sess-1")
	require.True(t, ok)
	_, ok = reg.Create("ctr-b", "", "sess-1")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Count())
}

func TestFullLifecycleWalk(t *testing.T) {
	reg := New()
	rec, _ := reg.Create("ctr-1", "", "sess-1")
	id := rec.SessionID

	assert.True(t, reg.SetContainerIP(id, "172.20.0.2"))
	assert.True(t, reg.UpdateState(id, StateReady, ""))
	assert.True(t, reg.UpdateState(id, StateExecuting, ""))
	assert.True(t, reg.UpdateState(id, StateReady, ""))
	assert.True(t, reg.UpdateState(id, StateDestroying, ""))

	got, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateDestroying, got.State)
	assert.Equal(t, "172.20.0.2", got.ContainerIP)

	released, ok := reg.Release(id)
	require.True(t, ok)
	assert.Equal(t, StateDestroyed, released.State)

	_, ok = reg.Get(id)
	assert.False(t, ok, "destroyed session must be absent from the registry")
}

func TestIllegalTransitionsRejected(t *testing.T) {
	reg := New()
	rec, _ := reg.Create("ctr-1", "", "")
	id := rec.SessionID

	// creating → executing skips ready
	assert.False(t, reg.UpdateState(id, StateExecuting, ""))

	require.True(t, reg.UpdateState(id, StateReady, ""))
	// ready → creating walks backwards
	assert.False(t, reg.UpdateState(id, StateCreating, ""))

	got, _ := reg.Get(id)
	assert.Equal(t, StateReady, got.State)
}

func TestErrorIsSinkFromNonTerminalStates(t *testing.T) {
	for _, from := range []State{StateCreating, StateReady, StateExecuting, StateDestroying} {
		assert.True(t, CanTransition(from, StateError), "error should be reachable from %s", from)
	}
	assert.False(t, CanTransition(StateDestroyed, StateError))
	// errored sessions can still be torn down
	assert.True(t, CanTransition(StateError, StateDestroying))
}

func TestUpdateStateRecordsError(t *testing.T) {
	reg := New()
	rec, _ := reg.Create("ctr-1", "", "")

	assert.True(t, reg.UpdateState(rec.SessionID, StateError, "health check failed"))
	got, _ := reg.Get(rec.SessionID)
	assert.Equal(t, StateError, got.State)
	assert.Equal(t, "health check failed", got.ErrorMessage)
}

func TestUpdateStateMissingSession(t *testing.T) {
	reg := New()
	assert.False(t, reg.UpdateState("nope", StateReady, ""))
}

func TestTransitionsBumpLastUsed(t *testing.T) {
	reg := New()
	rec, _ := reg.Create("ctr-1", "", "")
	before := rec.LastUsedAt

	time.Sleep(2 * time.Millisecond)
	require.True(t, reg.UpdateState(rec.SessionID, StateReady, ""))

	got, _ := reg.Get(rec.SessionID)
	assert.True(t, got.LastUsedAt.After(before))
}

func TestActiveAndCounts(t *testing.T) {
	reg := New()

	a, _ := reg.Create("ctr-a", "", "")
	b, _ := reg.Create("ctr-b", "", "")
	reg.Create("ctr-c", "", "")

	reg.UpdateState(a.SessionID, StateReady, "")
	reg.UpdateState(b.SessionID, StateReady, "")
	reg.UpdateState(b.SessionID, StateExecuting, "")

	assert.Equal(t, 3, reg.Count())
	assert.Equal(t, 2, reg.CountActive())
	assert.Len(t, reg.Active(), 2)
	assert.Len(t, reg.All(), 3)
}

func TestByContainer(t *testing.T) {
	reg := New()
	rec, _ := reg.Create("ctr-xyz", "", "")

	got, ok := reg.ByContainer("ctr-xyz")
	require.True(t, ok)
	assert.Equal(t, rec.SessionID, got.SessionID)

	_, ok = reg.ByContainer("ctr-unknown")
	assert.False(t, ok)
}

func TestContainerIDs(t *testing.T) {
	reg := New()
	reg.Create("ctr-a", "", "")
	reg.Create("ctr-b", "", "")

	ids := reg.ContainerIDs()
	assert.True(t, ids["ctr-a"])
	assert.True(t, ids["ctr-b"])
	assert.False(t, ids["ctr-c"])
}

func TestReleaseIdempotent(t *testing.T) {
	reg := New()
	rec, _ := reg.Create("ctr-1", "", "")

	_, ok := reg.Release(rec.SessionID)
	assert.True(t, ok)
	_, ok = reg.Release(rec.SessionID)
	assert.False(t, ok)
}
