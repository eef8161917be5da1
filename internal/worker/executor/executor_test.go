package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t-brandt/kapsel/internal/worker/capture"
	"github.com/t-brandt/kapsel/protocol"
)

func run(t *testing.T, e *Executor, code, resultVar string) (protocol.ExecutionResult, []protocol.OutputChunk) {
	t.Helper()
	cap := capture.New(nil)
	result := e.Run(context.Background(), code, resultVar, cap)
	return result, cap.Drain()
}

func TestStatePersistsAcrossFragments(t *testing.T) {
	e := New()

	result, _ := run(t, e, "x = 1", "")
	require.True(t, result.Success)

	result, _ = run(t, e, "y = x + 41", "y")
	require.True(t, result.Success)
	assert.Equal(t, protocol.StatusSuccess, result.Status)
	require.NotNil(t, result.ReturnValue)
	assert.Equal(t, "y", result.ReturnValue["name"])
	assert.Equal(t, "int", result.ReturnValue["type"])
	assert.Equal(t, int64(42), result.ReturnValue["value"])
}

func TestPrintStreamsText(t *testing.T) {
	e := New()
	result, chunks := run(t, e, `print("hello")
print("world")`, "")

	require.True(t, result.Success)
	require.Len(t, chunks, 2)
	assert.Equal(t, protocol.ChunkText, chunks[0].Kind)
	assert.Equal(t, "hello\n", chunks[0].Payload)
	assert.Equal(t, "world\n", chunks[1].Payload)
}

func TestRuntimeErrorRollsBackNewNames(t *testing.T) {
	e := New()
	_, _ = run(t, e, "kept = 1", "")

	result, chunks := run(t, e, `fresh = 2
kept = 99
boom = 1 // 0`, "")

	require.False(t, result.Success)
	assert.Equal(t, protocol.StatusError, result.Status)
	assert.NotEmpty(t, result.Traceback)
	require.Len(t, chunks, 1)
	assert.Equal(t, protocol.ChunkError, chunks[0].Kind)

	// New bindings are gone, the pre-existing mutation survives.
	assert.Equal(t, []string{"kept"}, e.VariableNames())
	v, ok := e.Variable("kept")
	require.True(t, ok)
	assert.Equal(t, int64(99), v["value"])
}

func TestUndefinedNameIsResolveError(t *testing.T) {
	// A bare reference to an unbound name fails at resolution, before
	// anything runs.
	e := New()
	result, _ := run(t, e, "totally_unbound + 1", "")
	require.False(t, result.Success)
	assert.Equal(t, "SyntaxError", result.ErrorType)
}

func TestSyntaxErrorLeavesNamespaceUntouched(t *testing.T) {
	e := New()
	_, _ = run(t, e, "a = 1", "")

	result, chunks := run(t, e, "def broken(:", "")
	require.False(t, result.Success)
	assert.Equal(t, "SyntaxError", result.ErrorType)
	require.Len(t, chunks, 1)
	assert.Equal(t, protocol.ChunkError, chunks[0].Kind)

	assert.Equal(t, []string{"a"}, e.VariableNames())
}

func TestRuntimeErrorType(t *testing.T) {
	e := New()
	result, _ := run(t, e, `x = {}
y = x["missing"]`, "")
	require.False(t, result.Success)
	assert.Equal(t, "EvalError", result.ErrorType)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestResultVarMissing(t *testing.T) {
	// An unbound result variable is not an error; the result just carries
	// no return value.
	e := New()
	result, _ := run(t, e, "x = 1", "nope")
	require.True(t, result.Success)
	assert.Equal(t, protocol.StatusSuccess, result.Status)
	assert.Nil(t, result.ReturnValue)
}

func TestInspectionDoesNotBlockDuringRun(t *testing.T) {
	e := New()
	_, _ = run(t, e, "settled = 1", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cap := capture.New(nil)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		e.Run(ctx, `print("running")
while True:
    pass`, "", cap)
	}()

	// Wait for the fragment to actually start.
	first, ok := cap.Next()
	require.True(t, ok)
	assert.Equal(t, protocol.ChunkText, first.Kind)

	inspected := make(chan struct{})
	go func() {
		defer close(inspected)
		assert.Equal(t, 2, e.ExecutionCount())
		assert.Equal(t, []string{"settled"}, e.VariableNames())
	}()

	select {
	case <-inspected:
	case <-time.After(2 * time.Second):
		t.Fatal("inspection blocked behind a running execution")
	}

	cancel()
	<-runDone
}

func TestPreloadedModules(t *testing.T) {
	e := New()
	result, _ := run(t, e, `r = math.sqrt(16.0)
doc = json.encode({"k": 1})
tbl = table.series([1, 2, 3], name="n")`, "r")

	require.True(t, result.Success, "error: %s", result.ErrorMessage)
	assert.Equal(t, 4.0, result.ReturnValue["value"])
}

func TestTableResultVar(t *testing.T) {
	e := New()
	result, _ := run(t, e, `df = table.frame({"a": [1, 2], "b": ["x", "y"]})`, "df")

	require.True(t, result.Success, "error: %s", result.ErrorMessage)
	assert.Equal(t, "DataFrame", result.ReturnValue["type"])
	assert.Equal(t, []string{"a", "b"}, result.ReturnValue["column_names"])
	assert.Equal(t, []int{2, 2}, result.ReturnValue["shape"])
}

func TestReset(t *testing.T) {
	e := New()
	_, _ = run(t, e, "x = 1", "")
	require.Equal(t, []string{"x"}, e.VariableNames())
	require.Equal(t, 1, e.ExecutionCount())

	e.Reset()

	assert.Empty(t, e.VariableNames())
	assert.Equal(t, 0, e.ExecutionCount())

	// Modules are reseeded after reset.
	result, _ := run(t, e, "z = math.pi", "z")
	assert.True(t, result.Success)
}

func TestFunctionDefinitionsPersist(t *testing.T) {
	e := New()
	result, _ := run(t, e, `def double(n):
    return n * 2`, "")
	require.True(t, result.Success)

	result, _ = run(t, e, "v = double(21)", "v")
	require.True(t, result.Success)
	assert.Equal(t, int64(42), result.ReturnValue["value"])
}

func TestCancellation(t *testing.T) {
	e := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cap := capture.New(nil)
	result := e.Run(ctx, `i = 0
while True:
    i += 1`, "", cap)

	require.False(t, result.Success)
	assert.Equal(t, protocol.StatusError, result.Status)
}

func TestExecutionTimeRounded(t *testing.T) {
	e := New()
	result, _ := run(t, e, "x = 1", "")
	require.True(t, result.Success)
	assert.GreaterOrEqual(t, result.ExecutionTime, 0.0)
	assert.Less(t, result.ExecutionTime, 1.0)
}
