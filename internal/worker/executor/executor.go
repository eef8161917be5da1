// Package executor runs code fragments against one persistent interpreter
// namespace. Fragments share globals REPL-style: a later fragment sees every
// name an earlier one bound. A fragment that fails at runtime has the names
// it introduced rolled back; names that existed before keep whatever the
// failed fragment did to them.
package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/t-brandt/kapsel/internal/worker/capture"
	"github.com/t-brandt/kapsel/internal/worker/serialize"
	"github.com/t-brandt/kapsel/internal/worker/table"
	"github.com/t-brandt/kapsel/protocol"
)

const (
	errTypeSyntax = "SyntaxError"
	errTypeEval   = "EvalError"
)

// Executor owns one interpreter namespace. All methods are safe for
// concurrent use. Executions and resets serialize on runMu; the counters
// and the user-name snapshot sit behind stateMu so health and variable
// listings answer while a fragment is still running.
type Executor struct {
	runMu    sync.Mutex // guards globals, baseline
	opts     *syntax.FileOptions
	globals  starlark.StringDict
	baseline map[string]bool

	stateMu   sync.Mutex // guards count, userNames
	count     int
	userNames []string
}

func New() *Executor {
	e := &Executor{
		opts: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
	}
	e.preload()
	return e
}

// preload seeds the namespace with the standard session modules.
func (e *Executor) preload() {
	e.globals = starlark.StringDict{
		"math":  starmath.Module,
		"time":  startime.Module,
		"json":  starjson.Module,
		"table": table.Module,
	}
	e.baseline = make(map[string]bool, len(e.globals))
	for name := range e.globals {
		e.baseline[name] = true
	}
}

// Run executes one code fragment. Output goes to cap as it is produced; the
// returned result is terminal and the caller emits it as the result chunk.
func (e *Executor) Run(ctx context.Context, code, resultVar string, cap *capture.Capture) protocol.ExecutionResult {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	// Deferred after Unlock so the snapshot refresh runs while runMu is
	// still held.
	defer e.refreshNames()

	start := time.Now()
	e.stateMu.Lock()
	e.count++
	n := e.count
	e.stateMu.Unlock()

	f, err := e.opts.Parse(fmt.Sprintf("<exec_%d>", n), code, 0)
	if err != nil {
		return e.fail(cap, start, errTypeSyntax, err.Error(), err.Error())
	}

	thread := &starlark.Thread{
		Name:  fmt.Sprintf("exec_%d", n),
		Print: func(_ *starlark.Thread, msg string) { cap.Print(msg) },
	}
	if ctx != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				thread.Cancel(ctx.Err().Error())
			case <-done:
			}
		}()
	}

	snapshot := make(map[string]bool, len(e.globals))
	for name := range e.globals {
		snapshot[name] = true
	}

	err = starlark.ExecREPLChunk(f, thread, e.globals)
	if err != nil {
		switch err := err.(type) {
		case resolve.ErrorList:
			// Resolution fails before anything runs, so the namespace
			// is untouched.
			return e.fail(cap, start, errTypeSyntax, err[0].Msg, err.Error())
		case *starlark.EvalError:
			e.rollback(snapshot)
			return e.fail(cap, start, errTypeEval, err.Error(), err.Backtrace())
		default:
			e.rollback(snapshot)
			return e.fail(cap, start, errTypeEval, err.Error(), err.Error())
		}
	}

	result := protocol.ExecutionResult{
		Success:       true,
		Status:        protocol.StatusSuccess,
		ExecutionTime: roundSeconds(time.Since(start)),
	}
	// An unbound result variable is not a failure; the result simply
	// carries no return value.
	if resultVar != "" {
		if v, ok := e.globals[resultVar]; ok {
			result.ReturnValue = serialize.Describe(resultVar, v)
		}
	}
	return result
}

// refreshNames recomputes the sorted user-binding snapshot. Caller holds
// runMu.
func (e *Executor) refreshNames() {
	names := make([]string, 0, len(e.globals))
	for name := range e.globals {
		if !e.baseline[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	e.stateMu.Lock()
	e.userNames = names
	e.stateMu.Unlock()
}

// rollback removes names bound since the snapshot. Mutations to names that
// already existed are kept.
func (e *Executor) rollback(snapshot map[string]bool) {
	for name := range e.globals {
		if !snapshot[name] && !e.baseline[name] {
			delete(e.globals, name)
		}
	}
}

func (e *Executor) fail(cap *capture.Capture, start time.Time, errType, msg, traceback string) protocol.ExecutionResult {
	cap.PushError(traceback)
	return protocol.ExecutionResult{
		Success:       false,
		Status:        protocol.StatusError,
		ExecutionTime: roundSeconds(time.Since(start)),
		ErrorType:     errType,
		ErrorMessage:  msg,
		Traceback:     traceback,
	}
}

// Reset drops every user binding and reseeds the standard modules.
func (e *Executor) Reset() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.preload()
	e.stateMu.Lock()
	e.count = 0
	e.userNames = nil
	e.stateMu.Unlock()
}

// VariableNames lists user bindings, sorted. The snapshot is from the last
// completed execution, so it answers even while a fragment runs.
func (e *Executor) VariableNames() []string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	names := make([]string, len(e.userNames))
	copy(names, e.userNames)
	return names
}

// Variable returns the serialized descriptor of one user binding.
func (e *Executor) Variable(name string) (map[string]any, bool) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	v, ok := e.globals[name]
	if !ok || e.baseline[name] {
		return nil, false
	}
	return serialize.Describe(name, v), true
}

func (e *Executor) ExecutionCount() int {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.count
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1e4) / 1e4
}
