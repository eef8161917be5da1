// Package protocol defines the wire types exchanged between the controller
// and the worker process inside containers: tagged output chunks, the SSE
// framing they travel in, and the terminal execution result.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ChunkKind tags a fragment of a streamed execution response.
type ChunkKind string

const (
	ChunkText   ChunkKind = "txt"
	ChunkError  ChunkKind = "err"
	ChunkImage  ChunkKind = "img"    // base64 payload; reserved, nothing emits it yet
	ChunkResult ChunkKind = "result" // terminal chunk, payload is ExecutionResult JSON
)

// OutputChunk is one tagged fragment. The controller relays the rendered
// payload verbatim; only the worker interprets it.
type OutputChunk struct {
	Kind    ChunkKind
	Payload string
}

// Render produces the <tag>...</tag> payload carried on the SSE data line.
func (c OutputChunk) Render() string {
	return fmt.Sprintf("<%s>%s</%s>", c.Kind, c.Payload, c.Kind)
}

// SSE frames a rendered chunk as one event.
func (c OutputChunk) SSE() string {
	return FrameSSE(c.Render())
}

// FrameSSE frames one payload as one SSE event. Payloads may contain
// newlines (print output does), so every payload line becomes its own data
// line; the blank line terminates the event.
func FrameSSE(payload string) string {
	var b strings.Builder
	for _, line := range strings.Split(payload, "\n") {
		b.WriteString(DataPrefix)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// DataPrefix is the SSE line prefix the controller strips before relaying.
const DataPrefix = "data: "

// StripData returns the payload of an SSE data line, or "" and false if the
// line is not a data line.
func StripData(line string) (string, bool) {
	if !strings.HasPrefix(line, DataPrefix) {
		return "", false
	}
	return line[len(DataPrefix):], true
}

// EventScanner reads an SSE stream and reassembles one payload per event,
// joining the event's data lines with newlines. Non-data lines (comments,
// other fields) are skipped.
type EventScanner struct {
	s     *bufio.Scanner
	lines []string
}

func NewEventScanner(r io.Reader) *EventScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &EventScanner{s: s}
}

// Next returns the next event's payload. The second return is false once the
// stream is exhausted.
func (es *EventScanner) Next() (string, bool) {
	es.lines = es.lines[:0]
	for es.s.Scan() {
		line := es.s.Text()
		if line == "" {
			if len(es.lines) > 0 {
				return strings.Join(es.lines, "\n"), true
			}
			continue
		}
		if payload, ok := StripData(line); ok {
			es.lines = append(es.lines, payload)
		}
	}
	// A truncated stream may end mid-event; deliver what arrived.
	if len(es.lines) > 0 {
		payload := strings.Join(es.lines, "\n")
		es.lines = es.lines[:0]
		return payload, true
	}
	return "", false
}

// Err reports the underlying read error, if any.
func (es *EventScanner) Err() error {
	return es.s.Err()
}

// ExecutionStatus is the coarse outcome of one execution.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusError   ExecutionStatus = "error"
	StatusTimeout ExecutionStatus = "timeout"
)

// ExecutionResult is the JSON body of the terminal result chunk.
type ExecutionResult struct {
	Success       bool            `json:"success"`
	Status        ExecutionStatus `json:"status"`
	ExecutionTime float64         `json:"execution_time"` // seconds, 4 decimals
	ErrorMessage  string          `json:"error_message,omitempty"`
	ErrorType     string          `json:"error_type,omitempty"`
	Traceback     string          `json:"traceback,omitempty"`
	ReturnValue   map[string]any  `json:"return_value,omitempty"`
}

// JSON renders the result for the terminal chunk. The return value is built
// from JSON-safe values, so a marshal failure is a serializer bug; it
// degrades to an error-shaped result instead of propagating.
func (r ExecutionResult) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(ExecutionResult{
			Success:      false,
			Status:       StatusError,
			ErrorType:    "MarshalError",
			ErrorMessage: err.Error(),
		})
		return string(fallback)
	}
	return string(b)
}

// ExecRequest is the body of POST /exec.
type ExecRequest struct {
	Code      string `json:"code"`
	ResultVar string `json:"result_var,omitempty"`
}

// ResetResponse is the body of POST /reset.
type ResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string `json:"status"` // "healthy" or "unhealthy"
	ExecutorReady  bool   `json:"executor_ready"`
	ExecutionCount int    `json:"execution_count"`
	VariablesCount int    `json:"variables_count"`
}

// VariablesResponse is the body of GET /variables.
type VariablesResponse struct {
	Count     int      `json:"count"`
	Variables []string `json:"variables"`
}
