// Package capture collects interpreter output in arrival order and hands it
// out chunk by chunk, so the exec endpoint can stream while code still runs.
package capture

import (
	"io"
	"sync"

	"github.com/t-brandt/kapsel/protocol"
)

// Capture is an unbounded ordered chunk queue. Producers (the print hook and
// the executor) push; exactly one consumer pops with Next until Close.
type Capture struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []protocol.OutputChunk
	closed bool

	// echo mirrors text output to the process stdout so container logs
	// stay useful during debugging. May be nil.
	echo io.Writer
}

func New(echo io.Writer) *Capture {
	c := &Capture{echo: echo}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Capture) push(chunk protocol.OutputChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue = append(c.queue, chunk)
	c.cond.Signal()
}

// Print is the interpreter's print hook. The message arrives without a
// trailing newline; one is appended to preserve line-oriented output.
func (c *Capture) Print(msg string) {
	if c.echo != nil {
		io.WriteString(c.echo, msg+"\n")
	}
	c.push(protocol.OutputChunk{Kind: protocol.ChunkText, Payload: msg + "\n"})
}

func (c *Capture) PushText(s string) {
	c.push(protocol.OutputChunk{Kind: protocol.ChunkText, Payload: s})
}

func (c *Capture) PushError(s string) {
	c.push(protocol.OutputChunk{Kind: protocol.ChunkError, Payload: s})
}

// PushImage queues a base64-encoded image payload.
func (c *Capture) PushImage(b64 string) {
	c.push(protocol.OutputChunk{Kind: protocol.ChunkImage, Payload: b64})
}

// PushResult queues the terminal result chunk.
func (c *Capture) PushResult(resultJSON string) {
	c.push(protocol.OutputChunk{Kind: protocol.ChunkResult, Payload: resultJSON})
}

// Next blocks until a chunk is available or the capture is closed and
// drained. The second return is false once the stream is exhausted.
func (c *Capture) Next() (protocol.OutputChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.queue) == 0 {
		return protocol.OutputChunk{}, false
	}
	chunk := c.queue[0]
	c.queue = c.queue[1:]
	return chunk, true
}

// Close marks the stream complete. Queued chunks remain readable; further
// pushes are dropped.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
}

// Drain returns all currently queued chunks without blocking, mainly for
// tests and the non-streaming paths.
func (c *Capture) Drain() []protocol.OutputChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}
