package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// Response is a canned answer for RecordingTransport.
type Response struct {
	Value value.Value
	Err   error
}

// RecordingTransport is a transport.Transport that records every request
// and answers from a queue of canned responses. When the queue is empty,
// Handler answers; without a Handler the request fails.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingTransport struct {
	// Handler answers requests once the queue is exhausted.
	Handler func(req transport.Request) (value.Value, error)

	mu       sync.Mutex
	requests []transport.Request
	queue    []Response
}

// NewRecordingTransport creates a transport with an empty queue.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{}
}

// Respond queues a successful response.
func (t *RecordingTransport) Respond(v value.Value) *RecordingTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, Response{Value: v})
	return t
}

// RespondJSON queues a successful response parsed from JSON.
// Panics on invalid JSON, which is a test bug.
func (t *RecordingTransport) RespondJSON(body string) *RecordingTransport {
	v, err := value.Decode([]byte(body))
	if err != nil {
		panic(fmt.Sprintf("RespondJSON: %v", err))
	}
	return t.Respond(v)
}

// Fail queues a failed response.
func (t *RecordingTransport) Fail(err error) *RecordingTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, Response{Err: err})
	return t
}

// Do implements transport.Transport.
func (t *RecordingTransport) Do(ctx context.Context, req transport.Request) (value.Value, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	var next *Response
	if len(t.queue) > 0 {
		next = &t.queue[0]
		t.queue = t.queue[1:]
	}
	handler := t.Handler
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if next != nil {
		return next.Value, next.Err
	}
	if handler != nil {
		return handler(req)
	}
	return nil, fmt.Errorf("RecordingTransport: no response for %s %s", req.Method, req.Path)
}

// Calls returns the number of requests received.
func (t *RecordingTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// Requests returns every request received, in order.
func (t *RecordingTransport) Requests() []transport.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.requests)
}

// Last returns the most recent request. Panics when there is none.
func (t *RecordingTransport) Last() transport.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.requests) == 0 {
		panic("RecordingTransport: no requests")
	}
	return t.requests[len(t.requests)-1]
}

// Pending returns the number of queued responses not yet used.
func (t *RecordingTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
