package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable ids: prefix followed by a zero-padded
// counter ("obj0001", "obj0002", ...).
//
// This enables deterministic test execution and golden comparisons of
// emulator output.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix, next: 1}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s%04d", g.prefix, g.next)
	g.next++
	return id
}

// Reset restarts the counter at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = 1
}
