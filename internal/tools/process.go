package tools

import (
	"sync"

	"github.com/google/uuid"
)

// ProcessTracker records a cancel function for each in-flight
// shell/run_tests subprocess. A session kill does not go through it: it
// cancels the session's context, which the tools run their commands
// under. It is a thin, domain-adapted
// wrapper around the shell package's TTL bookkeeping idiom — here we only
// need liveness + a cancel function per process, not full output buffering.
type ProcessTracker struct {
	mu      sync.Mutex
	cancels map[string]func()
}

// NewProcessTracker returns an empty tracker.
func NewProcessTracker() *ProcessTracker {
	return &ProcessTracker{cancels: make(map[string]func())}
}

// Track registers a cancellation function under a fresh process id and
// returns that id plus a release function the caller must call when the
// process has exited (success or failure) to avoid unbounded growth.
func (t *ProcessTracker) Track(cancel func()) (id string, release func()) {
	id = uuid.NewString()
	t.mu.Lock()
	t.cancels[id] = cancel
	t.mu.Unlock()
	return id, func() {
		t.mu.Lock()
		delete(t.cancels, id)
		t.mu.Unlock()
	}
}

// KillAll cancels every tracked process of every session sharing this
// tracker.
func (t *ProcessTracker) KillAll() {
	t.mu.Lock()
	cancels := make([]func(), 0, len(t.cancels))
	for _, c := range t.cancels {
		cancels = append(cancels, c)
	}
	t.cancels = make(map[string]func())
	t.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// Count returns the number of currently tracked processes.
func (t *ProcessTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancels)
}
