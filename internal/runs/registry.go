package runs

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	token  string
	cancel context.CancelFunc
}

// Registry tracks the in-process run for each video so a cancel request can stop it
// immediately. Runs in other processes are stopped by the run token check instead.
type Registry struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[uuid.UUID]*entry)}
}

// Start registers the run identified by token and returns its context. A previous run
// for the same video is cancelled. The returned done func must be called when the run ends.
func (r *Registry) Start(parent context.Context, videoID uuid.UUID, token string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	if prev := r.runs[videoID]; prev != nil && prev.token != token {
		prev.cancel()
	}
	r.runs[videoID] = &entry{token: token, cancel: cancel}
	r.mu.Unlock()

	done := func() {
		r.mu.Lock()
		if e := r.runs[videoID]; e != nil && e.token == token {
			delete(r.runs, videoID)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, done
}

// Cancel stops the video's in-process run, if any, and reports whether one was running.
func (r *Registry) Cancel(videoID uuid.UUID) bool {
	r.mu.Lock()
	e := r.runs[videoID]
	delete(r.runs, videoID)
	r.mu.Unlock()
	if e == nil {
		return false
	}
	e.cancel()
	return true
}

// Active returns the token of the video's in-process run.
func (r *Registry) Active(videoID uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.runs[videoID]; e != nil {
		return e.token, true
	}
	return "", false
}
