package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry maps request ids to the cancel funcs of in-flight requests so a
// stop from the caller reaches the network call that is currently running.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registration
}

type registration struct {
	cancel context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Begin registers a new request. The returned done func must be called when
// the request finishes; it releases the entry and the derived context.
func (r *Registry) Begin(ctx context.Context) (string, context.Context, func()) {
	return r.BeginWithID(ctx, uuid.NewString())
}

func (r *Registry) BeginWithID(ctx context.Context, id string) (string, context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	entry := &registration{cancel: cancel}

	r.mu.Lock()
	if previous, ok := r.entries[id]; ok {
		previous.cancel()
	}
	r.entries[id] = entry
	r.mu.Unlock()

	var once sync.Once
	done := func() {
		once.Do(func() {
			r.mu.Lock()
			if r.entries[id] == entry {
				delete(r.entries, id)
			}
			r.mu.Unlock()
			cancel()
		})
	}
	return id, ctx, done
}

// Cancel stops the request with the given id. It reports false when no such
// request is running.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		entry.cancel()
	}
	return ok
}

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
