package pty

import (
	"fmt"
	"sort"
	"sync"
)

// registry maps session ids to their handles. One mutex guards every read,
// insert, mutation and removal; nothing inside it may block for long.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*handle
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*handle)}
}

func (r *registry) insert(id string, h *handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("%w: %q", ErrExists, id)
	}
	r.sessions[id] = h
	return nil
}

func (r *registry) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// with runs fn on the handle while the lock is held. fn must not keep the
// handle after it returns.
func (r *registry) with(id string, fn func(h *handle) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return fn(h)
}

// remove hands ownership of the handle to the caller.
func (r *registry) remove(id string) (*handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(r.sessions, id)
	return h, nil
}

// drain removes every entry and returns them.
func (r *registry) drain() []*handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make([]*handle, 0, len(r.sessions))
	for id, h := range r.sessions {
		handles = append(handles, h)
		delete(r.sessions, id)
	}
	return handles
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *registry) snapshot() []SessionInfo {
	r.mu.Lock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, h := range r.sessions {
		infos = append(infos, h.info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}
