// Package store holds the per-session bookkeeping shared by render sessions:
// the SessionID registry and the SessionID-keyed page store.
package store

import (
	"fmt"
	"sync"
)

// SessionID is a registry handle: generation in the high 32 bits, slot index
// in the low 32 bits. The zero value is never issued.
type SessionID uint64

func newSessionID(index, generation uint32) SessionID {
	return SessionID(uint64(generation)<<32 | uint64(index))
}

func (id SessionID) index() uint32      { return uint32(id) }
func (id SessionID) generation() uint32 { return uint32(uint64(id) >> 32) }

func (id SessionID) String() string {
	return fmt.Sprintf("%d.%d", id.index(), id.generation())
}

type slot struct {
	generation uint32
	live       bool
}

// Registry allocates SessionIDs from a generational arena. A released slot
// is reused with a bumped generation, so a stale id never matches a live one.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
	live  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register allocates a fresh SessionID.
func (r *Registry) Register() SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	s := &r.slots[idx]
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	s.live = true
	r.live++

	return newSessionID(idx, s.generation)
}

// Release frees id. It reports false when id is not live.
func (r *Registry) Release(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isLiveLocked(id) {
		return false
	}
	r.slots[id.index()].live = false
	r.free = append(r.free, id.index())
	r.live--
	return true
}

// IsLive reports whether id is currently registered.
func (r *Registry) IsLive(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isLiveLocked(id)
}

// Len returns the number of live ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

func (r *Registry) isLiveLocked(id SessionID) bool {
	idx := id.index()
	if int(idx) >= len(r.slots) {
		return false
	}
	s := r.slots[idx]
	return s.live && s.generation == id.generation()
}
