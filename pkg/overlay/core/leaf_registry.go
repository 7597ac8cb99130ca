package core

import (
	"sync"
	"time"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// LeafRegistry is a leaf's local file registry: file name to FileInfo.
// All mutations are single-key operations behind one mutex, matching spec
// §5's "concurrent map; all mutations are single-key operations". It also
// tracks the last pull-model status-probe time per replica, since that
// bookkeeping lives and dies with the same entries.
type LeafRegistry struct {
	mu       sync.RWMutex
	entries  map[string]types.FileInfo
	lastPoll map[string]time.Time
}

// NewLeafRegistry builds an empty registry.
func NewLeafRegistry() *LeafRegistry {
	return &LeafRegistry{
		entries:  make(map[string]types.FileInfo),
		lastPoll: make(map[string]time.Time),
	}
}

// Put inserts or overwrites the entry for fi.Name.
func (r *LeafRegistry) Put(fi types.FileInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[fi.Name] = fi
}

// Get returns the entry for name, if any.
func (r *LeafRegistry) Get(name string) (types.FileInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fi, ok := r.entries[name]
	return fi, ok
}

// Remove deletes the entry for name, if present.
func (r *LeafRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
	delete(r.lastPoll, name)
}

// duePoll reports whether name's replica has gone unchecked for at least
// ttr, and returns its last-checked time (the zero Time if never
// checked, which is always due). Used by ConsistencyChecker.sweep.
func (r *LeafRegistry) duePoll(name string, now time.Time, ttr time.Duration) (bool, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	last := r.lastPoll[name]
	return now.Sub(last) >= ttr, last
}

// recordPoll stamps name as having just been probed.
func (r *LeafRegistry) recordPoll(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPoll[name] = at
}

// Has reports whether name has a registry entry.
func (r *LeafRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Snapshot returns a copy of every entry, for CLI "print" and for the
// consistency checker's sweep to iterate over.
func (r *LeafRegistry) Snapshot() []types.FileInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.FileInfo, 0, len(r.entries))
	for _, fi := range r.entries {
		out = append(out, fi)
	}
	return out
}
