package core

import (
	"container/list"
	"sync"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// History is a super-peer's bounded message-id to return-address mapping,
// used for flood dedup and reverse-path routing of queryhits (spec §3).
// It holds at most Capacity entries; on overflow the oldest is evicted.
// Inserts, contains-checks, and eviction are atomic with respect to each
// other, guarded by one mutex (spec §5).
type History struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

type historyEntry struct {
	id     string
	origin types.Address
}

// NewHistory builds a history bounded at capacity entries.
func NewHistory(capacity int) *History {
	return &History{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// RecordIfNew records id with its return address unless it is already
// present, evicting the oldest entry if the history is at capacity. It
// returns false if id was already present (the caller should drop the
// message as already-handled, per spec §4.3 step 1-2).
func (h *History) RecordIfNew(id string, origin types.Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.index[id]; ok {
		return false
	}
	elem := h.order.PushBack(historyEntry{id: id, origin: origin})
	h.index[id] = elem
	for h.order.Len() > h.capacity {
		oldest := h.order.Front()
		if oldest == nil {
			break
		}
		h.order.Remove(oldest)
		delete(h.index, oldest.Value.(historyEntry).id)
	}
	return true
}

// ReturnAddress looks up the recorded return address for id. The second
// result is false if id was never recorded or has since been evicted, in
// which case a late queryhit for it must be dropped silently (spec §4.3).
func (h *History) ReturnAddress(id string) (types.Address, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	elem, ok := h.index[id]
	if !ok {
		return types.Address{}, false
	}
	return elem.Value.(historyEntry).origin, true
}

// Len returns the current number of recorded entries, used by tests to
// verify the H=50 bound.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.order.Len()
}
