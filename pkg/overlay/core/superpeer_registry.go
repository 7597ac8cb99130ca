package core

import (
	"sync"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// FileRegistry is a super-peer's mapping of file name to the set of leaf
// addresses that advertise it, plus the inverse leaf-to-names index used
// by DropLeaf. Every read and update of both maps happens under one
// registry-wide mutex, so each operation is atomic with respect to every
// other.
type FileRegistry struct {
	mu      sync.Mutex
	byName  map[string]map[types.Address]bool
	byLeaf  map[types.Address]map[string]bool
}

// NewFileRegistry builds an empty super-peer file registry.
func NewFileRegistry() *FileRegistry {
	return &FileRegistry{
		byName: make(map[string]map[types.Address]bool),
		byLeaf: make(map[types.Address]map[string]bool),
	}
}

// Register records that leaf advertises name.
func (f *FileRegistry) Register(name string, leaf types.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	holders, ok := f.byName[name]
	if !ok {
		holders = make(map[types.Address]bool)
		f.byName[name] = holders
	}
	holders[leaf] = true

	names, ok := f.byLeaf[leaf]
	if !ok {
		names = make(map[string]bool)
		f.byLeaf[leaf] = names
	}
	names[name] = true
}

// Deregister retracts leaf's advertisement of name. If the set for name
// becomes empty, the key is removed entirely (spec §3 invariant).
func (f *FileRegistry) Deregister(name string, leaf types.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregisterLocked(name, leaf)
}

func (f *FileRegistry) deregisterLocked(name string, leaf types.Address) {
	if holders, ok := f.byName[name]; ok {
		delete(holders, leaf)
		if len(holders) == 0 {
			delete(f.byName, name)
		}
	}
	if names, ok := f.byLeaf[leaf]; ok {
		delete(names, name)
		if len(names) == 0 {
			delete(f.byLeaf, leaf)
		}
	}
}

// Holders returns the current set of leaf addresses advertising name, in
// unspecified iteration order (spec §4.3: "queryhits are emitted in
// registry-iteration order", i.e. whatever Go's map iteration gives).
func (f *FileRegistry) Holders(name string) []types.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	holders := f.byName[name]
	out := make([]types.Address, 0, len(holders))
	for addr := range holders {
		out = append(out, addr)
	}
	return out
}

// DropLeaf retracts every advertisement made by leaf, used when its
// session closes (spec §4.8: "On Closed, for every file the leaf
// advertised, execute deregister"). Returns the names that were dropped.
func (f *FileRegistry) DropLeaf(leaf types.Address) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := f.byLeaf[leaf]
	dropped := make([]string, 0, len(names))
	for name := range names {
		dropped = append(dropped, name)
	}
	for _, name := range dropped {
		f.deregisterLocked(name, leaf)
	}
	return dropped
}
