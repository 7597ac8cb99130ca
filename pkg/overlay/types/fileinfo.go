package types

// FileInfo describes a single named file replica as known to one node.
//
// Name is path-free (no directory components). Origin is the address of
// the leaf that authoritatively owns the file. Version is a monotonically
// non-decreasing counter starting at 1. Valid is only meaningful under the
// pull consistency model and travels in status probes and download
// metadata; every FileInfo this module creates is valid, and a replica
// found stale is dropped from the registry rather than marked invalid.
type FileInfo struct {
	Name    string
	Origin  Address
	Version uint64
	Valid   bool
}

// NewOwnedFileInfo builds the FileInfo an origin leaf assigns to a file it
// just created: version 1, valid.
func NewOwnedFileInfo(name string, origin Address) FileInfo {
	return FileInfo{Name: name, Origin: origin, Version: 1, Valid: true}
}

// IsOriginatedBy reports whether the given address is this file's origin.
func (f FileInfo) IsOriginatedBy(addr Address) bool {
	return f.Origin.Equal(addr)
}

// Bumped returns a copy of f with the version incremented by one.
func (f FileInfo) Bumped() FileInfo {
	f.Version++
	return f
}
