// Package config parses the bespoke topology file described in
// spec.md §6: a line-oriented, whitespace-delimited format declaring the
// consistency model and the super-peer/leaf adjacency graph. Each node
// loads only the records that mention its own address.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// Topology is the fully parsed config: the selected consistency model
// plus, for a given node address, its declared neighbors and/or leaves.
type Topology struct {
	Model types.ConsistencyModel

	// Neighbors maps a super-peer address to its declared super-peer
	// neighbors (from "s" records).
	Neighbors map[types.Address][]types.Address

	// Leaves maps a super-peer address to its declared leaves (from "p"
	// records).
	Leaves map[types.Address][]types.Address

	// SuperPeerOf maps a leaf address to the super-peer it belongs to,
	// the inverse view of Leaves, since a leaf only ever needs its own
	// super-peer's address.
	SuperPeerOf map[types.Address]types.Address
}

// Parse reads a topology config from r. A missing "c" record defaults to
// push, matching spec §6. Unknown record prefixes are logged (by the
// caller, via the returned warnings) and otherwise ignored; a malformed
// address on a recognized record is a parse failure (spec §7: "Config
// parse failure: fail fast with a descriptive diagnostic").
func Parse(r io.Reader) (*Topology, []string, error) {
	t := &Topology{
		Model:       types.Push(),
		Neighbors:   make(map[types.Address][]types.Address),
		Leaves:      make(map[types.Address][]types.Address),
		SuperPeerOf: make(map[types.Address]types.Address),
	}
	var warnings []string
	sawConsistency := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		prefix := fields[0]

		switch prefix {
		case "c":
			if sawConsistency {
				return nil, warnings, fmt.Errorf("config line %d: duplicate 'c' record", lineNo)
			}
			model, err := parseConsistency(fields[1:])
			if err != nil {
				return nil, warnings, fmt.Errorf("config line %d: %w", lineNo, err)
			}
			t.Model = model
			sawConsistency = true

		case "s":
			if len(fields) != 3 {
				return nil, warnings, fmt.Errorf("config line %d: 's' wants <sp_addr> <neighbor_addr>", lineNo)
			}
			sp, err := types.NewAddress(fields[1])
			if err != nil {
				return nil, warnings, fmt.Errorf("config line %d: %w", lineNo, err)
			}
			neighbor, err := types.NewAddress(fields[2])
			if err != nil {
				return nil, warnings, fmt.Errorf("config line %d: %w", lineNo, err)
			}
			t.Neighbors[sp] = append(t.Neighbors[sp], neighbor)

		case "p":
			if len(fields) != 3 {
				return nil, warnings, fmt.Errorf("config line %d: 'p' wants <sp_addr> <leaf_addr>", lineNo)
			}
			sp, err := types.NewAddress(fields[1])
			if err != nil {
				return nil, warnings, fmt.Errorf("config line %d: %w", lineNo, err)
			}
			leaf, err := types.NewAddress(fields[2])
			if err != nil {
				return nil, warnings, fmt.Errorf("config line %d: %w", lineNo, err)
			}
			t.Leaves[sp] = append(t.Leaves[sp], leaf)
			t.SuperPeerOf[leaf] = sp

		default:
			warnings = append(warnings, fmt.Sprintf("config line %d: unknown record prefix %q, ignored", lineNo, prefix))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, err
	}
	return t, warnings, nil
}

func parseConsistency(args []string) (types.ConsistencyModel, error) {
	if len(args) == 0 {
		return types.ConsistencyModel{}, fmt.Errorf("'c' wants 'push' or 'pull <ttr_minutes>'")
	}
	switch args[0] {
	case "push":
		return types.Push(), nil
	case "pull":
		if len(args) != 2 {
			return types.ConsistencyModel{}, fmt.Errorf("'c pull' wants <ttr_minutes>")
		}
		ttr, err := strconv.Atoi(args[1])
		if err != nil {
			return types.ConsistencyModel{}, fmt.Errorf("invalid ttr_minutes %q: %w", args[1], err)
		}
		return types.PullModel(ttr), nil
	default:
		return types.ConsistencyModel{}, fmt.Errorf("unrecognized consistency mode %q", args[0])
	}
}

// NeighborsOf returns the declared super-peer neighbors for a super-peer
// address, or nil if it has none.
func (t *Topology) NeighborsOf(self types.Address) []types.Address {
	return t.Neighbors[self]
}

// LeavesOf returns the declared leaves for a super-peer address, or nil
// if it has none.
func (t *Topology) LeavesOf(self types.Address) []types.Address {
	return t.Leaves[self]
}

// SuperPeerFor returns the super-peer a leaf address belongs to.
func (t *Topology) SuperPeerFor(self types.Address) (types.Address, bool) {
	sp, ok := t.SuperPeerOf[self]
	return sp, ok
}
