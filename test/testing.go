// Package test provides the shared harness used by the end-to-end
// scenario tests in this directory: picking free loopback ports,
// starting real super-peer and leaf nodes against an in-memory
// config.Topology, and waiting on conditions with a bounded timeout
// instead of a bare channel receive. It generalizes the teacher's own
// test.CreateCluster/WaitThisOrTimeout pair (a quorum-cluster harness)
// to this overlay's super-peer/leaf topology.
package test

import (
	"context"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/filemesh/filemesh/config"
	"github.com/filemesh/filemesh/pkg/overlay/definition"
	"github.com/filemesh/filemesh/pkg/overlay/types"

	"github.com/filemesh/filemesh/node"
)

// FreeAddress binds an ephemeral loopback port, immediately releases it,
// and returns its address for a node to bind next. There is an
// unavoidable small race between release and reuse, acceptable for a
// single-process test suite that creates its nodes back to back.
func FreeAddress(t *testing.T) types.Address {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	a, err := types.NewAddress(addr)
	if err != nil {
		t.Fatalf("parse reserved address %q: %v", addr, err)
	}
	return a
}

// NewTopology builds an empty topology under the given model, ready for
// a test to populate with Neighbors/Leaves/SuperPeerOf entries directly,
// bypassing the config file parser for tests that only need the parsed
// result.
func NewTopology(model types.ConsistencyModel) *config.Topology {
	return &config.Topology{
		Model:       model,
		Neighbors:   make(map[types.Address][]types.Address),
		Leaves:      make(map[types.Address][]types.Address),
		SuperPeerOf: make(map[types.Address]types.Address),
	}
}

// StartSuperPeer builds and runs a super-peer node at self, stopping it
// automatically at test cleanup.
func StartSuperPeer(t *testing.T, self types.Address, topo *config.Topology) *node.SuperPeerNode {
	t.Helper()
	log := testLogger(t, self)
	n, err := node.NewSuperPeerNode(self, topo, "", log)
	if err != nil {
		t.Fatalf("build super-peer %s: %v", self, err)
	}
	n.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})
	return n
}

// StartLeaf builds, connects, and runs a leaf node at self rooted at a
// fresh temp directory, stopping it automatically at test cleanup.
func StartLeaf(t *testing.T, self types.Address, topo *config.Topology) *node.LeafNode {
	t.Helper()
	log := testLogger(t, self)
	root := t.TempDir()
	n, err := node.NewLeafNode(self, root, topo, "", log)
	if err != nil {
		t.Fatalf("build leaf %s: %v", self, err)
	}
	if err := n.Run(); err != nil {
		t.Fatalf("run leaf %s: %v", self, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})
	return n
}

func testLogger(t *testing.T, self types.Address) types.Logger {
	t.Helper()
	return definition.NewDefaultLogger().WithField("test", t.Name()).WithField("addr", self.String())
}

// WaitFor polls cond every tick until it returns true or timeout elapses,
// returning whether cond ever succeeded. Used in place of a fixed sleep
// wherever a test must wait on asynchronous flood/propagation traffic.
func WaitFor(timeout, tick time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(tick)
	}
	return cond()
}

// PrintStackTrace dumps every goroutine's stack to t, used when a
// WaitFor or shutdown times out to diagnose what was still running.
func PrintStackTrace(t *testing.T) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	t.Logf("%s", buf[:n])
}
