package node

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/filemesh/filemesh/config"
	"github.com/filemesh/filemesh/pkg/overlay/core"
	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// LeafNode is a fully wired, runnable leaf process: the Leaf itself, its
// persistent super-peer connection, its own inbound listener, the
// owned/ filesystem watcher, and (pull model only) the consistency
// checker.
type LeafNode struct {
	Leaf     *core.Leaf
	listener *core.Listener
	watcher  *core.Watcher
	checker  *core.ConsistencyChecker
	debugSrv *http.Server
	log      types.Logger
	invoker  core.Invoker
	done     chan struct{}
}

// NewLeafNode builds a leaf at self, rooted at root, belonging to the
// super-peer topo declares for it.
func NewLeafNode(self types.Address, root string, topo *config.Topology, debugAddr string, log types.Logger) (*LeafNode, error) {
	superPeer, ok := topo.SuperPeerFor(self)
	if !ok {
		return nil, fmt.Errorf("topology declares no super-peer for leaf %s", self)
	}
	nodeLog := log.WithField("node", self.String())
	registry := prometheus.NewRegistry()
	metrics := core.NewMetrics(registry, self.String(), nil)

	invoker := core.NewInvoker()
	leaf, err := core.NewLeaf(self, superPeer, root, topo.Model, types.TTLDefault, nodeLog, invoker, metrics)
	if err != nil {
		return nil, err
	}

	ln, err := core.Listen(self, leaf.HandleConnection, invoker, nodeLog)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	watcher, err := core.NewWatcher(leaf)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("watcher: %w", err)
	}

	n := &LeafNode{
		Leaf:     leaf,
		listener: ln,
		watcher:  watcher,
		log:      nodeLog,
		invoker:  invoker,
		done:     make(chan struct{}),
	}
	if topo.Model.Pull {
		n.checker = core.NewConsistencyChecker(leaf)
	}
	if debugAddr != "" {
		n.debugSrv = newDebugServer(debugAddr, registry)
	}
	return n, nil
}

// ConsistencyChecker exposes the pull-model checker, nil under the push
// model, for tests that need to force an immediate sweep.
func (n *LeafNode) ConsistencyChecker() *core.ConsistencyChecker {
	return n.checker
}

// Run connects to the super-peer, starts the inbound listener, the
// filesystem watcher, the pull-model consistency checker if configured,
// and the debug server if configured. It returns once the super-peer
// handshake succeeds; everything else runs in the background.
func (n *LeafNode) Run() error {
	if err := n.Leaf.Connect(); err != nil {
		return fmt.Errorf("connect to super-peer: %w", err)
	}
	if err := n.Leaf.ScanStartup(); err != nil {
		return fmt.Errorf("startup scan: %w", err)
	}
	n.invoker.Spawn(func() { n.listener.Serve(n.done) })
	n.invoker.Spawn(n.watcher.Run)
	if n.checker != nil {
		n.invoker.Spawn(n.checker.Run)
	}
	if n.debugSrv != nil {
		n.invoker.Spawn(func() {
			if err := n.debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.log.Errorf("debug server: %v", err)
			}
		})
	}
	n.log.Infof("leaf listening on %s, super-peer %s", n.listener.Addr(), n.Leaf.SuperPeer)
	return nil
}

// Shutdown tears down every background task and waits for them to
// unwind.
func (n *LeafNode) Shutdown(ctx context.Context) error {
	close(n.done)
	n.watcher.Stop()
	if n.checker != nil {
		n.checker.Stop()
	}
	if err := n.listener.Close(); err != nil {
		n.log.Warnf("listener close: %v", err)
	}
	if err := n.Leaf.Close(); err != nil {
		n.log.Warnf("super-peer connection close: %v", err)
	}
	if n.debugSrv != nil {
		if err := n.debugSrv.Shutdown(ctx); err != nil {
			return err
		}
	}
	n.invoker.Stop()
	return nil
}
