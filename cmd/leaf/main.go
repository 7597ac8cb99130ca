// Command leaf runs a single leaf node of the overlay: it reads a
// topology config file, connects to its declared super-peer, serves its
// own obtain/status/invalidate listener, watches its owned/ directory,
// and drives the interactive shell from spec.md §6.
package main

import (
	"context"
	"os"
	"time"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/filemesh/filemesh/config"
	"github.com/filemesh/filemesh/pkg/overlay/definition"
	"github.com/filemesh/filemesh/pkg/overlay/types"

	"github.com/filemesh/filemesh/node"
)

var (
	addr      = kingpin.Flag("addr", "This leaf's own host:port, as it appears in the topology file.").Required().String()
	topoPath  = kingpin.Flag("topology", "Path to the topology config file.").Required().ExistingFile()
	root      = kingpin.Flag("root", "Root directory for owned/ and downloads/.").Required().String()
	debugAddr = kingpin.Flag("debug-addr", "host:port for the debug HTTP mux (metrics, health, pprof). Empty disables it.").Default("").String()
	debug     = kingpin.Flag("debug", "Enable debug-level logging.").Bool()
)

func main() {
	kingpin.Parse()
	log := definition.NewLogrusLogger()
	log.ToggleDebug(*debug)

	self, err := types.NewAddress(*addr)
	if err != nil {
		log.Fatalf("invalid -addr %q: %v", *addr, err)
	}

	f, err := os.Open(*topoPath)
	if err != nil {
		log.Fatalf("open topology file: %v", err)
	}
	topo, warnings, err := config.Parse(f)
	f.Close()
	if err != nil {
		log.Fatalf("parse topology file: %v", err)
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	n, err := node.NewLeafNode(self, *root, topo, *debugAddr, log)
	if err != nil {
		log.Fatalf("build leaf: %v", err)
	}
	if err := n.Run(); err != nil {
		log.Fatalf("run leaf: %v", err)
	}

	code := node.NewShell(n, os.Stdin).Run()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
	os.Exit(code)
}
