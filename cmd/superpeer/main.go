// Command superpeer runs a single super-peer node of the overlay
// described in spec.md §2-§4: it reads a topology config file, binds its
// own listener, and serves until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/filemesh/filemesh/config"
	"github.com/filemesh/filemesh/pkg/overlay/definition"
	"github.com/filemesh/filemesh/pkg/overlay/types"

	"github.com/filemesh/filemesh/node"
)

var (
	addr      = kingpin.Flag("addr", "This super-peer's own host:port, as it appears in the topology file.").Required().String()
	topoPath  = kingpin.Flag("topology", "Path to the topology config file.").Required().ExistingFile()
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

	n, err := node.NewSuperPeerNode(self, topo, *debugAddr, log)
	if err != nil {
		log.Fatalf("build super-peer: %v", err)
	}
	n.Run()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
