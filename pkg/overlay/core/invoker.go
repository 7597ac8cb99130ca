package core

import "sync"

// Invoker spawns and tracks background work, the same shape as the
// teacher's core.Invoker: every connection handler, forwarding attempt,
// and background loop is launched through Spawn so Stop can wait for all
// of them to unwind on shutdown instead of leaking goroutines.
type Invoker interface {
	Spawn(f func())
	Stop()
}

type invoker struct {
	group *sync.WaitGroup
}

// NewInvoker returns a fresh, independently-tracked Invoker. Each
// SuperPeer, Leaf, and Listener is handed one of these, scoped to a
// single node, so that node's Shutdown only waits for the goroutines that
// node itself spawned rather than every node sharing a process.
func NewInvoker() Invoker {
	return &invoker{group: &sync.WaitGroup{}}
}

func (i *invoker) Spawn(f func()) {
	i.group.Add(1)
	go func() {
		defer i.group.Done()
		f()
	}()
}

func (i *invoker) Stop() {
	i.group.Wait()
}
