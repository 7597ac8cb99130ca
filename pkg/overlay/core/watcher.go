package core

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// createSettleWindow is how long after a Create event this watcher treats a
// same-name Write as part of the same create rather than a distinct modify.
// Writers like os.WriteFile open, write, and close in one call, which on
// Linux surfaces as a Create immediately followed by a Write of the full
// content; without this window that trailing Write would bump a just-created
// file straight to version 2.
const createSettleWindow = 250 * time.Millisecond

// Watcher observes a leaf's owned/ directory (never downloads/, which is
// populated entirely by Download and never touched by the user) and
// turns filesystem events into register/invalidate/deregister traffic,
// per spec §4.7: "a created file is registered with version 1; a
// modified file bumps its version and, under the push model, emits an
// invalidate; a removed file is deregistered and, under the push model,
// also emits an invalidate."
type Watcher struct {
	leaf *Leaf
	fsw  *fsnotify.Watcher
	done chan struct{}

	mu       sync.Mutex
	settling map[string]bool
}

// NewWatcher starts fsnotify on leaf's owned/ directory.
func NewWatcher(l *Leaf) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(l.OwnedDir()); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{leaf: l, fsw: fsw, done: make(chan struct{}), settling: make(map[string]bool)}, nil
}

// Run drives the event loop until Stop is called, meant to be handed to
// Invoker.Spawn like every other background task in this package.
func (w *Watcher) Run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.leaf.log.Warnf("watcher error: %v", err)
		}
	}
}

// Stop ends the event loop and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	l := w.leaf
	name := filepath.Base(ev.Name)

	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		fi := types.NewOwnedFileInfo(name, l.Self)
		if _, err := l.Register(fi); err != nil {
			l.log.Warnf("register of new file %s failed: %v", name, err)
		}
		w.markSettling(name)

	case ev.Op&fsnotify.Write == fsnotify.Write:
		if w.consumeSettling(name) {
			return // the write that immediately follows this file's own create.
		}
		current, ok := l.registry.Get(name)
		if !ok || !current.IsOriginatedBy(l.Self) {
			return // a write to a file we don't own as origin isn't ours to bump.
		}
		bumped := current.Bumped()
		l.registry.Put(bumped)
		if l.Model.Pull {
			return // pull-model replicas discover the new version on their own poll.
		}
		if err := l.Invalidate(bumped); err != nil {
			l.log.Warnf("invalidate of modified file %s failed: %v", name, err)
		}

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		current, ok := l.registry.Get(name)
		if !ok {
			return
		}
		if _, err := l.Deregister(name); err != nil {
			l.log.Warnf("deregister of removed file %s failed: %v", name, err)
		}
		if !l.Model.Pull && current.IsOriginatedBy(l.Self) {
			if err := l.Invalidate(current); err != nil {
				l.log.Warnf("invalidate of removed file %s failed: %v", name, err)
			}
		}

	default:
		// Chmod and other ops carry no consistency meaning here.
	}
}

// markSettling flags name as having just been created, so the next Write
// event for it (if any arrives within createSettleWindow) is swallowed
// instead of treated as a modify.
func (w *Watcher) markSettling(name string) {
	w.mu.Lock()
	w.settling[name] = true
	w.mu.Unlock()
	time.AfterFunc(createSettleWindow, func() {
		w.mu.Lock()
		delete(w.settling, name)
		w.mu.Unlock()
	})
}

// consumeSettling reports whether name is still within its post-create
// settle window, clearing the flag so only the first Write is swallowed.
func (w *Watcher) consumeSettling(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settling[name] {
		delete(w.settling, name)
		return true
	}
	return false
}

