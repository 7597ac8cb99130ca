package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/filemesh/filemesh/pkg/overlay/codec"
	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// Leaf holds the end-user node state from spec §2: its own file registry,
// the single persistent connection to its super-peer, and the single-
// flight download bookkeeping from §4.6.
type Leaf struct {
	Self      types.Address
	SuperPeer types.Address
	Root      string
	Model     types.ConsistencyModel
	TTL       int

	registry *LeafRegistry
	log      types.Logger
	invoker  Invoker
	metrics  *Metrics

	seq uint64

	conn       *Conn
	writeMu    sync.Mutex
	replyCh    chan int

	dlMu        sync.Mutex
	downloading map[string]bool
}

// NewLeaf builds a Leaf rooted at root (owned/ and downloads/ created if
// absent), talking to the given super-peer. invoker spawns the read loop
// and per-queryhit download tasks; callers normally hand it a private
// Invoker (see NewInvoker) scoped to this leaf's own node.
func NewLeaf(self, superPeer types.Address, root string, model types.ConsistencyModel, ttl int, log types.Logger, invoker Invoker, metrics *Metrics) (*Leaf, error) {
	for _, sub := range []string{"owned", "downloads"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s/%s: %w", root, sub, err)
		}
	}
	return &Leaf{
		Self:        self,
		SuperPeer:   superPeer,
		Root:        root,
		Model:       model,
		TTL:         ttl,
		registry:    NewLeafRegistry(),
		log:         log,
		invoker:     invoker,
		metrics:     metrics,
		replyCh:     make(chan int, 1),
		downloading: make(map[string]bool),
	}, nil
}

// OwnedDir and DownloadsDir return the two watched/unwatched subtrees.
func (l *Leaf) OwnedDir() string      { return filepath.Join(l.Root, "owned") }
func (l *Leaf) DownloadsDir() string  { return filepath.Join(l.Root, "downloads") }

// Registry exposes the local file registry (read-mostly access for the
// CLI "print" command and for tests).
func (l *Leaf) Registry() *LeafRegistry { return l.registry }

// Connect dials the super-peer, performs the handshake, and starts the
// background reader that serializes all reads on this one persistent
// connection (spec §5: "reads and writes on it are serialized").
func (l *Leaf) Connect() error {
	conn, err := DialAndHandshake(l.SuperPeer, l.Self)
	if err != nil {
		return err
	}
	l.conn = conn
	l.invoker.Spawn(l.readLoop)
	return nil
}

// Close tears down the persistent super-peer connection.
func (l *Leaf) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// ScanStartup populates the registry from whatever owned/ and downloads/
// already hold on disk (spec §2/§3: FileInfos are created "on directory
// scan at startup" in addition to create events and downloads). It must
// run after Connect so owned/ entries can actually be announced, and
// before the watcher starts so a pre-existing file isn't registered
// twice.
func (l *Leaf) ScanStartup() error {
	owned, err := os.ReadDir(l.OwnedDir())
	if err != nil {
		return fmt.Errorf("scan %s: %w", l.OwnedDir(), err)
	}
	for _, entry := range owned {
		if entry.IsDir() || l.registry.Has(entry.Name()) {
			continue
		}
		fi := types.NewOwnedFileInfo(entry.Name(), l.Self)
		if _, err := l.Register(fi); err != nil {
			l.log.Warnf("startup register of %s failed: %v", entry.Name(), err)
		}
	}

	downloads, err := os.ReadDir(l.DownloadsDir())
	if err != nil {
		return fmt.Errorf("scan %s: %w", l.DownloadsDir(), err)
	}
	for _, entry := range downloads {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, ".meta") || l.registry.Has(name) {
			continue
		}
		fi, err := readMeta(l.DownloadsDir(), name)
		if err != nil {
			l.log.Warnf("no recoverable metadata for existing download %s, leaving unregistered: %v", name, err)
			continue
		}
		l.registry.Put(fi)
	}
	return nil
}

func (l *Leaf) nextMessageID() string {
	seq := atomic.AddUint64(&l.seq, 1)
	return types.NextSequenceID(l.Self, seq)
}

func (l *Leaf) sendLine(line string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteLine(line)
}

// readLoop is the single reader of the persistent super-peer connection.
// A bare integer line is a register/deregister status reply; anything
// else is a decoded protocol frame (queryhit or invalidate), dispatched
// immediately. This is how the leaf perceives both kinds of traffic
// arriving "via the persistent super-peer connection" per spec §4.3/§4.4.
func (l *Leaf) readLoop() {
	for {
		line, err := l.conn.ReadLine()
		if err != nil {
			l.log.Warnf("super-peer session closed: %v", err)
			return
		}
		if line == "" {
			continue
		}
		var status int
		if _, scanErr := fmt.Sscanf(line, "%d", &status); scanErr == nil && fmt.Sprintf("%d", status) == line {
			select {
			case l.replyCh <- status:
			default:
			}
			continue
		}
		frame, err := codec.DecodeFrame(line)
		if err != nil {
			l.log.Errorf("malformed frame from super-peer: %v", err)
			continue
		}
		switch frame.Verb {
		case codec.VerbQueryHit:
			l.invoker.Spawn(func() { l.handleQueryHit(frame.Message, frame.Holder) })
		case codec.VerbInvalidate:
			l.dropReplica(frame.Message.Info.Name, true)
		default:
			l.log.Warnf("unexpected frame from super-peer: %q", line)
		}
	}
}

// Register announces ownership of fi to the super-peer and returns its
// status code (spec §4.2: 0 = success, >0 = failure).
func (l *Leaf) Register(fi types.FileInfo) (int, error) {
	msg := types.Message{ID: l.nextMessageID(), TTL: l.TTL, Info: fi, Sender: l.Self}
	if err := l.sendLine(codec.EncodeRegister(msg)); err != nil {
		return 0, err
	}
	status := <-l.replyCh
	if status == 0 {
		l.registry.Put(fi)
	} else {
		l.log.Warnf("register %s failed with status %d", fi.Name, status)
	}
	return status, nil
}

// Deregister retracts ownership of name at the super-peer. It does not by
// itself emit an invalidate; callers (CLI deregister, filesystem delete)
// decide that per spec §4.4.
func (l *Leaf) Deregister(name string) (int, error) {
	fi, _ := l.registry.Get(name)
	msg := types.Message{ID: l.nextMessageID(), TTL: l.TTL, Info: fi, Sender: l.Self}
	if err := l.sendLine(codec.EncodeDeregister(msg)); err != nil {
		return 0, err
	}
	status := <-l.replyCh
	l.registry.Remove(name)
	return status, nil
}

// Invalidate emits a fresh invalidate message for name, used by the push
// model after a modify or an owned-file deregister (spec §4.4).
func (l *Leaf) Invalidate(fi types.FileInfo) error {
	msg := types.Message{ID: l.nextMessageID(), TTL: types.TTLDefault, Info: fi, Sender: l.Self}
	return l.sendLine(codec.EncodeInvalidate(msg))
}

// Search issues a query for name unless it is already locally present
// (CLI "search", spec §6). It is fire-and-forget: results arrive
// asynchronously as queryhits on the persistent connection.
func (l *Leaf) Search(name string) error {
	if l.registry.Has(name) {
		return nil
	}
	msg := types.Message{
		ID:     l.nextMessageID(),
		TTL:    l.TTL,
		Info:   types.FileInfo{Name: name},
		Sender: l.Self,
	}
	return l.sendLine(codec.EncodeQuery(msg))
}

// Refresh is the pull-model alias of Search used after an "outdated"
// verdict (spec §6 "refresh").
func (l *Leaf) Refresh(name string) error {
	return l.Search(name)
}

// handleQueryHit implements the leaf side of §4.3/§4.6: single-flight
// download per message_id, guarded by dlMu held for the dedup check plus
// download initiation only (spec §5), not the byte transfer itself.
func (l *Leaf) handleQueryHit(m types.Message, holder types.Address) {
	l.dlMu.Lock()
	if l.downloading[m.ID] {
		l.dlMu.Unlock()
		return
	}
	l.downloading[m.ID] = true
	l.dlMu.Unlock()

	if l.metrics != nil {
		l.metrics.DownloadsStarted.Inc()
	}
	if err := Download(l, holder, m.Info.Name); err != nil {
		l.log.Errorf("download of %s from %s failed: %v", m.Info.Name, holder, err)
		l.dlMu.Lock()
		delete(l.downloading, m.ID)
		l.dlMu.Unlock()
		if l.metrics != nil {
			l.metrics.DownloadsFailed.Inc()
		}
	}
}

// dropReplica implements the leaf-side deregister path shared by push
// invalidate handling (from the super-peer session or the leaf's own
// listener) and pull "deleted"/"outdated" verdicts: remove the registry entry, and optionally
// remove the file from downloads/ (spec §4.4, §4.5). It does not send a
// deregister to the super-peer: a downloaded replica is never advertised
// there in the first place (Download only ever populates the local
// registry), so there is nothing on the super-peer side to retract.
func (l *Leaf) dropReplica(name string, deleteFile bool) {
	l.registry.Remove(name)
	if deleteFile {
		path := filepath.Join(l.DownloadsDir(), name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			l.log.Warnf("failed removing replica %s: %v", path, err)
		}
		if err := os.Remove(metaPath(l.DownloadsDir(), name)); err != nil && !os.IsNotExist(err) {
			l.log.Warnf("failed removing replica metadata %s: %v", name, err)
		}
	}
}

// HandleStatusProbe answers a pull-model status probe received at this
// leaf's own listener when this leaf is the origin of fi.Name (spec
// §4.5): deleted/uptodate/outdated, comparing the caller's version
// against the registry's.
func (l *Leaf) HandleStatusProbe(fi types.FileInfo) string {
	current, ok := l.registry.Get(fi.Name)
	if !ok || !current.IsOriginatedBy(l.Self) {
		return codec.ReplyDeleted
	}
	if current.Version == fi.Version {
		return codec.ReplyUpToDate
	}
	return codec.ReplyOutdated
}

// HandleConnection is the Listener Handler for a leaf's own inbound
// socket (spec §2: "accepts inbound connections for file transfers,
// invalidations, and status probes"). This is distinct from the
// persistent super-peer connection's readLoop: other leaves dial in
// here for obtain/status, and this leaf's own super-peer dials in here
// to deliver invalidate frames fresh (spec §4.4).
func (l *Leaf) HandleConnection(conn *Conn) {
	remote, err := HandshakeRead(conn)
	if err != nil {
		l.log.Warnf("handshake read failed: %v", err)
		return
	}
	line, err := conn.ReadLine()
	if err != nil {
		return
	}
	frame, err := codec.DecodeFrame(line)
	if err != nil {
		l.log.Errorf("malformed frame from %s: %v", remote, err)
		return
	}
	switch frame.Verb {
	case codec.VerbObtain:
		if err := Upload(l, conn, frame.Message.Info.Name); err != nil {
			l.log.Warnf("upload of %s to %s failed: %v", frame.Message.Info.Name, remote, err)
		}
	case codec.VerbStatus:
		reply := l.HandleStatusProbe(frame.StatusInfo)
		if err := conn.WriteLine(reply); err != nil {
			l.log.Warnf("failed replying to status probe from %s: %v", remote, err)
		}
	case codec.VerbInvalidate:
		l.dropReplica(frame.Message.Info.Name, true)
	default:
		l.log.Warnf("unexpected verb %q on leaf listener from %s", frame.Verb, remote)
	}
}
