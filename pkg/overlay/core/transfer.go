package core

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/filemesh/filemesh/pkg/overlay/codec"
	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// disableDeadline clears the per-line read/write deadline applied by
// Conn.ReadLine/WriteLine before a bulk byte transfer: a 30s line
// deadline would otherwise time out a large file mid-copy. The
// handshake and the single FileInfo line still run under the normal
// deadline; only the raw io.Copy that follows runs unbounded.
func disableDeadline(c *Conn) {
	_ = c.Conn.SetDeadline(time.Time{})
}

// closeWrite half-closes the write side of a TCP connection so the peer's
// io.Copy sees a clean EOF once the sender has written every byte,
// without the sender having to close the whole socket before reading the
// peer's own close. Non-TCP conns (e.g. in tests using net.Pipe) are
// closed outright instead, which still signals EOF to the single reader.
func closeWrite(c *Conn) {
	if tc, ok := c.Conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
		return
	}
	_ = c.Close()
}

// metaPath returns the sidecar path Download/dropReplica use to persist a
// replica's FileInfo alongside its content in downloads/, so a restarted
// leaf can repopulate its registry from a directory scan (spec §2/§3)
// without re-querying the network for origin/version it already knew.
func metaPath(downloadsDir, name string) string {
	return filepath.Join(downloadsDir, name+".meta")
}

// writeMeta persists fi's sidecar file, logging but not failing the
// download on error: losing the sidecar only means a future restart won't
// recover this replica's registry entry until it is re-queried.
func writeMeta(l *Leaf, fi types.FileInfo) {
	path := metaPath(l.DownloadsDir(), fi.Name)
	if err := os.WriteFile(path, []byte(codec.EncodeFileInfo(fi, true)), 0o644); err != nil {
		l.log.Warnf("failed writing metadata sidecar for %s: %v", fi.Name, err)
	}
}

// readMeta reads back a sidecar written by writeMeta.
func readMeta(downloadsDir, name string) (types.FileInfo, error) {
	data, err := os.ReadFile(metaPath(downloadsDir, name))
	if err != nil {
		return types.FileInfo{}, err
	}
	return codec.DecodeFileInfo(string(data))
}

// Download implements the leaf side of §4.6: dial the holder, send an
// obtain request for name, read the holder's FileInfo line, then copy
// the full byte stream into downloads/name. The copy uses io.Copy end to
// end rather than a fixed-size buffer and a manually tracked remaining
// count, which is exactly the class of bug spec §9 calls out (an
// off-by-one on a hand-rolled "count-1" loop truncating the last byte of
// every transfer): io.Copy reads until the peer's EOF, full stop.
//
// On any failure the partially written file is removed; spec §9 also
// settles that a failed download is not automatically retried, so the
// caller (handleQueryHit) simply logs and gives up.
func Download(l *Leaf, holder types.Address, name string) error {
	conn, err := DialAndHandshake(holder, l.Self)
	if err != nil {
		return fmt.Errorf("dial holder %s: %w", holder, err)
	}
	defer conn.Close()

	req := types.Message{
		ID:     l.nextMessageID(),
		TTL:    0,
		Info:   types.FileInfo{Name: name},
		Sender: l.Self,
	}
	if err := conn.WriteLine(codec.EncodeObtain(req)); err != nil {
		return fmt.Errorf("send obtain: %w", err)
	}

	infoLine, err := conn.ReadLine()
	if err != nil {
		return fmt.Errorf("read fileinfo header: %w", err)
	}
	fi, err := codec.DecodeFileInfo(infoLine)
	if err != nil {
		return err
	}

	finalPath := filepath.Join(l.DownloadsDir(), name)
	tmpPath := finalPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	disableDeadline(conn)
	_, copyErr := io.Copy(out, conn.Reader())
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr != nil {
			return fmt.Errorf("copy body: %w", copyErr)
		}
		return fmt.Errorf("close %s: %w", tmpPath, closeErr)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}

	fi.Valid = true
	l.registry.Put(fi)
	writeMeta(l, fi)
	return nil
}

// Upload implements the holder side of §4.6, invoked from a leaf's own
// Listener when it receives an obtain frame: resolve name in owned/
// first, then downloads/ (a leaf can reshare a file it has itself
// downloaded), write the FileInfo header line, then stream every byte of
// the file with io.Copy and half-close so the requester's read loop sees
// a clean EOF at exactly the file's length, never short by one byte.
func Upload(l *Leaf, conn *Conn, name string) error {
	fi, ok := l.registry.Get(name)
	if !ok {
		return fmt.Errorf("no such file: %s", name)
	}

	path := filepath.Join(l.OwnedDir(), name)
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(l.DownloadsDir(), name)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := conn.WriteLine(codec.EncodeFileInfo(fi, false)); err != nil {
		return fmt.Errorf("write fileinfo header: %w", err)
	}

	disableDeadline(conn)
	if _, err := io.Copy(conn.Conn, f); err != nil {
		return fmt.Errorf("copy body: %w", err)
	}
	closeWrite(conn)
	return nil
}
