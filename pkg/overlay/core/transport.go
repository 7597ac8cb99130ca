package core

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/filemesh/filemesh/pkg/overlay/codec"
	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// ConnDeadline is the recommended per-connection read/write deadline from
// spec §5. It is a var, not a const, so tests can shrink it.
var ConnDeadline = 30 * time.Second

// Conn wraps a net.Conn with the line-oriented read/write helpers every
// frame handler in this package needs, and applies ConnDeadline on every
// operation. This plays the role the teacher's ReliableTransport played
// around relt.Send/relt.Recv, except here the transport is a plain TCP
// socket: the teacher's own test/tcp_transport_test.go already names the
// shape (NewTCPTransport, LocalAddress) this package fills in.
type Conn struct {
	net.Conn
	r *bufio.Reader
}

// NewConn wraps an established net.Conn.
func NewConn(c net.Conn) *Conn {
	return &Conn{Conn: c, r: bufio.NewReader(c)}
}

// ReadLine reads one newline-terminated frame, stripping the trailing
// newline.
func (c *Conn) ReadLine() (string, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(ConnDeadline)); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// WriteLine writes one frame followed by a newline.
func (c *Conn) WriteLine(frame string) error {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(ConnDeadline)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.Conn, "%s\n", frame)
	return err
}

// Reader exposes the buffered reader for raw byte-stream reads that
// follow a FileInfo line (file transfer), so buffered bytes aren't lost.
func (c *Conn) Reader() *bufio.Reader {
	return c.r
}

// Handler processes one accepted, not-yet-handshaked connection. It is
// responsible for reading the handshake line itself via HandshakeRead,
// classifying the remote party, and driving the rest of the session.
type Handler func(conn *Conn)

// Listener accepts inbound connections on one address and spawns a
// Handler per connection, generalizing the teacher's design-notes guidance
// (§9) to replace the original's thread-per-role class hierarchy with a
// single dispatch function parameterized by a handler.
type Listener struct {
	ln      net.Listener
	handler Handler
	invoker Invoker
	log     types.Logger
}

// Listen binds addr and returns a Listener that is not yet accepting;
// call Serve to start the accept loop. invoker spawns one task per
// accepted connection, and is normally a node's own private Invoker so its
// Stop waits only for that node's own connection handlers.
func Listen(addr types.Address, handler Handler, invoker Invoker, log types.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, handler: handler, invoker: invoker, log: log}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve runs the accept loop until Accept fails, normally because Close
// was called. done only decides whether that failure is logged: a closed
// done channel marks it as an expected shutdown. Closing done alone does
// not stop the loop. Each accepted connection is dispatched to the handler on its
// own goroutine via Invoker.Spawn, matching spec §5's "each inbound
// connection runs in an independent task".
func (l *Listener) Serve(done <-chan struct{}) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
				l.log.Warnf("accept failed: %v", err)
				return
			}
		}
		wrapped := NewConn(conn)
		l.invoker.Spawn(func() {
			defer wrapped.Close()
			l.handler(wrapped)
		})
	}
}

// HandshakeRead reads the first line of an inbound connection as the
// initiator's address (spec §4.1).
func HandshakeRead(c *Conn) (types.Address, error) {
	line, err := c.ReadLine()
	if err != nil {
		return types.Address{}, err
	}
	return types.NewAddress(line)
}

// HandshakeWrite writes self's address as the first line of an outbound
// connection.
func HandshakeWrite(c *Conn, self types.Address) error {
	return c.WriteLine(codec.EncodeHandshake(self))
}

// DialAndHandshake opens a fresh TCP connection to addr, performs the
// handshake naming self, and returns the wrapped connection. Every
// inter-super-peer forward and every leaf-to-leaf interaction is a
// single-shot exchange built on top of this (spec §4.1).
func DialAndHandshake(addr types.Address, self types.Address) (*Conn, error) {
	raw, err := net.DialTimeout("tcp", addr.String(), ConnDeadline)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := NewConn(raw)
	if err := HandshakeWrite(c, self); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
