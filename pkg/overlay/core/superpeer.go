package core

import (
	"sync"

	"github.com/filemesh/filemesh/pkg/overlay/codec"
	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// leafSession tracks one persistent leaf connection so the query router
// and invalidation propagator can write unsolicited frames (queryhit,
// invalidate) back down it without racing the session's own read loop's
// occasional writes (register/deregister status replies).
type leafSession struct {
	conn    *Conn
	writeMu sync.Mutex
}

func (s *leafSession) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteLine(line)
}

// SuperPeer holds the backbone-side state described in spec §2-§4: the
// file registry mapping names to advertising leaves, the bounded message
// history for dedup/reverse-path routing, and the declared neighbor and
// leaf sets from the topology config.
type SuperPeer struct {
	Self      types.Address
	Neighbors []types.Address
	Leaves    []types.Address

	registry *FileRegistry
	history  *History
	log      types.Logger
	invoker  Invoker
	metrics  *Metrics

	mu       sync.Mutex
	sessions map[types.Address]*leafSession

	leafSet     map[types.Address]bool
	neighborSet map[types.Address]bool
}

// NewSuperPeer builds a SuperPeer for self, with the given neighbor and
// leaf addresses from the topology config. invoker is normally a private
// instance scoped to this super-peer's own node (see NewInvoker).
func NewSuperPeer(self types.Address, neighbors, leaves []types.Address, log types.Logger, invoker Invoker, metrics *Metrics) *SuperPeer {
	leafSet := make(map[types.Address]bool, len(leaves))
	for _, l := range leaves {
		leafSet[l] = true
	}
	neighborSet := make(map[types.Address]bool, len(neighbors))
	for _, n := range neighbors {
		neighborSet[n] = true
	}
	return &SuperPeer{
		Self:        self,
		Neighbors:   neighbors,
		Leaves:      leaves,
		registry:    NewFileRegistry(),
		history:     NewHistory(types.HistorySize),
		log:         log,
		invoker:     invoker,
		metrics:     metrics,
		sessions:    make(map[types.Address]*leafSession),
		leafSet:     leafSet,
		neighborSet: neighborSet,
	}
}

// partyKind classifies a handshaking remote party per spec §4.1.
type partyKind int

const (
	partyForeign partyKind = iota
	partyNeighbor
	partyLeaf
)

func (s *SuperPeer) classify(addr types.Address) partyKind {
	if s.leafSet[addr] {
		return partyLeaf
	}
	if s.neighborSet[addr] {
		return partyNeighbor
	}
	return partyForeign
}

// HandleConnection is the Listener Handler for a super-peer: read the
// handshake, classify, and either run a persistent leaf session or a
// single-shot neighbor exchange. Foreign parties are logged and dropped
// (spec §4.1).
func (s *SuperPeer) HandleConnection(conn *Conn) {
	remote, err := HandshakeRead(conn)
	if err != nil {
		s.log.Warnf("handshake read failed: %v", err)
		return
	}
	switch s.classify(remote) {
	case partyLeaf:
		s.runLeafSession(conn, remote)
	case partyNeighbor:
		s.runNeighborExchange(conn, remote)
	default:
		s.log.Warnf("rejecting connection from unrecognized party %s", remote)
	}
}

func (s *SuperPeer) runLeafSession(conn *Conn, leaf types.Address) {
	session := &leafSession{conn: conn}
	s.mu.Lock()
	s.sessions[leaf] = session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, leaf)
		s.mu.Unlock()
		dropped := s.registry.DropLeaf(leaf)
		for _, name := range dropped {
			s.log.Infof("leaf %s disconnected, deregistering %s", leaf, name)
		}
	}()

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return
		}
		if line == "" {
			continue
		}
		s.dispatchLeafFrame(session, leaf, line)
	}
}

// dispatchLeafFrame handles one decoded frame from leaf's persistent
// session. Register/deregister status replies are written back through
// session.writeLine rather than the raw connection, since an unsolicited
// queryhit or invalidate can be handed to the same session concurrently
// from handleQuery/handleInvalidate running on a different goroutine;
// every write into a leaf's persistent connection must go through the
// one writeMu that serializes them.
func (s *SuperPeer) dispatchLeafFrame(session *leafSession, leaf types.Address, line string) {
	frame, err := codec.DecodeFrame(line)
	if err != nil {
		s.log.Errorf("malformed frame from leaf %s: %v", leaf, err)
		return
	}
	switch frame.Verb {
	case codec.VerbRegister:
		s.registry.Register(frame.Message.Info.Name, leaf)
		_ = session.writeLine("0")
		s.metricRegister()
	case codec.VerbDeregister:
		s.registry.Deregister(frame.Message.Info.Name, leaf)
		_ = session.writeLine("0")
		s.metricDeregister()
	case codec.VerbQuery:
		s.handleQuery(frame.Message, leaf)
	case codec.VerbInvalidate:
		s.handleInvalidate(frame.Message, leaf)
	default:
		s.log.Warnf("unexpected verb %q on leaf session from %s", frame.Verb, leaf)
	}
}

func (s *SuperPeer) runNeighborExchange(conn *Conn, neighbor types.Address) {
	line, err := conn.ReadLine()
	if err != nil {
		return
	}
	frame, err := codec.DecodeFrame(line)
	if err != nil {
		s.log.Errorf("malformed frame from neighbor %s: %v", neighbor, err)
		return
	}
	switch frame.Verb {
	case codec.VerbQuery:
		s.handleQuery(frame.Message, neighbor)
	case codec.VerbQueryHit:
		s.handleQueryHit(frame.Message, frame.Holder)
	case codec.VerbInvalidate:
		s.handleInvalidate(frame.Message, neighbor)
	default:
		s.log.Warnf("unexpected verb %q on neighbor exchange from %s", frame.Verb, neighbor)
	}
}

// handleQuery implements the query router algorithm of spec §4.3.
func (s *SuperPeer) handleQuery(m types.Message, from types.Address) {
	if !s.history.RecordIfNew(m.ID, from) {
		return
	}
	s.metricQuery()

	for _, holder := range s.registry.Holders(m.Info.Name) {
		hitLine := codec.EncodeQueryHit(m, holder)
		s.deliverToSource(from, hitLine)
	}

	if m.CanForward() {
		forwarded := m.Decremented(s.Self)
		line := codec.EncodeQuery(forwarded)
		for _, neighbor := range s.Neighbors {
			if neighbor == from {
				continue // loop-avoidance: never echo back to the sender hop
			}
			s.forwardOneShot(neighbor, line)
		}
	}
}

// handleQueryHit implements reverse-path routing for a queryhit arriving
// from a neighbor super-peer (spec §4.3).
func (s *SuperPeer) handleQueryHit(m types.Message, holder types.Address) {
	returnAddr, ok := s.history.ReturnAddress(m.ID)
	if !ok {
		return // history already evicted this id; drop silently.
	}
	line := codec.EncodeQueryHit(m, holder)
	s.deliverToSource(returnAddr, line)
}

// handleInvalidate implements the super-peer side of the invalidation
// propagator (spec §4.4): fan the invalidate out to every other leaf
// advertising the file, deregister them, record+forward to neighbors.
func (s *SuperPeer) handleInvalidate(m types.Message, from types.Address) {
	if !s.history.RecordIfNew(m.ID, from) {
		return
	}
	s.metricInvalidate()

	for _, leaf := range s.registry.Holders(m.Info.Name) {
		if leaf == from {
			continue
		}
		line := codec.EncodeInvalidate(m)
		// Unlike queryhit delivery, invalidate delivery is super-peer
		// initiated rather than a reply along an inbound request, so it
		// always dials the leaf's own listener fresh (spec §4.4: "open a
		// connection to that leaf") instead of reusing its persistent
		// session.
		s.forwardOneShot(leaf, line)
		s.registry.Deregister(m.Info.Name, leaf)
	}

	if m.CanForward() {
		forwarded := m.Decremented(s.Self)
		line := codec.EncodeInvalidate(forwarded)
		for _, neighbor := range s.Neighbors {
			if neighbor == from {
				continue
			}
			s.forwardOneShot(neighbor, line)
		}
	}
}

// deliverToSource writes line back toward source: directly into the
// tracked persistent session if source is one of this super-peer's own
// leaves, otherwise via a fresh one-shot connection (used for both
// super-peer neighbors and, defensively, any leaf whose session already
// closed — see forwardOneShot's log-and-drop policy).
func (s *SuperPeer) deliverToSource(source types.Address, line string) {
	s.mu.Lock()
	session, ok := s.sessions[source]
	s.mu.Unlock()
	if ok {
		if err := session.writeLine(line); err != nil {
			s.log.Warnf("failed delivering to leaf session %s: %v", source, err)
		}
		return
	}
	s.forwardOneShot(source, line)
}

// forwardOneShot opens a fresh connection, handshakes, writes one frame,
// and closes. Per spec §7, connect/write failures here are logged and
// dropped, never retried.
func (s *SuperPeer) forwardOneShot(to types.Address, line string) {
	conn, err := DialAndHandshake(to, s.Self)
	if err != nil {
		s.log.Warnf("failed forwarding to %s: %v", to, err)
		return
	}
	defer conn.Close()
	if err := conn.WriteLine(line); err != nil {
		s.log.Warnf("failed writing forward to %s: %v", to, err)
	}
}

func (s *SuperPeer) metricQuery() {
	if s.metrics != nil {
		s.metrics.QueriesHandled.Inc()
	}
}
func (s *SuperPeer) metricRegister() {
	if s.metrics != nil {
		s.metrics.RegistersHandled.Inc()
	}
}
func (s *SuperPeer) metricDeregister() {
	if s.metrics != nil {
		s.metrics.DeregistersHandled.Inc()
	}
}
func (s *SuperPeer) metricInvalidate() {
	if s.metrics != nil {
		s.metrics.InvalidatesHandled.Inc()
	}
}

// HistoryLen exposes the current history size for tests and metrics.
func (s *SuperPeer) HistoryLen() int {
	return s.history.Len()
}

// SetMetrics attaches a Metrics bundle after construction, used by node
// wiring that needs this SuperPeer's own HistoryLen to build the gauge
// in the first place.
func (s *SuperPeer) SetMetrics(m *Metrics) {
	s.metrics = m
}
