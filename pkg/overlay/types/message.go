package types

import "fmt"

// Message is the envelope carried by register/deregister/query/queryhit/
// invalidate/obtain frames.
//
// ID is node-unique, formed by the originating leaf as "<origin>-<seq>".
// TTL decrements by one at every super-peer that forwards the message.
// Sender is the last hop that transmitted the message; a super-peer
// rewrites it to itself on every forward. Sender is distinct from
// Info.Origin: Sender is transport-level provenance, Origin is the file's
// authoritative owner.
type Message struct {
	ID     string
	TTL    int
	Info   FileInfo
	Sender Address
}

// Decremented returns a copy of m with TTL reduced by one and Sender
// rewritten to the given forwarding super-peer.
func (m Message) Decremented(forwarder Address) Message {
	m.TTL--
	m.Sender = forwarder
	return m
}

// CanForward reports whether this message still has hop budget left.
func (m Message) CanForward() bool {
	return m.TTL > 0
}

// NextSequenceID formats a new message id for a sequence number issued by
// the leaf at origin.
func NextSequenceID(origin Address, sequence uint64) string {
	return fmt.Sprintf("%s-%d", origin.String(), sequence)
}
