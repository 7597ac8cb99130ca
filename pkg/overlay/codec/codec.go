// Package codec implements the line-oriented text wire protocol described
// in spec.md §4.2. It is kept as a single, small surface deliberately: the
// teacher's design notes (§9) call for factoring an ad-hoc text codec into
// one module and rejecting malformed frames early, rather than scattering
// strings.Split calls across the call sites that need them.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// ErrMalformedFrame is returned whenever a text record has the wrong
// number of delimited fields for the record kind being parsed.
var ErrMalformedFrame = errors.New("codec: malformed frame")

// Verb names the leading token of a protocol line.
type Verb string

const (
	VerbRegister   Verb = "register"
	VerbDeregister Verb = "deregister"
	VerbQuery      Verb = "query"
	VerbQueryHit   Verb = "queryhit"
	VerbInvalidate Verb = "invalidate"
	VerbObtain     Verb = "obtain"
	VerbStatus     Verb = "status"
)

// Status reply tokens, sent in response to a status probe.
const (
	ReplyDeleted  = "deleted"
	ReplyUpToDate = "uptodate"
	ReplyOutdated = "outdated"
)

// EncodeFileInfo renders a FileInfo as "name,origin,version[,valid]". The
// trailing valid field is only emitted when includeValid is true, matching
// the pull-model-only use of that field (spec §3).
func EncodeFileInfo(fi types.FileInfo, includeValid bool) string {
	if includeValid {
		return fmt.Sprintf("%s,%s,%d,%t", fi.Name, fi.Origin.String(), fi.Version, fi.Valid)
	}
	return fmt.Sprintf("%s,%s,%d", fi.Name, fi.Origin.String(), fi.Version)
}

// DecodeFileInfo parses "name,origin,version[,valid]". Both 3- and
// 4-field forms are accepted on read regardless of includeValid on write,
// since a receiver must tolerate whichever the sender's model emits.
func DecodeFileInfo(s string) (types.FileInfo, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 && len(fields) != 4 {
		return types.FileInfo{}, fmt.Errorf("%w: fileinfo %q", ErrMalformedFrame, s)
	}
	origin, err := types.NewAddress(fields[1])
	if err != nil {
		return types.FileInfo{}, fmt.Errorf("%w: fileinfo origin %q: %v", ErrMalformedFrame, s, err)
	}
	version, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return types.FileInfo{}, fmt.Errorf("%w: fileinfo version %q: %v", ErrMalformedFrame, s, err)
	}
	fi := types.FileInfo{Name: fields[0], Origin: origin, Version: version}
	if len(fields) == 4 {
		valid, err := strconv.ParseBool(fields[3])
		if err != nil {
			return types.FileInfo{}, fmt.Errorf("%w: fileinfo valid %q: %v", ErrMalformedFrame, s, err)
		}
		fi.Valid = valid
	} else {
		fi.Valid = true
	}
	return fi, nil
}

// EncodeMessage renders a Message as "id;ttl;fileinfo;sender". The
// embedded FileInfo is always encoded without the valid field: Message is
// used for register/deregister/query/queryhit/invalidate/obtain, none of
// which carry the pull-only valid bit on the wire (only the standalone
// `status` frame does, see EncodeStatus).
func EncodeMessage(m types.Message) string {
	return fmt.Sprintf("%s;%d;%s;%s", m.ID, m.TTL, EncodeFileInfo(m.Info, false), m.Sender.String())
}

// DecodeMessage parses "id;ttl;fileinfo;sender".
func DecodeMessage(s string) (types.Message, error) {
	fields := strings.SplitN(s, ";", 4)
	if len(fields) != 4 {
		return types.Message{}, fmt.Errorf("%w: message %q", ErrMalformedFrame, s)
	}
	ttl, err := strconv.Atoi(fields[1])
	if err != nil {
		return types.Message{}, fmt.Errorf("%w: message ttl %q: %v", ErrMalformedFrame, s, err)
	}
	info, err := DecodeFileInfo(fields[2])
	if err != nil {
		return types.Message{}, err
	}
	sender, err := types.NewAddress(fields[3])
	if err != nil {
		return types.Message{}, fmt.Errorf("%w: message sender %q: %v", ErrMalformedFrame, s, err)
	}
	return types.Message{ID: fields[0], TTL: ttl, Info: info, Sender: sender}, nil
}

// Frame is a single decoded protocol line.
type Frame struct {
	Verb Verb

	// Handshake carries the initiator's own address when Verb is empty
	// (the handshake line is bare, with no leading verb token).
	Handshake types.Address
	IsHandshake bool

	Message types.Message

	// Holder is only set for VerbQueryHit: the address of the leaf that
	// holds the requested file.
	Holder types.Address

	// StatusInfo is only set for VerbStatus: the probing leaf's current
	// FileInfo for the replica being checked.
	StatusInfo types.FileInfo

	// Reply is only set when the line is a bare status reply
	// (deleted/uptodate/outdated), in which case Verb is empty too.
	Reply   string
	IsReply bool
}

// EncodeHandshake renders the handshake line: the initiator's own address,
// no verb.
func EncodeHandshake(self types.Address) string {
	return self.String()
}

// EncodeRegister/EncodeDeregister/EncodeQuery/EncodeInvalidate/EncodeObtain
// all share the "<verb> <id;ttl;fileinfo;sender>" shape.
func EncodeRegister(m types.Message) string   { return encodeVerbMessage(VerbRegister, m) }
func EncodeDeregister(m types.Message) string { return encodeVerbMessage(VerbDeregister, m) }
func EncodeQuery(m types.Message) string       { return encodeVerbMessage(VerbQuery, m) }
func EncodeInvalidate(m types.Message) string  { return encodeVerbMessage(VerbInvalidate, m) }
func EncodeObtain(m types.Message) string      { return encodeVerbMessage(VerbObtain, m) }

func encodeVerbMessage(verb Verb, m types.Message) string {
	return fmt.Sprintf("%s %s", verb, EncodeMessage(m))
}

// EncodeQueryHit renders "queryhit <id;ttl;fileinfo;sender> <holder>".
func EncodeQueryHit(m types.Message, holder types.Address) string {
	return fmt.Sprintf("%s %s %s", VerbQueryHit, EncodeMessage(m), holder.String())
}

// EncodeStatus renders "status <fileinfo>", always including the valid
// field since status probes are pull-model only.
func EncodeStatus(fi types.FileInfo) string {
	return fmt.Sprintf("%s %s", VerbStatus, EncodeFileInfo(fi, true))
}

// DecodeFrame parses a single protocol line into a Frame, classifying it
// by leading token. Lines with no recognized verb that also fail to parse
// as a bare address or a bare status reply are rejected as malformed.
func DecodeFrame(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 2)
	head := parts[0]

	switch Verb(head) {
	case VerbRegister, VerbDeregister, VerbQuery, VerbInvalidate, VerbObtain:
		if len(parts) != 2 {
			return Frame{}, fmt.Errorf("%w: %q missing body", ErrMalformedFrame, line)
		}
		m, err := DecodeMessage(parts[1])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Verb: Verb(head), Message: m}, nil

	case VerbQueryHit:
		if len(parts) != 2 {
			return Frame{}, fmt.Errorf("%w: %q missing body", ErrMalformedFrame, line)
		}
		body := strings.SplitN(parts[1], " ", 2)
		if len(body) != 2 {
			return Frame{}, fmt.Errorf("%w: queryhit %q missing holder", ErrMalformedFrame, line)
		}
		m, err := DecodeMessage(body[0])
		if err != nil {
			return Frame{}, err
		}
		holder, err := types.NewAddress(body[1])
		if err != nil {
			return Frame{}, fmt.Errorf("%w: queryhit holder %q: %v", ErrMalformedFrame, line, err)
		}
		return Frame{Verb: VerbQueryHit, Message: m, Holder: holder}, nil

	case VerbStatus:
		if len(parts) != 2 {
			return Frame{}, fmt.Errorf("%w: %q missing body", ErrMalformedFrame, line)
		}
		fi, err := DecodeFileInfo(parts[1])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Verb: VerbStatus, StatusInfo: fi}, nil
	}

	switch line {
	case ReplyDeleted, ReplyUpToDate, ReplyOutdated:
		return Frame{Reply: line, IsReply: true}, nil
	}

	if addr, err := types.NewAddress(line); err == nil {
		return Frame{Handshake: addr, IsHandshake: true}, nil
	}

	return Frame{}, fmt.Errorf("%w: unrecognized line %q", ErrMalformedFrame, line)
}
