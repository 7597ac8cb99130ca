package codec

import (
	"testing"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

func mustAddr(t *testing.T, s string) types.Address {
	t.Helper()
	a, err := types.NewAddress(s)
	if err != nil {
		t.Fatalf("parse address %q: %v", s, err)
	}
	return a
}

func TestFileInfoRoundTrip(t *testing.T) {
	fi := types.FileInfo{
		Name:    "Coco.mp4",
		Origin:  mustAddr(t, "127.0.0.1:6003"),
		Version: 2,
		Valid:   true,
	}

	encoded := EncodeFileInfo(fi, true)
	decoded, err := DecodeFileInfo(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != fi {
		t.Fatalf("round-trip mismatch: got %#v, want %#v", decoded, fi)
	}
}

func TestFileInfoRoundTrip_NoValidField(t *testing.T) {
	fi := types.FileInfo{
		Name:    "a.txt",
		Origin:  mustAddr(t, "10.0.0.1:9"),
		Version: 1,
		Valid:   true,
	}
	encoded := EncodeFileInfo(fi, false)
	decoded, err := DecodeFileInfo(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != fi {
		t.Fatalf("round-trip mismatch: got %#v, want %#v", decoded, fi)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := types.Message{
		ID:  "127.0.0.1:6001-3",
		TTL: 9,
		Info: types.FileInfo{
			Name:    "Coco.mp4",
			Origin:  mustAddr(t, "127.0.0.1:6003"),
			Version: 1,
			Valid:   true,
		},
		Sender: mustAddr(t, "127.0.0.1:5000"),
	}

	encoded := EncodeMessage(m)
	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != m {
		t.Fatalf("round-trip mismatch: got %#v, want %#v", decoded, m)
	}
}

func TestDecodeFrame_Verbs(t *testing.T) {
	m := types.Message{
		ID:     "a-1",
		TTL:    5,
		Info:   types.NewOwnedFileInfo("f.bin", mustAddr(t, "127.0.0.1:1")),
		Sender: mustAddr(t, "127.0.0.1:2"),
	}

	cases := []struct {
		name string
		line string
		verb Verb
	}{
		{"register", EncodeRegister(m), VerbRegister},
		{"deregister", EncodeDeregister(m), VerbDeregister},
		{"query", EncodeQuery(m), VerbQuery},
		{"invalidate", EncodeInvalidate(m), VerbInvalidate},
		{"obtain", EncodeObtain(m), VerbObtain},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f, err := DecodeFrame(c.line)
			if err != nil {
				t.Fatalf("decode %q: %v", c.line, err)
			}
			if f.Verb != c.verb {
				t.Fatalf("got verb %q, want %q", f.Verb, c.verb)
			}
			if f.Message != m {
				t.Fatalf("message mismatch: got %#v, want %#v", f.Message, m)
			}
		})
	}
}

func TestDecodeFrame_QueryHit(t *testing.T) {
	m := types.Message{
		ID:     "a-1",
		TTL:    5,
		Info:   types.NewOwnedFileInfo("f.bin", mustAddr(t, "127.0.0.1:1")),
		Sender: mustAddr(t, "127.0.0.1:2"),
	}
	holder := mustAddr(t, "127.0.0.1:6003")
	line := EncodeQueryHit(m, holder)

	f, err := DecodeFrame(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Verb != VerbQueryHit || f.Message != m || f.Holder != holder {
		t.Fatalf("mismatch: %#v", f)
	}
}

func TestDecodeFrame_Handshake(t *testing.T) {
	f, err := DecodeFrame("127.0.0.1:6001")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !f.IsHandshake || f.Handshake.String() != "127.0.0.1:6001" {
		t.Fatalf("mismatch: %#v", f)
	}
}

func TestDecodeFrame_StatusAndReplies(t *testing.T) {
	fi := types.NewOwnedFileInfo("x.bin", mustAddr(t, "127.0.0.1:1"))
	f, err := DecodeFrame(EncodeStatus(fi))
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if f.Verb != VerbStatus || f.StatusInfo != fi {
		t.Fatalf("mismatch: %#v", f)
	}

	for _, reply := range []string{ReplyDeleted, ReplyUpToDate, ReplyOutdated} {
		f, err := DecodeFrame(reply)
		if err != nil {
			t.Fatalf("decode %q: %v", reply, err)
		}
		if !f.IsReply || f.Reply != reply {
			t.Fatalf("mismatch for %q: %#v", reply, f)
		}
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	cases := []string{
		"register a-1;notanumber;f,o,1;s",
		"query missing-semicolons",
		"queryhit a-1;5;f,127.0.0.1:1,1;127.0.0.1:2",
		"not a known line at all, nope",
	}
	for _, c := range cases {
		if _, err := DecodeFrame(c); err == nil {
			t.Fatalf("expected malformed frame error for %q", c)
		}
	}
}
