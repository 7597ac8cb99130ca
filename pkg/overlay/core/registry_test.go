package core

import (
	"testing"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

func addr(t *testing.T, s string) types.Address {
	t.Helper()
	a, err := types.NewAddress(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func TestFileRegistry_RegisterDeregister(t *testing.T) {
	r := NewFileRegistry()
	l1 := addr(t, "127.0.0.1:1")
	l2 := addr(t, "127.0.0.1:2")

	r.Register("a.txt", l1)
	r.Register("a.txt", l2)

	holders := r.Holders("a.txt")
	if len(holders) != 2 {
		t.Fatalf("expected 2 holders, got %v", holders)
	}

	r.Deregister("a.txt", l1)
	holders = r.Holders("a.txt")
	if len(holders) != 1 || holders[0] != l2 {
		t.Fatalf("expected only l2, got %v", holders)
	}

	r.Deregister("a.txt", l2)
	if holders := r.Holders("a.txt"); len(holders) != 0 {
		t.Fatalf("expected empty set, got %v", holders)
	}
}

func TestFileRegistry_DropLeafCascades(t *testing.T) {
	r := NewFileRegistry()
	l1 := addr(t, "127.0.0.1:1")
	r.Register("a.txt", l1)
	r.Register("b.txt", l1)

	dropped := r.DropLeaf(l1)
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped names, got %v", dropped)
	}
	if len(r.Holders("a.txt")) != 0 || len(r.Holders("b.txt")) != 0 {
		t.Fatalf("expected both names to be empty after drop")
	}
}

func TestHistory_BoundedEvictionOldestFirst(t *testing.T) {
	h := NewHistory(3)
	a := addr(t, "127.0.0.1:1")

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if !h.RecordIfNew(id, a) {
			t.Fatalf("expected %s to be new", id)
		}
	}

	if h.Len() != 3 {
		t.Fatalf("expected history capped at 3, got %d", h.Len())
	}
	// "a" and "b" should have been evicted, oldest first.
	if _, ok := h.ReturnAddress("a"); ok {
		t.Fatalf("expected 'a' evicted")
	}
	if _, ok := h.ReturnAddress("b"); ok {
		t.Fatalf("expected 'b' evicted")
	}
	if _, ok := h.ReturnAddress("e"); !ok {
		t.Fatalf("expected 'e' still present")
	}
}

func TestHistory_RecordIfNewIdempotent(t *testing.T) {
	h := NewHistory(50)
	a := addr(t, "127.0.0.1:1")
	if !h.RecordIfNew("m-1", a) {
		t.Fatalf("expected first record to succeed")
	}
	if h.RecordIfNew("m-1", a) {
		t.Fatalf("expected duplicate record to be rejected")
	}
}
