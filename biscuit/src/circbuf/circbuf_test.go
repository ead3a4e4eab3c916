package circbuf

import (
	"bytes"
	"testing"
)

func TestWriteAndSnapshot(t *testing.T) {
	r := NewRing(8)
	r.Write([]byte("abcd"))
	if got, want := string(r.Snapshot()), "abcd"; got != want {
		t.Errorf("Snapshot = %q; want %q", got, want)
	}
	if r.Used() != 4 || r.Left() != 4 {
		t.Errorf("Used=%d Left=%d; want 4, 4", r.Used(), r.Left())
	}
}

func TestWriteEvictsOldestOnOverflow(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte("abcd"))
	r.Write([]byte("ef"))

	if got, want := string(r.Snapshot()), "cdef"; got != want {
		t.Errorf("Snapshot after overflow = %q; want %q", got, want)
	}
}

func TestWriteLargerThanCapacityKeepsTail(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte("abcdefgh"))

	if got, want := string(r.Snapshot()), "efgh"; got != want {
		t.Errorf("Snapshot = %q; want %q", got, want)
	}
	if !r.Full() {
		t.Error("ring should be reported full")
	}
}

func TestWriteToDrainsOldestFirst(t *testing.T) {
	r := NewRing(8)
	r.Write([]byte("hello"))

	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != 5 || buf.String() != "hello" {
		t.Errorf("WriteTo = (%d, %q); want (5, %q)", n, buf.String(), "hello")
	}
	if !r.Empty() {
		t.Error("ring should be empty after WriteTo drains it")
	}
}

func TestNewRingPanicsOnBadSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected NewRing(0) to panic")
		}
	}()
	NewRing(0)
}
