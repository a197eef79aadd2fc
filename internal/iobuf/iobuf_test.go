package iobuf

import (
	"bytes"
	"errors"
	"testing"

	blogderrors "blogd/errors"
)

func TestAppendAndPeek(t *testing.T) {
	b := New(16)
	if err := b.Append([]byte("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}
	if got := b.Peek(16); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Peek(16) = %q, want %q", got, "hello")
	}
}

func TestAppendOverflowReturnsErrBufferFull(t *testing.T) {
	b := New(4)
	if err := b.Append([]byte("toolong")); !errors.Is(err, blogderrors.ErrBufferFull) {
		t.Errorf("Append overflow = %v, want ErrBufferFull", err)
	}
	if b.Len() != 0 {
		t.Error("overflowing append must not partially write")
	}
}

func TestAdvanceCompacts(t *testing.T) {
	b := New(8)
	_ = b.Append([]byte("abcdefgh"))
	b.Advance(4)
	if b.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", b.Len())
	}
	if got := b.Peek(4); !bytes.Equal(got, []byte("efgh")) {
		t.Errorf("Peek(4) after Advance = %q, want %q", got, "efgh")
	}

	// Buffer should have compacted to the front, freeing room for 4 more bytes.
	if err := b.Append([]byte("ijkl")); err != nil {
		t.Fatalf("Append after compaction: %v", err)
	}
	if got := b.Peek(8); !bytes.Equal(got, []byte("efghijkl")) {
		t.Errorf("Peek(8) = %q, want %q", got, "efghijkl")
	}
}

func TestAdvanceToEmptyResetsHead(t *testing.T) {
	b := New(4)
	_ = b.Append([]byte("ab"))
	b.Advance(2)
	if !b.Empty() {
		t.Fatal("buffer should be empty after draining all bytes")
	}
	if err := b.Append([]byte("cdef")); err != nil {
		t.Fatalf("Append into drained buffer: %v", err)
	}
}
