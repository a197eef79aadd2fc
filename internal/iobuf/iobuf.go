// Package iobuf implements the temporary byte buffer used to hold console
// output while a password prompt is in progress or a sink is blocked.
//
// Grounded on console.c's fixed-size `temp[]` array with thead/ttail/tavail
// pointers: append-at-tail, drain-from-head, compact-when-drained. The
// size is 4x the transfer buffer (8x on s390x in the original, to absorb a
// slower VM-channel console) -- kept here as a constructor argument instead
// of a build-tag constant, since blogd's target architectures don't need
// the s390 sizing and a compile-time constant would be dead weight per
// SPEC_FULL's wiring, not size fidelity, priority.
package iobuf

import "blogd/errors"

// TransferBufferSize matches TRANS_BUFFER_SIZE, the chunk size safein()
// reads at once from the system console fd.
const TransferBufferSize = 4096

// DefaultCapacity is 4x TransferBufferSize, console.c's non-s390 sizing.
const DefaultCapacity = 4 * TransferBufferSize

// Buffer is a single-producer, single-consumer byte ring backed by a flat
// slice, matching temp/thead/ttail/tavail's compact-on-drain behavior
// rather than a true circular buffer (the original never wraps; it shifts
// remaining bytes to the front once thead advances past the start).
type Buffer struct {
	data      []byte
	head, len int
}

// New allocates a Buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the buffer's total capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of buffered, undrained bytes (tavail).
func (b *Buffer) Len() int { return b.len }

// Empty reports whether the buffer currently holds nothing.
func (b *Buffer) Empty() bool { return b.len == 0 }

// Append copies p onto the tail of the buffer. It mirrors the
// `if (cnt <= (size_t)(tend - ttail)) memcpy(ttail, trans, cnt)` guard in
// epoll_console_in: bytes that would overflow tend are silently dropped
// rather than wrapping or growing, matching the original's fixed-size
// semantics. Returns ErrBufferFull when dropped.
func (b *Buffer) Append(p []byte) error {
	tail := b.head + b.len
	if tail+len(p) > len(b.data) {
		return errors.ErrBufferFull
	}
	copy(b.data[tail:], p)
	b.len += len(p)
	return nil
}

// Peek returns up to max undrained bytes starting at head without
// consuming them, matching the `len = tavail; if (tavail > TRANS_BUFFER_SIZE)
// len = TRANS_BUFFER_SIZE` chunking in epoll_console_in's drain loop.
func (b *Buffer) Peek(max int) []byte {
	n := b.len
	if n > max {
		n = max
	}
	return b.data[b.head : b.head+n]
}

// Advance consumes n bytes from the head, compacting the remaining bytes to
// the front of the backing slice once thead has moved past the start --
// mirroring the `thead = (char *)memmove(temp, thead, tavail)` compaction.
func (b *Buffer) Advance(n int) {
	if n > b.len {
		n = b.len
	}
	b.head += n
	b.len -= n

	if b.len == 0 {
		b.head = 0
		return
	}
	if b.head > 0 {
		copy(b.data, b.data[b.head:b.head+b.len])
		b.head = 0
	}
}

// Reset empties the buffer without changing capacity.
func (b *Buffer) Reset() {
	b.head = 0
	b.len = 0
}
