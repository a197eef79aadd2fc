package eventloop

import "golang.org/x/sys/unix"

// fillSigset and delSigset reimplement sigfillset(3)/sigdelset(3) over the
// Val bitmask golang.org/x/sys/unix.Sigset_t exposes on linux, since the
// package does not wrap those two libc calls itself.

func fillSigset(set *unix.Sigset_t) {
	for i := range set.Val {
		set.Val[i] = ^uint64(0)
	}
}

func delSigset(set *unix.Sigset_t, sig unix.Signal) {
	s := uint(sig) - 1
	word := s / 64
	bit := s % 64
	if int(word) >= len(set.Val) {
		return
	}
	set.Val[word] &^= 1 << bit
}
