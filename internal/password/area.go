// Package password implements the Password Orchestrator (C8): presenting
// a password/passphrase prompt on every console at once, taking the first
// answer, which the prompter stores obfuscated in the shared Area.
//
// Grounded on console.c's shm_malloc()-backed password/pwsize globals and
// ask_for_password()/do_answer_password(). The shared memory area must
// survive a process boundary here, since the prompter runs as a subprocess
// rather than console.c's raw fork() of the still-single-address-space
// daemon (see Area's doc comment for why).
package password

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"

	"blogd/errors"
)

// MaxPassLen bounds the accepted password length, matching MAX_PASSLEN.
// readpw()'s overflow check compares against MaxPassLen-1 plus a NUL.
const MaxPassLen = 256

// areaSize is MaxPassLen bytes of password plus a trailing little-endian
// uint32 length, matching `shm_malloc(MAX_PASSLEN+sizeof(int32_t))`.
const areaSize = MaxPassLen + 4

// Area is the shared password buffer. console.c creates this with
// mmap(MAP_ANONYMOUS|MAP_SHARED) and shares it across a raw fork(), which
// works because fork() duplicates the parent's address space including
// that mapping. Go cannot safely replicate a bare fork() the way C does --
// the runtime's goroutine scheduler, GC, and signal handling all assume a
// single cooperating process -- so the prompter here runs as a genuine
// self-reexec subprocess (see Orchestrator, grounded on container/exec.go's
// os.Executable()+exec.Command self-reexec pattern). An anonymous mmap
// does not survive exec(), so Area is backed by a memfd instead:
// memfd_create + mmap(MAP_SHARED) gives the same shared-memory semantics
// as the original's anonymous mapping, and the memfd survives exec()
// because it is inherited as an ordinary file descriptor via
// cmd.ExtraFiles.
type Area struct {
	file *os.File
	mem  []byte
}

// NewArea creates the shared password area via memfd_create, matching
// shm_malloc()'s anonymous-mapping setup.
func NewArea() (*Area, error) {
	fd, err := unix.MemfdCreate("blogd-password", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrResource, "memfd_create")
	}
	f := os.NewFile(uintptr(fd), "blogd-password")

	if err := f.Truncate(areaSize); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrResource, "truncate password area")
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, areaSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrResource, "mmap password area")
	}

	return &Area{file: f, mem: mem}, nil
}

// OpenArea wraps an inherited memfd (received via ExtraFiles in the
// prompter subprocess) as an Area over the same shared mapping.
func OpenArea(fd int) (*Area, error) {
	f := os.NewFile(uintptr(fd), "blogd-password")
	mem, err := unix.Mmap(fd, 0, areaSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrResource, "mmap inherited password area")
	}
	return &Area{file: f, mem: mem}, nil
}

// File returns the backing memfd, for passing to a child via cmd.ExtraFiles.
func (a *Area) File() *os.File { return a.file }

// Set stores the password bytes and their length, matching
// `memcpy(password, pw, pwsize); *pwsizep = pwsize`. Bytes beyond length
// are zeroed so a shorter password never leaks a longer prior one.
func (a *Area) Set(pw []byte) error {
	if len(pw) > MaxPassLen {
		return errors.ErrPasswordTooLong
	}
	for i := range a.mem[:MaxPassLen] {
		a.mem[i] = 0
	}
	copy(a.mem, pw)
	binary.LittleEndian.PutUint32(a.mem[MaxPassLen:], uint32(len(pw)))
	return nil
}

// Get returns a copy of the stored password bytes.
func (a *Area) Get() []byte {
	n := binary.LittleEndian.Uint32(a.mem[MaxPassLen:])
	if n > MaxPassLen {
		n = MaxPassLen
	}
	out := make([]byte, n)
	copy(out, a.mem[:n])
	return out
}

// Len returns the stored password length without copying the bytes.
func (a *Area) Len() int {
	n := binary.LittleEndian.Uint32(a.mem[MaxPassLen:])
	if n > MaxPassLen {
		n = MaxPassLen
	}
	return int(n)
}

// Clear zeroes the area, matching the original's `memset(password, 0, ...)`
// after a cached password is consumed or discarded.
func (a *Area) Clear() {
	for i := range a.mem {
		a.mem[i] = 0
	}
}

// Frobnicate XORs the first Len() bytes of the stored password in place
// with a fixed keystream. Applying it twice restores the original bytes.
// This mirrors console.c's frobnicate(): an at-rest obfuscation against
// casual inspection of the shared memory area, not real cryptography --
// the key is compiled into the binary, same as the original.
func (a *Area) Frobnicate() {
	n := a.Len()
	for i := 0; i < n; i++ {
		a.mem[i] ^= frobKey[i%len(frobKey)]
	}
}

// frobKey is an arbitrary fixed keystream, analogous to the constant
// byte table frobnicate() XORs against in the original.
var frobKey = []byte{0x5a, 0x96, 0x3c, 0xe1, 0x7d, 0x42, 0xb8, 0x19}

// Close unmaps and releases the backing memfd.
func (a *Area) Close() error {
	if a.mem != nil {
		_ = unix.Munmap(a.mem)
		a.mem = nil
	}
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
