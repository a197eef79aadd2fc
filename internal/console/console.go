// Package console implements the Console Set (C2): the collection of
// physical console devices the daemon fans output out to.
//
// Grounded on console.c's consalloc()/consinitIO()/getconsoles(), with the
// intrusive `list_t node` linkage replaced by an ordered slice -- the
// Design Notes' "intrusive-doubly-linked-list-to-ordered-collection"
// transformation. Device discovery itself lives in internal/devicepath;
// this package owns the open file descriptors and per-console state
// (termios snapshot, blocked/prompter-pid bookkeeping).
package console

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"blogd/errors"
	"blogd/internal/devicepath"
)

const posixMaxCanon = 255

// Console is one open console device, the Go analogue of `struct console`.
type Console struct {
	Path  string
	Flags devicepath.Flags
	Dev   uint64

	File *os.File

	// MaxCanon bounds writev-style chunk sizes, matching c->max_canon.
	MaxCanon int

	// Orig/Current termios snapshots, matching otio/ctio; Locked is a flag,
	// the locked ltio snapshot itself is not stored.
	Orig    unix.Termios
	Current unix.Termios
	Locked  bool

	// PID of an in-flight password prompter forked for this console, or -1.
	PID int
}

// IsConsDev reports whether this console carries the CON_CONSDEV flag
// (the device driving /dev/console), matching `c->flags & CON_CONSDEV`.
func (c *Console) IsConsDev() bool {
	return c.Flags&devicepath.FlagConsDev != 0
}

// Fd returns the console's file descriptor, or -1 if not open.
func (c *Console) Fd() int {
	if c.File == nil {
		return -1
	}
	return int(c.File.Fd())
}

// Set is the ordered collection of registered consoles, replacing the
// intrusive list rooted at `cons`.
type Set struct {
	items []*Console
}

// NewSet discovers consoles via devicepath.Discover and opens each for
// writing, matching getconsoles() followed by consinitIO() for every
// allocated console.
func NewSet() (*Set, error) {
	devs, err := devicepath.Discover()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrNotFound, "discover consoles")
	}
	if len(devs) == 0 {
		return nil, errors.ErrNoConsoles
	}

	s := &Set{}
	for _, d := range devs {
		c, err := openConsole(d)
		if err != nil {
			// Non-fatal per consinitIO(): skip, unless permission denied.
			if errors.Is(err, os.ErrPermission) {
				return nil, errors.WrapWithConsole(err, errors.ErrPermission, "open console", d.Path)
			}
			continue
		}
		s.items = append(s.items, c)
	}
	if len(s.items) == 0 {
		return nil, errors.ErrNoConsoles
	}
	return s, nil
}

func openConsole(d devicepath.Device) (*Console, error) {
	fd, err := unix.Open(d.Path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Path, err)
	}

	// Clear O_NONBLOCK once opened (consinitIO clears it after open so
	// subsequent writes block briefly rather than spuriously EAGAINing,
	// relying on can_write()/safeout() for backpressure instead).
	flags, ferr := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if ferr == nil {
		flags &^= unix.O_NONBLOCK
		flags |= unix.O_NOCTTY
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags)
	}

	return &Console{
		Path:     d.Path,
		Flags:    d.Flags,
		Dev:      unix.Mkdev(d.Major, d.Minor),
		File:     os.NewFile(uintptr(fd), d.Path),
		MaxCanon: posixMaxCanon,
		PID:      -1,
	}, nil
}

// NewSetFromConsoles builds a Set directly from already-open consoles,
// bypassing device discovery. Used by tests that wire up fanout behavior
// against pipes instead of real tty devices.
func NewSetFromConsoles(items []*Console) *Set {
	return &Set{items: items}
}

// Items returns the ordered console list. Callers must not mutate the
// returned slice.
func (s *Set) Items() []*Console { return s.items }

// ConsDev returns the console carrying CON_CONSDEV, if any, matching the
// `fdc` lookup in epoll_console_in.
func (s *Set) ConsDev() *Console {
	for _, c := range s.items {
		if c.IsConsDev() {
			return c
		}
	}
	return nil
}

// Close closes every open console fd.
func (s *Set) Close() {
	for _, c := range s.items {
		if c.File != nil {
			_ = c.File.Close()
			c.File = nil
		}
	}
}

// Drain calls tcdrain(3) on every open console, matching the
// `list_for_each_entry(c, ...) tcdrain(c->fd)` loops in closeIO()/
// ask_for_password(). glibc's tcdrain is itself `ioctl(fd, TCSBRK, 1)`.
func (s *Set) Drain() {
	for _, c := range s.items {
		if c.Fd() < 0 {
			continue
		}
		_ = unix.IoctlSetInt(c.Fd(), unix.TCSBRK, 1)
	}
}
