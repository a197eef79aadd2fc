// Package termbuf wraps the termios/pty ioctls the daemon needs to manage
// console devices: snapshotting termios state, opening/locking pty pairs,
// and taking over the controlling terminal.
//
// Grounded on the teacher's utils/console.go, generalized from a single
// OCI-container PTY pair to the repeated per-console operations the daemon
// needs (one snapshot per registered console, reused across capture
// activate/deactivate cycles). Typed termios/winsize ioctls go through
// golang.org/x/sys/unix (IoctlGetTermios/IoctlSetTermios/IoctlGetWinsize/
// IoctlSetWinsize); the ioctls x/sys/unix has no typed wrapper for
// (TIOCCONS, TIOCSCTTY, TIOCGPTN, TIOCSPTLCK, TIOCSLCKTRMIOS) go through
// github.com/daedaluz/goioctl's generic Ioctl(fd, req, arg uintptr) error.
package termbuf

import (
	"fmt"
	"os"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
	"golang.org/x/sys/unix"
)

// Snapshot holds two termios states per console, Orig (otio in console.c)
// and Current (ctio), plus a Locked flag in place of the locked ltio
// snapshot, which is not stored.
type Snapshot struct {
	Orig    unix.Termios
	Current unix.Termios
	Locked  bool
	MaxCol  int
}

// GetTermios reads the current termios for fd via TCGETS.
func GetTermios(fd int) (*unix.Termios, error) {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("TCGETS: %w", err)
	}
	return t, nil
}

// SetTermios writes termios for fd via TCSETS.
func SetTermios(fd int, t *unix.Termios) error {
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("TCSETS: %w", err)
	}
	return nil
}

// GetWinsize reads the window size of fd.
func GetWinsize(fd int) (*unix.Winsize, error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return nil, fmt.Errorf("TIOCGWINSZ: %w", err)
	}
	return ws, nil
}

// SetWinsize writes the window size of fd.
func SetWinsize(fd int, ws *unix.Winsize) error {
	if err := unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, ws); err != nil {
		return fmt.Errorf("TIOCSWINSZ: %w", err)
	}
	return nil
}

// SetConsole arms or clears TIOCCONS on fd, making it (or un-making it) the
// target of kernel console output -- the ioctl epoll_console_in's
// DEACTIVATE/REACTIVATE handlers toggle when switching capture devices.
func SetConsole(fd int) error {
	if err := ioctl.Ioctl(uintptr(fd), unix.TIOCCONS, 0); err != nil {
		return fmt.Errorf("TIOCCONS: %w", err)
	}
	return nil
}

// SetControllingTTY steals the controlling terminal for fd even when the
// caller is not the session leader (arg=1), matching console.c's prompter
// child calling request_tty() after setsid().
func SetControllingTTY(fd int) error {
	if err := ioctl.Ioctl(uintptr(fd), unix.TIOCSCTTY, 1); err != nil {
		return fmt.Errorf("TIOCSCTTY: %w", err)
	}
	return nil
}

// LockSlaveTermios applies an all-ones lock mask to the pty slave's termios,
// matching the REACTIVATE path's `memset(&lock, 0xff, ...); ioctl(pts,
// TIOCSLCKTRMIOS, &lock)`.
func LockSlaveTermios(fd int) error {
	var lock unix.Termios
	b := (*[unsafe.Sizeof(lock)]byte)(unsafe.Pointer(&lock))
	for i := range b {
		b[i] = 0xff
	}
	if err := ioctl.Ioctl(uintptr(fd), unix.TIOCSLCKTRMIOS, uintptr(unsafe.Pointer(&lock))); err != nil {
		return fmt.Errorf("TIOCSLCKTRMIOS: %w", err)
	}
	return nil
}

// OpenPTY opens a fresh /dev/ptmx master, unlocks and numbers its slave,
// returning both ends. Grounded on the teacher's NewConsole/OpenSlave pair,
// generalized to return the slave file directly (REACTIVATE needs both ends
// open simultaneously, unlike the container exec path which hands the slave
// off to a child process).
func OpenPTY() (master, slave *os.File, err error) {
	master, err = os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open /dev/ptmx: %w", err)
	}

	var ptyno uint32
	if err = ioctl.Ioctl(uintptr(master.Fd()), unix.TIOCGPTN, uintptr(unsafe.Pointer(&ptyno))); err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("TIOCGPTN: %w", err)
	}

	var unlock int32
	if err = ioctl.Ioctl(uintptr(master.Fd()), unix.TIOCSPTLCK, uintptr(unsafe.Pointer(&unlock))); err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("TIOCSPTLCK: %w", err)
	}

	slavePath := fmt.Sprintf("/dev/pts/%d", ptyno)
	slave, err = os.OpenFile(slavePath, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("open %s: %w", slavePath, err)
	}
	return master, slave, nil
}

// MakeRaw applies the REACTIVATE prompt termios: raw mode, echo off, ISIG
// on, 38400 baud both directions, matching `cfmakeraw`+the explicit flag
// twiddles in socket_handler's MAGIC_REACTIVATE branch.
func MakeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Lflag &^= unix.ECHO
	t.Lflag |= unix.ISIG
	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.B38400
	t.Cc[unix.VTIME] = 0
	t.Cc[unix.VMIN] = 1
}
