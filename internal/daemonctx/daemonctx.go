// Package daemonctx holds the single mutable daemon state struct that
// replaces console.c's file-scope globals (cons, flog, fdread, fdfifo,
// fdsock, asking, final, blocked, _arg0, password/pwsize/pwprompt).
//
// Design Notes calls for collapsing the C-style global variables into one
// context value threaded through every component, with the single
// exception of the signal-handler-writable flags, which stay on
// syssignal.Flags because a Go signal handler (really: the goroutine
// draining os/signal.Notify) must never race with a concurrent field
// write on a value also touched by the main loop without synchronization.
package daemonctx

import (
	"sync"
	"sync/atomic"

	"blogd/internal/syssignal"
)

// Config holds the compile-time-default, flag-overridable daemon settings.
type Config struct {
	SocketPath string
	FifoPath   string
	LogPath    string
	OldLogPath string
	Debug      bool
}

// Context is the daemon's single mutable state value.
type Context struct {
	Config Config
	Flags  *syssignal.Flags

	// Asking is true while a password prompt is in flight, mirroring the
	// volatile sig_atomic_t `asking` global -- console fan-out buffers
	// output instead of writing it while this is set.
	Asking atomic.Bool

	// Final is true once MAGIC_FINAL has latched the log rotation,
	// mirroring `int final`. Surfaced via slog attributes instead of the
	// `_arg0[0] = '@'` argv-rewrite trick (see DESIGN.md).
	Final atomic.Bool

	// blockedMu guards the set of console fds currently blocked on write
	// (FD_BUSY(&blocked) in the original's fd_set).
	blockedMu sync.Mutex
	blocked   map[int]struct{}
}

// New builds a Context from cfg, ready for use by every component.
func New(cfg Config, flags *syssignal.Flags) *Context {
	return &Context{
		Config:  cfg,
		Flags:   flags,
		blocked: make(map[int]struct{}),
	}
}

// MarkBlocked records fd as write-blocked, matching `FD_SET(fd, &blocked)`.
func (c *Context) MarkBlocked(fd int) {
	c.blockedMu.Lock()
	defer c.blockedMu.Unlock()
	c.blocked[fd] = struct{}{}
}

// ClearBlocked removes fd from the blocked set, matching
// `FD_CLR(fd, &blocked)` in epoll_write_watchdog.
func (c *Context) ClearBlocked(fd int) {
	c.blockedMu.Lock()
	defer c.blockedMu.Unlock()
	delete(c.blocked, fd)
}

// IsBlocked reports whether fd is currently write-blocked.
func (c *Context) IsBlocked(fd int) bool {
	c.blockedMu.Lock()
	defer c.blockedMu.Unlock()
	_, ok := c.blocked[fd]
	return ok
}

// AnyBlocked reports whether any console fd is write-blocked, matching
// `FD_BUSY(&blocked)`.
func (c *Context) AnyBlocked() bool {
	c.blockedMu.Lock()
	defer c.blockedMu.Unlock()
	return len(c.blocked) > 0
}
