// Package syssignal routes the handful of signals blogd cares about onto
// atomic flags that the main event loop drains once per poll return.
//
// This mirrors console.c's sigio()/chld_handler() one-shot handlers: an
// async-signal-safe handler must never allocate or touch shared Go state
// directly, so the only thing it may do is bump a counter or flip a flag.
// Go's os/signal.Notify already does the async-signal-safe part for us
// (the runtime's signal handler forwards to a channel send), so Flags only
// needs to track the "have we seen one since last checked" semantics that
// the C globals (nsigio, nsigsys, signaled, sigchild) encoded.
package syssignal

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Flags holds the daemon-wide signal state, equivalent to console.c's
// nsigio/nsigsys/signaled/sigchild globals.
type Flags struct {
	// IO is non-zero once SIGIO has been delivered at least once. It mirrors
	// nsigio: -1 means "handler not yet installed", 0 means "installed, no
	// signal seen", and SIGIO (a positive value) means "signal seen, handler
	// now disarmed to SIG_IGN until rearmed".
	IO atomic.Int32
	// Sys is set once SIGSYS is delivered, telling the log writer to pause.
	Sys atomic.Bool
	// Quit is set once SIGTERM/SIGQUIT or the QUIT control command requests
	// shutdown. The main loop checks this after every poll return.
	Quit atomic.Bool
	// Child counts SIGCHLD deliveries. Nothing reads it: the password
	// orchestrator learns of prompter exits from cmd.Wait.
	Child atomic.Int32
}

// NewFlags returns Flags in the console.c startup state: IO armed
// (-1, "not yet installed").
func NewFlags() *Flags {
	f := &Flags{}
	f.IO.Store(-1)
	return f
}

// Router installs os/signal.Notify handlers and republishes them onto Flags.
// It owns the channel and the goroutine draining it; Stop() tears both down.
type Router struct {
	flags *Flags
	ch    chan os.Signal
	done  chan struct{}
}

// NewRouter creates a Router watching the fixed signal set blogd needs:
// SIGIO (log writer readiness), SIGSYS (quiesce request), SIGCHLD
// (prompter exit), SIGTERM/SIGQUIT (shutdown). SIGPIPE is explicitly
// ignored, matching safeout()'s EPIPE-tolerant write path which expects
// never to be killed by a broken pipe.
func NewRouter(flags *Flags) *Router {
	signal.Ignore(syscall.SIGPIPE)

	ch := make(chan os.Signal, 16)
	signal.Notify(ch, syscall.SIGIO, syscall.SIGSYS, syscall.SIGCHLD, syscall.SIGTERM, syscall.SIGQUIT)

	r := &Router{
		flags: flags,
		ch:    ch,
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Router) run() {
	for {
		select {
		case sig, ok := <-r.ch:
			if !ok {
				return
			}
			switch sig {
			case syscall.SIGIO:
				r.flags.IO.Store(int32(syscall.SIGIO))
			case syscall.SIGSYS:
				r.flags.Sys.Store(true)
			case syscall.SIGCHLD:
				r.flags.Child.Add(1)
			case syscall.SIGTERM, syscall.SIGQUIT:
				r.flags.Quit.Store(true)
			}
		case <-r.done:
			return
		}
	}
}

// Stop tears down signal delivery and the draining goroutine.
func (r *Router) Stop() {
	signal.Stop(r.ch)
	close(r.done)
}

// RearmIO resets the IO flag to "installed, no signal seen yet" (0),
// mirroring safeIO()'s `nsigio = 0` before `set_signal(SIGIO, NULL, sigio)`.
func (f *Flags) RearmIO() {
	f.IO.Store(0)
}

// DisarmIO permanently marks SIGIO as handled without a live handler,
// mirroring `set_signal(SIGIO, NULL, SIG_IGN); nsigio = SIGIO`.
func (f *Flags) DisarmIO() {
	f.IO.Store(int32(syscall.SIGIO))
}

// IOState reports the nsigio tri-state: -1 not installed, 0 installed and
// idle, >0 delivered/ignored.
func (f *Flags) IOState() int32 {
	return f.IO.Load()
}
