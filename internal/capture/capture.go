// Package capture implements the Capture & Fan-out component (C3): reading
// from the active input device (system console or a reactivated pty) and
// writing a copy to every registered console plus the sanitized log
// sink, buffering instead of writing while a password prompt is in
// flight or a sink is blocked.
//
// Grounded on console.c's epoll_console_in()/epoll_fifo_in(). The
// short writability probe before each console write uses
// github.com/daedaluz/fdev/poll's WaitOutput, matching `can_write(fd, 50)`;
// console.c's window-size sync (ioctl TIOCGWINSZ on the CONSDEV console,
// TIOCSWINSZ on the input device when it changed) is kept as-is.
package capture

import (
	"time"

	"github.com/daedaluz/fdev/poll"
	"golang.org/x/sys/unix"

	"blogd/internal/console"
	"blogd/internal/daemonctx"
	"blogd/internal/eventloop"
	"blogd/internal/iobuf"
	"blogd/internal/logwriter"
	"blogd/logging"
)

const transferBufferSize = iobuf.TransferBufferSize

// writeProbeTimeout matches `can_write(c->fd, 50)`'s 50ms budget.
const writeProbeTimeout = 50 * time.Millisecond

// Fanout owns the temporary buffer and console set used to copy input to
// every console device plus the log sink.
type Fanout struct {
	ctx      *daemonctx.Context
	consoles *console.Set
	log      *logwriter.Writer
	loop     *eventloop.Registry
	temp     *iobuf.Buffer
	lastWZ   unix.Winsize

	// armed tracks which blocked console fds already have a one-shot
	// writable watchdog registered, so a fd already waiting on its
	// watchdog is never handed a second epoll_ctl ADD.
	armed map[int]struct{}
}

// New creates a Fanout over the given console set and log writer. loop may
// be nil (as in tests exercising HandleFifoIn/HandleConsoleIn directly
// against pipes), in which case blocked consoles simply never get a
// watchdog armed and stay blocked until cleared by some other means.
func New(ctx *daemonctx.Context, consoles *console.Set, log *logwriter.Writer, loop *eventloop.Registry) *Fanout {
	return &Fanout{
		ctx:      ctx,
		consoles: consoles,
		log:      log,
		loop:     loop,
		temp:     iobuf.New(iobuf.DefaultCapacity),
		armed:    make(map[int]struct{}),
	}
}

// HandleConsoleIn reads from fd (the active input device) and fans the
// bytes out, matching epoll_console_in() end to end including the
// Design-Notes-flagged ambiguous double fan-out at the end of the handler:
// console.c drains the temporary buffer first (if not currently
// asking/blocked), THEN separately writes the fresh `trans` bytes to every
// console a second time, buffering them again on failure. This is kept
// faithfully rather than "fixed" -- see DESIGN.md Open Questions.
func (f *Fanout) HandleConsoleIn(fd int) error {
	buf := make([]byte, transferBufferSize)
	n, err := unix.Read(fd, buf)
	if err != nil || n <= 0 {
		return err
	}
	data := buf[:n]

	f.syncWinsize(fd)

	f.log.Sanitizer().Parse(data)

	f.checkConsolesWritable()

	if f.ctx.Asking.Load() || f.ctx.AnyBlocked() {
		_ = f.temp.Append(data)
	} else {
		f.drainTemp()
	}
	f.writeToConsoles(data)
	_ = f.log.Flush()
	return nil
}

// HandleFifoIn reads from the named FIFO and copies it straight to the log,
// matching epoll_fifo_in() (no console fan-out, no ANSI sanitization --
// the FIFO carries already-formatted messages from init scripts).
func (f *Fanout) HandleFifoIn(fd int) error {
	buf := make([]byte, transferBufferSize)
	n, err := unix.Read(fd, buf)
	if err != nil || n <= 0 {
		return err
	}
	f.log.Sanitizer().Copy(buf[:n])
	return f.log.Flush()
}

// syncWinsize propagates the CONSDEV console's window size onto the input
// device when it changes, matching the `ioctl(fdc, TIOCGWINSZ, ...)` +
// `ioctl(fd, TIOCSWINSZ, ...)` pair guarded by a memcmp against the last
// seen size.
func (f *Fanout) syncWinsize(fd int) {
	cd := f.consoles.ConsDev()
	if cd == nil || cd.Fd() < 0 {
		return
	}
	var wz unix.Winsize
	if err := getWinsize(cd.Fd(), &wz); err != nil {
		return
	}
	if wz == f.lastWZ {
		return
	}
	f.lastWZ = wz
	_ = setWinsize(fd, &wz)
}

// checkConsolesWritable probes every console with a short writability wait,
// marking unresponsive ones blocked and arming their watchdog, matching the
// `can_write(c->fd, 50)` loop in epoll_console_in.
func (f *Fanout) checkConsolesWritable() {
	for _, c := range f.consoles.Items() {
		if c.Fd() < 0 {
			continue
		}
		if f.ctx.IsBlocked(c.Fd()) {
			break // "let's wait on epoll event", matches the original's early break
		}
		if err := poll.WaitOutput(c.Fd(), writeProbeTimeout); err == nil {
			continue
		}
		f.markBlocked(c)
	}
}

// markBlocked records c as blocked and arms a one-shot writable watchdog on
// its fd, matching spec §4.3 step 3 ("mark it blocked, arm a one-shot
// writable watch"). It is idempotent: a console already blocked (and
// already watched) is left alone.
func (f *Fanout) markBlocked(c *console.Console) {
	if f.ctx.IsBlocked(c.Fd()) {
		return
	}
	f.ctx.MarkBlocked(c.Fd())
	f.log.Sanitizer().Copy([]byte("blogd: console device " + c.Path + " is blocked\n"))
	logging.WithConsole(logging.Default(), c.Path).Warn("console device blocked, arming watchdog")
	f.armWatchdog(c)
}

// armWatchdog registers a one-shot writable watch on c's fd so the blocked
// state clears the moment the sink drains, per spec §8's "cleared when the
// sink's watchdog fires (one-shot writable event)" invariant. Without loop
// (e.g. in tests exercising the handlers directly against pipes), this is a
// no-op and the console stays blocked until cleared by other means.
func (f *Fanout) armWatchdog(c *console.Console) {
	if f.loop == nil {
		return
	}
	fd := c.Fd()
	if _, ok := f.armed[fd]; ok {
		return
	}
	f.armed[fd] = struct{}{}

	err := f.loop.AddWrite(fd, func(fd int) {
		delete(f.armed, fd)
		f.ctx.ClearBlocked(fd)
		_ = f.loop.Delete(fd)
		logging.WithConsole(logging.Default(), c.Path).Info("console device unblocked")
	})
	if err != nil {
		delete(f.armed, fd)
		logging.WithConsole(logging.Default(), c.Path).Warn("arm blocked-sink watchdog failed", "error", err)
	}
}

// drainTemp flushes buffered bytes from a prior asking/blocked period,
// matching the `while (tavail > 0)` loop in epoll_console_in: each sink
// receives at most max_canon bytes per iteration, a tcdrain follows every
// successful write, and the buffer only advances by the minimum amount
// every still-writable sink actually accepted. A sink that fails is marked
// blocked (arming its watchdog) and skipped for the rest of this call.
func (f *Fanout) drainTemp() {
	for !f.temp.Empty() {
		chunk := f.temp.Peek(transferBufferSize)
		minWrote := -1

		for _, c := range f.consoles.Items() {
			if c.Fd() < 0 || f.ctx.IsBlocked(c.Fd()) {
				continue
			}

			max := c.MaxCanon
			if max <= 0 || max > len(chunk) {
				max = len(chunk)
			}

			n, err := writeOnce(c.Fd(), chunk[:max])
			if n < 1 || err != nil {
				f.markBlocked(c)
				continue
			}
			_ = unix.IoctlSetInt(c.Fd(), unix.TCSBRK, 1) // tcdrain

			if minWrote == -1 || n < minWrote {
				minWrote = n
			}
		}

		if minWrote <= 0 {
			return // no writable sink made progress this round
		}
		f.temp.Advance(minWrote)
	}
}

// writeToConsoles performs the second, Design-Notes-flagged fan-out pass:
// the same `data` already parsed above is written again, independently of
// whatever drainTemp() just flushed, and re-buffered on failure exactly as
// console.c's final `list_for_each_entry` loop does.
func (f *Fanout) writeToConsoles(data []byte) {
	for _, c := range f.consoles.Items() {
		if c.Fd() < 0 {
			continue
		}
		n, err := writeChunk(c.Fd(), data, c.MaxCanon)
		if n < 1 || err != nil {
			_ = f.temp.Append(data)
			return
		}
	}
}

// writeOnce performs a single write of at most len(data) bytes (callers cap
// data to a sink's max_canon beforehand) with no retry, used by drainTemp
// so a sink gets exactly one chance per iteration.
func writeOnce(fd int, data []byte) (int, error) {
	n, err := unix.Write(fd, data)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// writeChunk writes all of data to fd, chunked by maxCanon and retrying
// briefly on EAGAIN, used by the second fan-out pass in writeToConsoles.
func writeChunk(fd int, data []byte, maxCanon int) (int, error) {
	if maxCanon <= 0 {
		maxCanon = len(data)
	}
	total := 0
	for total < len(data) {
		end := total + maxCanon
		if end > len(data) {
			end = len(data)
		}
		n, err := unix.Write(fd, data[total:end])
		if err != nil {
			if err == unix.EAGAIN {
				if perr := poll.WaitOutput(fd, writeProbeTimeout); perr == nil {
					continue
				}
			}
			return total, err
		}
		total += n
	}
	return total, nil
}

func getWinsize(fd int, ws *unix.Winsize) error {
	got, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return err
	}
	*ws = *got
	return nil
}

func setWinsize(fd int, ws *unix.Winsize) error {
	return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, ws)
}
