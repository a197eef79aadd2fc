package control

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"blogd/errors"
	"blogd/internal/capture"
	"blogd/internal/console"
	"blogd/internal/daemonctx"
	"blogd/internal/eventloop"
	"blogd/internal/logwriter"
	"blogd/internal/password"
	"blogd/internal/termbuf"
	"blogd/logging"
)

// chrootRetries/chrootRetryDelay match CHROOT's "retry chdir up to 20x
// with 50ms spacing".
const (
	chrootRetries    = 20
	chrootRetryDelay = 50 * time.Millisecond
)

// Handler dispatches decoded command Frames to their effects (C7),
// grounded on console.c's process_magic()/socket_handler() switch. It owns
// the mutable capture-activation state (the active input fd and, when
// REACTIVATE has opened a pty, its master/slave) because every Frame is
// handled on the single event-loop goroutine -- no locking needed, same
// as the original's single-threaded epoll_wait loop.
type Handler struct {
	ctx      *daemonctx.Context
	loop     *eventloop.Registry
	consoles *console.Set
	log      *logwriter.Writer
	fanout   *capture.Fanout

	captureFD int
	ptyMaster *os.File
	ptySlave  *os.File

	cached      []byte
	cachedValid bool
}

// NewHandler builds a Handler. captureFD is the currently-registered input
// device fd (the system console, or a pty master after REACTIVATE).
func NewHandler(ctx *daemonctx.Context, loop *eventloop.Registry, consoles *console.Set, log *logwriter.Writer, fanout *capture.Fanout, captureFD int) *Handler {
	return &Handler{ctx: ctx, loop: loop, consoles: consoles, log: log, fanout: fanout, captureFD: captureFD}
}

// Dispatch handles one decoded Frame over conn (already SO_PEERCRED
// validated by the server), matching C7's command table. It returns
// normally once a synchronous reply has been written; ASK_PWD instead
// arms conn for one-shot writable and replies later from that callback.
func (h *Handler) Dispatch(connFD int, f Frame) error {
	switch f.Magic {
	case MagicChroot:
		return h.handleChroot(connFD, f.Arg)
	case MagicPing:
		return WriteACK(fdWriter{connFD})
	case MagicSysInit:
		h.ctx.Flags.DisarmIO()
		return WriteACK(fdWriter{connFD})
	case MagicQuit:
		h.ctx.Flags.Quit.Store(true)
		return WriteACK(fdWriter{connFD})
	case MagicFinal:
		h.ctx.Final.Store(true)
		h.log.SetFinal()
		return WriteACK(fdWriter{connFD})
	case MagicClose:
		h.ctx.Flags.Sys.Store(true)
		h.log.Pause()
		return WriteACK(fdWriter{connFD})
	case MagicDeactivate:
		h.handleDeactivate()
		return WriteACK(fdWriter{connFD})
	case MagicReactivate:
		if err := h.handleReactivate(); err != nil {
			logging.Warn("reactivate failed", "error", err)
			return WriteNAK(fdWriter{connFD})
		}
		return WriteACK(fdWriter{connFD})
	case MagicAskPwd:
		return h.handleAskPwd(connFD, string(f.Arg))
	case MagicCachedPwd:
		return h.handleCachedPwd(connFD)
	default:
		// Legacy no-op magics and anything unrecognized: ACK, no effect.
		return WriteACK(fdWriter{connFD})
	}
}

// handleChroot matches MAGIC_CHROOT's `root=` handler: retry chdir(path)
// tolerating ENOENT/EIO, then chroot(".") + chdir("/").
func (h *Handler) handleChroot(connFD int, arg []byte) error {
	path := string(arg)
	var lastErr error
	for i := 0; i < chrootRetries; i++ {
		lastErr = unix.Chdir(path)
		if lastErr == nil {
			break
		}
		if lastErr != unix.ENOENT && lastErr != unix.EIO {
			break
		}
		time.Sleep(chrootRetryDelay)
	}
	if lastErr != nil {
		logging.WithOperation(logging.WithPath(logging.Default(), path), "chroot").
			Warn("chroot chdir failed", "error", lastErr)
		return WriteNAK(fdWriter{connFD})
	}
	if err := unix.Chroot("."); err != nil {
		logging.WithOperation(logging.Default(), "chroot").Warn("chroot failed", "error", err)
		return WriteNAK(fdWriter{connFD})
	}
	if err := unix.Chdir("/"); err != nil {
		logging.Warn("post-chroot chdir failed", "error", err)
	}
	return WriteACK(fdWriter{connFD})
}

// handleDeactivate matches MAGIC_DEACTIVATE: unregister the capture fd,
// clear TIOCCONS on CONSDEV, close the capture device, and dup CONSDEV's
// fd over stdin/stdout/stderr so shells regain direct console access.
func (h *Handler) handleDeactivate() {
	if h.captureFD < 0 {
		return
	}
	h.loop.Delete(h.captureFD)

	cd := h.consoles.ConsDev()
	if cd != nil && cd.Fd() >= 0 {
		// TIOCCONS toggles: arming it again on the device that is already
		// the kernel console releases that claim, matching "clear TIOCCONS
		// on CONSDEV".
		if err := termbuf.SetConsole(cd.Fd()); err != nil {
			logging.Warn("clear TIOCCONS failed", "error", err)
		}
		for _, target := range []int{unix.Stdin, unix.Stdout, unix.Stderr} {
			_ = unix.Dup2(cd.Fd(), target)
		}
	}

	h.closeCapture()
	h.captureFD = -1
}

// handleReactivate matches MAGIC_REACTIVATE: open a fresh pty inheriting
// CONSDEV's termios (raw, no-echo, 38400 baud) and winsize, lock the
// slave's termios, arm TIOCCONS on the slave, dup master onto stdin and
// slave onto stdout/stderr, and register the master as the new capture
// input.
func (h *Handler) handleReactivate() error {
	if h.captureFD >= 0 {
		return nil // already active, matches "if capture is inactive"
	}

	cd := h.consoles.ConsDev()
	if cd == nil || cd.Fd() < 0 {
		return errors.ErrConsoleUnavailable
	}

	master, slave, err := termbuf.OpenPTY()
	if err != nil {
		return errors.Wrap(err, errors.ErrConsole, "open reactivate pty")
	}

	t, err := termbuf.GetTermios(cd.Fd())
	if err != nil {
		master.Close()
		slave.Close()
		return errors.Wrap(err, errors.ErrConsole, "snapshot consdev termios")
	}
	raw := *t
	termbuf.MakeRaw(&raw)
	if err := termbuf.SetTermios(int(slave.Fd()), &raw); err != nil {
		master.Close()
		slave.Close()
		return errors.Wrap(err, errors.ErrConsole, "set pty slave termios")
	}

	if ws, err := termbuf.GetWinsize(cd.Fd()); err == nil {
		_ = termbuf.SetWinsize(int(slave.Fd()), ws)
	}

	if err := termbuf.LockSlaveTermios(int(slave.Fd())); err != nil {
		logging.Warn("lock slave termios failed", "error", err)
	}
	if err := termbuf.SetConsole(int(slave.Fd())); err != nil {
		logging.Warn("TIOCCONS on pty slave failed", "error", err)
	}

	_ = unix.Dup2(int(master.Fd()), unix.Stdin)
	_ = unix.Dup2(int(slave.Fd()), unix.Stdout)
	_ = unix.Dup2(int(slave.Fd()), unix.Stderr)

	h.ptyMaster = master
	h.ptySlave = slave
	h.captureFD = int(master.Fd())
	return h.loop.AddRead(h.captureFD, func(fd int) {
		if err := h.fanout.HandleConsoleIn(fd); err != nil {
			logging.Warn("capture read failed", "error", err)
		}
	})
}

func (h *Handler) closeCapture() {
	if h.ptyMaster != nil {
		_ = h.ptyMaster.Close()
		h.ptyMaster = nil
	}
	if h.ptySlave != nil {
		_ = h.ptySlave.Close()
		h.ptySlave = nil
	}
}

// handleAskPwd matches MAGIC_ASK_PWD: stash the prompt and defer the
// reply until conn becomes writable, at which point C8 runs and the
// answer (or ENQ if none came) is written back.
func (h *Handler) handleAskPwd(connFD int, prompt string) error {
	orch := password.New(h.ctx, h.consoles, nil)
	return h.loop.AnswerOnce(connFD, func(fd int) {
		defer func() {
			h.loop.Delete(fd)
			unix.Close(fd)
		}()

		pw, err := orch.AskForPassword(prompt, false)
		if err != nil {
			logging.Warn("password prompt failed", "error", err)
			_ = WriteENQ(fdWriter{fd})
			return
		}
		h.cached = pw
		h.cachedValid = true
		_ = WriteMLT(fdWriter{fd}, pw)
	})
}

// handleCachedPwd matches MAGIC_CACHED_PWD: an immediate ENQ-or-MLT reply,
// no prompting.
func (h *Handler) handleCachedPwd(connFD int) error {
	if !h.cachedValid {
		return WriteENQ(fdWriter{connFD})
	}
	return WriteMLT(fdWriter{connFD}, h.cached)
}

// fdWriter adapts a raw fd to io.Writer for the framing helpers.
type fdWriter struct{ fd int }

func (w fdWriter) Write(p []byte) (int, error) {
	n, err := unix.Write(w.fd, p)
	if err != nil {
		return n, fmt.Errorf("write fd %d: %w", w.fd, err)
	}
	return n, nil
}
