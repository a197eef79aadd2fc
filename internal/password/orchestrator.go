package password

import (
	"context"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"blogd/errors"
	"blogd/internal/console"
	"blogd/internal/daemonctx"
	"blogd/logging"
)

// klogConsoleOff/klogConsoleOn are the klogctl(2) SYSLOG_ACTION_CONSOLE_OFF
// / SYSLOG_ACTION_CONSOLE_ON action codes, matching the
// `klogctl(SYSLOG_ACTION_CONSOLE_OFF, ...)` / `..._ON` bracket
// ask_for_password() wraps the asking window in, so kernel log spam
// doesn't interleave with the password prompt.
const (
	klogConsoleOff = 6
	klogConsoleOn  = 7
)

// waitPoll is not referenced: waitFirst does not poll, it blocks on the
// prompters' cmd.Wait results and on the Timeout deadline.
const waitPoll = 50 * time.Millisecond

// Orchestrator runs the password prompt across every console and collects
// the first answer, matching ask_for_password()'s fork-one-child-per-
// console-then-take-the-first-winner behavior.
type Orchestrator struct {
	ctx      *daemonctx.Context
	consoles *console.Set
	area     *Area
	// Timeout bounds how long to wait for any console to answer before
	// giving up (5 minutes as set by New); console.c's ask_for_password()
	// has no such limit.
	Timeout time.Duration
}

// New creates an Orchestrator. area is created lazily by AskForPassword if
// nil is passed here.
func New(ctx *daemonctx.Context, consoles *console.Set, area *Area) *Orchestrator {
	return &Orchestrator{ctx: ctx, consoles: consoles, area: area, Timeout: 5 * time.Minute}
}

type prompterResult struct {
	console *console.Console
	err     error
}

// AskForPassword presents prompt on every open console simultaneously,
// returning the first successfully entered password. It matches
// ask_for_password() end to end: set asking=1 and klogctl CONSOLE_OFF
// before spawning, spawn one prompter per console, take the first
// completion, SIGTERM the rest, klogctl CONSOLE_ON and asking=0 after.
func (o *Orchestrator) AskForPassword(prompt string, eightbit bool) ([]byte, error) {
	if o.area == nil {
		a, err := NewArea()
		if err != nil {
			return nil, err
		}
		o.area = a
	}

	items := o.consoles.Items()
	if len(items) == 0 {
		return nil, errors.ErrNoConsoles
	}

	o.ctx.Asking.Store(true)
	_, _, _ = unix.Syscall(unix.SYS_SYSLOG, uintptr(klogConsoleOff), 0, 0)
	defer func() {
		_, _, _ = unix.Syscall(unix.SYS_SYSLOG, uintptr(klogConsoleOn), 0, 0)
		o.ctx.Asking.Store(false)
	}()

	self, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "resolve self executable")
	}

	cmds := make([]*exec.Cmd, 0, len(items))
	results := make(chan prompterResult, len(items))

	for _, c := range items {
		if c.Fd() < 0 {
			continue
		}
		cmd := o.buildPrompter(self, c, prompt, eightbit)
		if err := cmd.Start(); err != nil {
			logging.WithConsole(logging.Default(), c.Path).Warn("prompter start failed", "error", err)
			continue
		}
		c.PID = cmd.Process.Pid
		cmds = append(cmds, cmd)

		go func(cmd *exec.Cmd, c *console.Console) {
			results <- prompterResult{console: c, err: cmd.Wait()}
		}(cmd, c)
	}

	if len(cmds) == 0 {
		return nil, errors.New(errors.ErrInternal, "ask password", "no prompter could be started")
	}

	winner, seen, waitErr := o.waitFirst(cmds, results, len(cmds))
	o.killLosers(cmds, winner)
	o.drainLosers(results, len(cmds)-seen)

	for _, c := range items {
		c.PID = -1
	}

	if waitErr != nil {
		return nil, waitErr
	}

	// The prompter leaves the area frobnicated; undo that on the copy so
	// the caller gets the bytes that were typed.
	pw := o.area.Get()
	for i := range pw {
		pw[i] ^= frobKey[i%len(frobKey)]
	}
	return pw, nil
}

// buildPrompter constructs the self-reexec command for one console,
// passing the shared Area's memfd as the first extra file (fd 3) and the
// prompter's parameters via environment, matching container/exec.go's
// self-reexec shape (os.Executable()+exec.Command(self, subcommand),
// params passed by environment) -- not its nsenter namespace-joining
// logic, which has no analogue for a console password prompt.
func (o *Orchestrator) buildPrompter(self string, c *console.Console, prompt string, eightbit bool) *exec.Cmd {
	cmd := exec.Command(self, "password-prompt")
	cmd.Env = append(os.Environ(), EnvFor(PrompterArgs{
		ConsolePath: c.Path,
		Prompt:      prompt,
		EightBit:    eightbit,
		RedBold:     !c.IsConsDev(),
	})...)
	cmd.ExtraFiles = []*os.File{o.area.File()}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr
	return cmd
}

// waitFirst blocks until one prompter finishes successfully (or all of
// them finish unsuccessfully, or Timeout elapses), matching the
// waitid(P_ALL, WEXITED)-then-check-the-winner loop.
func (o *Orchestrator) waitFirst(cmds []*exec.Cmd, results chan prompterResult, n int) (*exec.Cmd, int, error) {
	deadline := time.After(o.Timeout)
	var lastErr error
	seen := 0
	for seen < n {
		select {
		case r := <-results:
			seen++
			if r.err == nil {
				for _, cmd := range cmds {
					if cmd.Process != nil && cmd.Process.Pid == r.console.PID {
						return cmd, seen, nil
					}
				}
			}
			lastErr = r.err
		case <-deadline:
			return nil, seen, errors.ErrPasswordTimeout
		}
	}
	if lastErr == nil {
		lastErr = errors.ErrPasswordCancelled
	}
	return nil, seen, lastErr
}

// killLosers SIGTERMs every prompter other than winner, matching the
// `kill(pid, SIGTERM)` sweep ask_for_password() does once an answer wins.
func (o *Orchestrator) killLosers(cmds []*exec.Cmd, winner *exec.Cmd) {
	for _, cmd := range cmds {
		if cmd == winner || cmd.Process == nil {
			continue
		}
		_ = cmd.Process.Signal(unix.SIGTERM)
	}
}

// drainLosers reaps the remaining n prompter exits so none are left as
// zombies, matching the sigtimedwait(SIGCHLD)-draining loop at the end of
// ask_for_password().
func (o *Orchestrator) drainLosers(results chan prompterResult, n int) {
	if n <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		select {
		case <-results:
		case <-ctx.Done():
			return
		}
	}
}
