package password

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"blogd/errors"
)

// Env vars carrying prompter parameters across the self-reexec boundary,
// matching container/exec.go's _RUNC_GO_EXEC_* convention for passing
// exec-time parameters through the environment instead of argv.
const (
	EnvConsolePath = "_BLOGD_PROMPT_CONSOLE"
	EnvPrompt      = "_BLOGD_PROMPT_TEXT"
	EnvEightBit    = "_BLOGD_PROMPT_EIGHTBIT"
	EnvRedBold     = "_BLOGD_PROMPT_REDBOLD"

	// areaFD is the fixed ExtraFiles slot the password area memfd is
	// inherited on; fd 3 is the first fd after stdin/stdout/stderr.
	areaFD = 3
)

// PrompterArgs bundles what the parent passes a prompter subprocess.
type PrompterArgs struct {
	ConsolePath string
	Prompt      string
	EightBit    bool
	RedBold     bool
}

// EnvFor renders args as the environment a prompter subprocess reads back
// via RunPrompter.
func EnvFor(a PrompterArgs) []string {
	return []string{
		EnvConsolePath + "=" + a.ConsolePath,
		EnvPrompt + "=" + a.Prompt,
		EnvEightBit + "=" + boolEnv(a.EightBit),
		EnvRedBold + "=" + boolEnv(a.RedBold),
	}
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func argsFromEnv() PrompterArgs {
	return PrompterArgs{
		ConsolePath: os.Getenv(EnvConsolePath),
		Prompt:      os.Getenv(EnvPrompt),
		EightBit:    os.Getenv(EnvEightBit) == "1",
		RedBold:     os.Getenv(EnvRedBold) == "1",
	}
}

// RunPrompter is the body of the self-reexec'd prompter subprocess,
// invoked by cmd/blogd's hidden "password-prompt" subcommand. It is the
// per-console child half of ask_for_password(): request the console tty,
// setsid, print the prompt, read the password in raw-minus-echo mode, and
// stash the (frobnicated) result into the inherited shared Area.
//
// Unlike the original's fork() child, this process does not inherit the
// parent's open console fd -- Go subprocesses only inherit what is
// explicitly passed via cmd.ExtraFiles/Stdin/Stdout/Stderr, and a tty fd
// opened before a setsid() in the parent would not become this process's
// controlling terminal anyway. So this child opens the console path
// itself, the same way the original's request_tty() reopens
// /proc/self/fd/N after setsid() to pick up a fresh controlling tty.
func RunPrompter() error {
	args := argsFromEnv()

	area, err := OpenArea(areaFD)
	if err != nil {
		return err
	}
	defer area.Close()

	if _, err := unix.Setsid(); err != nil {
		// Already a session leader (e.g. re-run under a debugger); not fatal.
		_ = err
	}

	fd, err := unix.Open(args.ConsolePath, unix.O_RDWR, 0)
	if err != nil {
		return errors.WrapWithConsole(err, errors.ErrConsole, "open prompter console", args.ConsolePath)
	}
	defer unix.Close(fd)

	if err := unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0); err != nil {
		// Not fatal: some consoles (serial, already-controlling) reject this.
		_ = err
	}

	// PR_SET_PDEATHSIG, matching the original's child setup so an orphaned
	// prompter doesn't outlive a killed daemon.
	_ = unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGTERM), 0, 0, 0)

	// Save/restore via golang.org/x/term, matching container/exec.go's
	// execWithPTY save/restore idiom -- term.MakeRaw itself is not used to
	// enter the prompt mode since it clears ICANON, which readpw()'s
	// erase/kill line editing depends on; only the save/restore half fits.
	state, err := term.GetState(fd)
	if err != nil {
		return errors.WrapWithConsole(err, errors.ErrConsole, "get termios", args.ConsolePath)
	}
	defer term.Restore(fd, state)

	orig, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return errors.WrapWithConsole(err, errors.ErrConsole, "get termios", args.ConsolePath)
	}
	raw := *orig
	makeRawEchoNL(&raw)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return errors.WrapWithConsole(err, errors.ErrConsole, "set raw termios", args.ConsolePath)
	}

	prompt := formatPrompt(args.Prompt, args.RedBold)
	if _, err := unix.Write(fd, []byte(prompt)); err != nil {
		return errors.WrapWithConsole(err, errors.ErrConsole, "write prompt", args.ConsolePath)
	}

	cc := ControlChars{
		Erase: orig.Cc[unix.VERASE],
		Kill:  orig.Cc[unix.VKILL],
		EOF:   orig.Cc[unix.VEOF],
	}
	pw, err := ReadPassword(fd, cc, args.EightBit)
	_, _ = unix.Write(fd, []byte("\r\n"))
	if err != nil {
		return err
	}

	if err := area.Set(pw); err != nil {
		return err
	}
	area.Frobnicate()
	return nil
}

// formatPrompt trims the trailing whitespace/colon the original strips
// before re-appending its own ": " (trim_prompt() in ask_for_password()),
// and wraps it in a bold-red escape when redBold is set. buildPrompter sets
// redBold for every console except the CONSDEV one; serial and 3270
// consoles are not told apart from others.
func formatPrompt(prompt string, redBold bool) string {
	p := strings.TrimRight(prompt, " \t:")
	if redBold {
		return fmt.Sprintf("\x1b[1;31m%s:\x1b[0m ", p)
	}
	return p + ": "
}

// makeRawEchoNL sets raw-mode-minus-echo-plus-ECHONL, matching the
// termios fiddling ask_for_password() does before reading a password:
// canonical input stays on (so erase/kill still work, per readpw()), but
// ECHO is cleared and ECHONL is set so only the terminating newline
// echoes, never the password bytes.
func makeRawEchoNL(t *unix.Termios) {
	t.Lflag &^= unix.ECHO
	t.Lflag |= unix.ECHONL | unix.ICANON
	t.Lflag &^= unix.ISIG
}
