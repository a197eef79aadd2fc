// Command blogd is the boot-time console logging daemon: it captures
// kernel/init console output, fans it out to every registered console
// plus a sanitized boot log, and serves a small control protocol for
// init scripts to drive chroot/quit/final/deactivate/reactivate/password
// operations.
//
// Grounded on the teacher's cmd/root.go cobra pattern (PersistentFlags +
// PersistentPreRunE) and console.c's main()/prepareIO()/safeIO() loop.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"blogd/internal/capture"
	"blogd/internal/console"
	"blogd/internal/control"
	"blogd/internal/daemonctx"
	"blogd/internal/eventloop"
	"blogd/internal/logwriter"
	"blogd/internal/password"
	"blogd/internal/syssignal"
	"blogd/logging"
)

// Version information set at build time, matching the teacher's
// cmd/root.go Version/BuildTime pattern.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Flags, matching SPEC_FULL.md §6: overridable defaults for socket, fifo
// and log paths plus debug logging -- flags and environment only, never a
// config file.
var (
	socketPath string
	fifoPath   string
	logPath    string
	oldLogPath string
	debug      bool
)

// pollTimeout bounds how long one event-loop iteration waits before
// re-checking the log writer's readiness, matching the retry cadence
// safeIO() uses between statfs checks.
const pollTimeout = 2 * time.Second

var rootCmd = &cobra.Command{
	Use:   "blogd",
	Short: "boot-time console logging daemon",
	Long: `blogd captures console output during early boot, fans it out to
every registered console device, and persists a sanitized copy to
/var/log/boot.log once the filesystem is ready.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return runDaemon()
	},
}

// passwordPromptCmd is the hidden self-reexec subcommand the password
// orchestrator spawns one-per-console, grounded on container/exec.go's
// self-reexec shape (os.Executable()+exec.Command(self, subcommand)).
var passwordPromptCmd = &cobra.Command{
	Use:    "password-prompt",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return password.RunPrompter()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/blogd.sock", "control socket path")
	rootCmd.PersistentFlags().StringVar(&fifoPath, "fifo", "/dev/initctl.fifo", "FIFO path for log-only input")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "/var/log/boot.log", "boot log path")
	rootCmd.PersistentFlags().StringVar(&oldLogPath, "old-log", "/var/log/boot.old", "rotated boot log path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(passwordPromptCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("blogd %s (built %s)\n", Version, BuildTime)
		return nil
	},
}

func setupLogging() {
	level := logging.ParseLevel("info")
	if debug {
		level = logging.ParseLevel("debug")
	}
	logging.SetDefault(logging.NewLogger(logging.Config{
		Level:  level,
		Format: "text",
		Output: os.Stderr,
	}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Error("blogd exited with error", "error", err)
		os.Exit(1)
	}
}

// runDaemon wires every component together and runs the main event loop,
// the Go counterpart of console.c's main()+prepareIO()+safeIO() sequence.
func runDaemon() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		logging.Warn("mlockall failed, continuing without memory locking", "error", err)
	}

	flags := syssignal.NewFlags()
	router := syssignal.NewRouter(flags)
	defer router.Stop()

	cfg := daemonctx.Config{
		SocketPath: socketPath,
		FifoPath:   fifoPath,
		LogPath:    logPath,
		OldLogPath: oldLogPath,
		Debug:      debug,
	}
	ctx := daemonctx.New(cfg, flags)

	consoles, err := console.NewSet()
	if err != nil {
		return fmt.Errorf("blogd: open consoles: %w", err)
	}
	defer consoles.Close()

	log := logwriter.New(cfg.LogPath, cfg.OldLogPath)
	defer log.Close()

	loop, err := eventloop.New()
	if err != nil {
		return fmt.Errorf("blogd: create event loop: %w", err)
	}
	defer loop.Close()

	fanout := capture.New(ctx, consoles, log, loop)

	captureFD, err := registerCapture(loop, consoles, fanout)
	if err != nil {
		return err
	}

	if err := registerFifo(loop, cfg.FifoPath, fanout); err != nil {
		logging.Warn("fifo registration failed, log-only input unavailable", "error", err)
	}

	if wakeFD, err := registerLogFSWake(loop, log, flags); err != nil {
		logging.Warn("log readiness fast-wake registration failed", "error", err)
	} else if wakeFD >= 0 {
		defer unix.Close(wakeFD)
	}

	handler := control.NewHandler(ctx, loop, consoles, log, fanout, captureFD)
	server, err := control.NewServer(cfg.SocketPath, loop, handler)
	if err != nil {
		return fmt.Errorf("blogd: start control server: %w", err)
	}
	defer server.Close()

	logging.Info("blogd started", "socket", cfg.SocketPath, "log", cfg.LogPath)

	for !flags.Quit.Load() {
		drainSignals(flags, log)

		if _, err := loop.Poll(pollTimeout, flags); err != nil {
			logging.Warn("event loop poll failed", "error", err)
		}
	}

	logging.Info("blogd shutting down")
	shutdown(consoles, log, loop)
	return nil
}

// registerCapture opens the CONSDEV console for reading and registers it
// as the initial capture input, matching consinitIO()'s default (before
// any REACTIVATE) of reading straight off the system console.
func registerCapture(loop *eventloop.Registry, consoles *console.Set, fanout *capture.Fanout) (int, error) {
	cd := consoles.ConsDev()
	if cd == nil {
		return -1, fmt.Errorf("blogd: no CONSDEV console found")
	}
	fd, err := unix.Open(cd.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_NOCTTY, 0)
	if err != nil {
		return -1, fmt.Errorf("blogd: open capture device %s: %w", cd.Path, err)
	}
	if err := loop.AddRead(fd, func(fd int) {
		if err := fanout.HandleConsoleIn(fd); err != nil {
			logging.Warn("capture read failed", "error", err)
		}
	}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("blogd: register capture device: %w", err)
	}
	return fd, nil
}

// registerFifo creates (if missing) and opens the log-only FIFO, matching
// prepareIO()'s `mkfifo` on ENOENT.
func registerFifo(loop *eventloop.Registry, path string, fanout *capture.Fanout) error {
	if path == "" {
		return nil
	}
	if err := unix.Mkfifo(path, 0600); err != nil && err != unix.EEXIST {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return loop.AddRead(fd, func(fd int) {
		if err := fanout.HandleFifoIn(fd); err != nil {
			logging.Warn("fifo read failed", "error", err)
		}
	})
}

// registerLogFSWake wires log's fsnotify channel into the event loop so a
// late /var mount actually shortens the next retry instead of waiting out
// pollTimeout, per DESIGN.md's C5 entry: an eventfd is registered for read
// readiness, and a goroutine draining log.FSEvents() bumps it on every
// filesystem event. The bump makes epoll_pwait return immediately, and the
// handler retries log.Open right there -- the statfs/lstat check in Open
// remains the source of truth, this only wakes the loop early. Returns -1
// and a nil error if the log writer has no fsnotify watcher (e.g. it
// failed to start one), in which case there is nothing to wire.
func registerLogFSWake(loop *eventloop.Registry, log *logwriter.Writer, flags *syssignal.Flags) (int, error) {
	events := log.FSEvents()
	if events == nil {
		return -1, nil
	}

	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("create fs-wake eventfd: %w", err)
	}

	if err := loop.AddRead(fd, func(fd int) {
		var drain [8]byte
		_, _ = unix.Read(fd, drain[:])
		if !log.Paused() {
			if err := log.Open(log.Final()); err == nil {
				flags.DisarmIO()
			}
		}
	}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("register fs-wake eventfd: %w", err)
	}

	go func() {
		bump := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
		for range events {
			_, _ = unix.Write(fd, bump[:])
		}
	}()

	return fd, nil
}

// drainSignals applies the per-iteration effects of signals seen since the
// last poll, matching safeIO()'s top-of-loop nsigio/nsigsys checks.
func drainSignals(flags *syssignal.Flags, log *logwriter.Writer) {
	if flags.IOState() == int32(unix.SIGIO) {
		if err := log.Open(log.Final()); err == nil {
			flags.DisarmIO()
			if log.TakeAtBoot() {
				logging.Info("log writer opened", "final", log.Final())
			}
		}
	}
	if flags.Sys.Load() && !log.Paused() {
		log.Pause()
	}
}

// shutdown drains every console (tcdrain) and runs a short grace window
// to absorb late input, matching closeIO()'s "3s or 20 idle cycles,
// whichever first" drain loop.
func shutdown(consoles *console.Set, log *logwriter.Writer, loop *eventloop.Registry) {
	consoles.Drain()

	const (
		maxIdleCycles = 20
		maxDrainTime  = 3 * time.Second
		cycleTimeout  = 150 * time.Millisecond
	)
	deadline := time.Now().Add(maxDrainTime)
	idle := 0
	for idle < maxIdleCycles && time.Now().Before(deadline) {
		fired, err := loop.Poll(cycleTimeout, nil)
		if err != nil || !fired {
			idle++
			continue
		}
		idle = 0
	}
	_ = log.Flush()
}
