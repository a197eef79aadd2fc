// Package logwriter implements the Log Writer (C5): deferred-open boot
// log persistence gated on SIGIO and filesystem readiness, with SIGSYS
// pausing writes entirely.
//
// Grounded on console.c's safeIO()/closeIO(), which refuse to open
// BOOT_LOGFILE until /var/log resolves to a real, writable, non-tmpfs
// directory (checked via lstat for the initrd symlink convention and
// statfs for the tmpfs/ramfs/squashfs/cramfs magic numbers), and which
// treat SIGSYS as "stop writing to disk, keep repeating in memory only."
package logwriter

import (
	goerrors "errors"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"blogd/errors"
	"blogd/internal/parser"
)

// Filesystem magic numbers that mark a mount as unsuitable for durable
// logging, matching the `switch (fst.f_type)` in safeIO().
const (
	magicTmpfs    = 0x01021994
	magicRamfs    = 0x858458f6
	magicSquashfs = 0x73717368
	magicCramfs   = 0x28cd3d45
	magicCramfsWend = 0x453dcd28
)

// Writer owns the deferred-open boot log file and its rotation state.
type Writer struct {
	logPath    string
	oldLogPath string

	mu      sync.Mutex
	file    *os.File
	final   bool
	atBoot  bool
	paused  bool
	sink    *parser.Sanitizer
	watcher *fsnotify.Watcher
}

// New creates a Writer for logPath (default /var/log/boot.log), rotating to
// oldLogPath (default /var/log/boot.old) on FINAL.
func New(logPath, oldLogPath string) *Writer {
	w := &Writer{
		logPath:    logPath,
		oldLogPath: oldLogPath,
		atBoot:     true,
		sink:       parser.NewSanitizer(),
	}
	// Best-effort: watch /var/log's parent so a late mount shortens the
	// next retry instead of waiting for the full poll timeout. Never
	// required for correctness -- the statfs/lstat check below remains
	// the source of truth.
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		w.watcher = watcher
		_ = watcher.Add("/var")
	}
	return w
}

// Sanitizer returns the writer's pending-text accumulator, used by capture
// to feed console/FIFO bytes in before they're flushed to disk.
func (w *Writer) Sanitizer() *parser.Sanitizer {
	return w.sink
}

// Ready reports whether /var/log currently looks like a real, writable,
// durable filesystem -- the lstat+statfs check from safeIO(), pulled out as
// its own predicate so the daemon's main loop can call it on every SIGIO as
// well as opportunistically when fsnotify wakes it early.
func Ready(path string) bool {
	st, err := os.Lstat(path)
	if err != nil {
		return false // ENOENT: not yet created, e.g. still in initrd
	}
	if st.Mode()&os.ModeSymlink != 0 {
		return false // initrd convention: /var/log -> ../run/log
	}

	var fst unix.Statfs_t
	if err := unix.Statfs(path, &fst); err != nil {
		return false
	}
	switch int64(fst.Type) {
	case magicTmpfs, magicRamfs, magicSquashfs, magicCramfs, magicCramfsWend:
		return false
	}
	return true
}

// Open attempts to open the log file if it is not already open, applying
// the FINAL rotation (current log -> .old) first when final is passed and
// not yet latched; once latched, it opens the .old path directly. Returns
// ErrLogNotReady (non-fatal, retry later) or ErrLogOpenFailed for a real
// failure.
func (w *Writer) Open(final bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return nil
	}

	dir := "/var/log"
	if !Ready(dir) {
		w.atBoot = true
		return errors.ErrLogNotReady
	}

	target := w.logPath
	if final && !w.final {
		if err := w.rotate(); err != nil {
			return err
		}
		w.final = true
		target = w.oldLogPath
	} else if w.final {
		target = w.oldLogPath
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.ErrLogNotReady
		}
		return errors.WrapWithDetail(err, errors.ErrLog, "open", target)
	}
	w.file = f
	return nil
}

// rotate renames the current boot log to its .old counterpart, guarded by
// an flock so a concurrent reader (e.g. `tail -f boot.log`) never observes
// a half-renamed file. EACCES/EROFS/EPERM are tolerated silently, matching
// safeIO()'s FINAL branch; ENOENT (nothing to rotate yet) is also ignored.
func (w *Writer) rotate() error {
	lock := flock.New(w.logPath + ".lock")
	locked, err := lock.TryLock()
	if err == nil && locked {
		defer lock.Unlock()
	}

	_ = os.Remove(w.oldLogPath)
	if err := os.Rename(w.logPath, w.oldLogPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if isTolerable(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrLogRotateFailed.Kind, "rename boot.log")
	}
	return nil
}

func isTolerable(err error) bool {
	return os.IsPermission(err) ||
		goerrors.Is(err, unix.EROFS) ||
		goerrors.Is(err, unix.EPERM)
}

// SetFinal latches FINAL, for the control command handler. When the log
// file is already open, the current boot log is renamed to its .old
// counterpart right away; the open descriptor follows the rename, so later
// writes land in the .old file. When the file is not open yet, only the
// latch is set: the next Open writes to the .old path without renaming the
// existing boot log. A second call does nothing.
func (w *Writer) SetFinal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.final {
		return
	}
	if w.file != nil {
		_ = w.rotate()
	}
	w.final = true
}

// Final reports whether FINAL has latched.
func (w *Writer) Final() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.final
}

// Pause closes the underlying file and marks the writer as quiesced,
// matching safeIO()'s SIGSYS branch (`stop_logging(); flog =
// close_logging()`).
func (w *Writer) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = true
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
}

// Paused reports whether the writer is quiesced.
func (w *Writer) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Flush writes any sanitized pending text to the open log file. It is a
// no-op when paused or not yet open, matching `if (flog) start_logging()`
// guards throughout safeIO().
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.paused || w.file == nil {
		return nil
	}
	text := w.sink.Flush()
	if len(text) == 0 {
		return nil
	}
	_, err := w.file.Write(text)
	return err
}

// TakeAtBoot reports and clears the at-boot dump flag, matching
// `if (atboot) { dump_kmsg(flog); atboot = 0; }`.
func (w *Writer) TakeAtBoot() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := w.atBoot
	w.atBoot = false
	return v
}

// FSEvents exposes the optimization channel: a caller can select on this to
// shorten the next retry wait once /var changes, without it ever being
// required for correctness.
func (w *Writer) FSEvents() <-chan fsnotify.Event {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Events
}

// Close releases the log file and the fsnotify watcher.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
