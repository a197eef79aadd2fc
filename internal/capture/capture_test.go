package capture

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"blogd/internal/console"
	"blogd/internal/daemonctx"
	"blogd/internal/eventloop"
	"blogd/internal/logwriter"
	"blogd/internal/syssignal"
)

func newTestFanout(t *testing.T, items []*console.Console) (*Fanout, *logwriter.Writer) {
	t.Helper()
	dir := t.TempDir()
	log := logwriter.New(dir+"/boot.log", dir+"/boot.old")
	ctx := daemonctx.New(daemonctx.Config{}, syssignal.NewFlags())
	set := console.NewSetFromConsoles(items)
	return New(ctx, set, log, nil), log
}

func TestHandleFifoInCopiesToLog(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	f, log := newTestFanout(t, nil)
	defer log.Close()

	if _, err := w.Write([]byte("init: starting disk unlock\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.HandleFifoIn(int(r.Fd())); err != nil {
		t.Fatalf("HandleFifoIn: %v", err)
	}

	// The log file was never opened, so Flush leaves the copied text
	// pending in the sanitizer until the file can be written.
	if !log.Sanitizer().Pending() {
		t.Error("FIFO bytes should stay pending in the sanitizer while the log file is not open")
	}
}

func TestHandleConsoleInBuffersWhileAsking(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	f, log := newTestFanout(t, nil)
	defer log.Close()
	f.ctx.Asking.Store(true)

	if _, err := w.Write([]byte("password requested\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.HandleConsoleIn(int(r.Fd())); err != nil {
		t.Fatalf("HandleConsoleIn: %v", err)
	}

	if f.temp.Empty() {
		t.Error("expected bytes to be buffered in temp while asking")
	}
}

func TestBlockedSinkClearsWhenWatchdogFires(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	wfd := int(w.Fd())
	if err := unix.SetNonblock(wfd, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	// Fill the pipe until it can no longer accept writes.
	filler := make([]byte, 4096)
	for {
		_, err := unix.Write(wfd, filler)
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			t.Fatalf("fill pipe: %v", err)
		}
	}

	c := &console.Console{Path: "test-console", File: w, MaxCanon: 4096}
	set := console.NewSetFromConsoles([]*console.Console{c})

	dir := t.TempDir()
	log := logwriter.New(dir+"/boot.log", dir+"/boot.old")
	defer log.Close()
	ctx := daemonctx.New(daemonctx.Config{}, syssignal.NewFlags())

	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	defer loop.Close()

	f := New(ctx, set, log, loop)

	f.checkConsolesWritable()
	if !ctx.IsBlocked(wfd) {
		t.Fatal("expected console to be marked blocked after a full pipe write probe")
	}

	// Drain the pipe so the kernel reports wfd writable again, then let the
	// watchdog fire.
	drained := make([]byte, len(filler))
	if _, err := r.Read(drained); err != nil {
		t.Fatalf("drain pipe: %v", err)
	}

	fired, err := loop.Poll(time.Second, nil)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !fired {
		t.Fatal("expected the writable watchdog to fire")
	}
	if ctx.IsBlocked(wfd) {
		t.Error("expected blocked state to clear once the watchdog fired")
	}
}
