package logwriter

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadyFalseForMissingPath(t *testing.T) {
	if Ready(filepath.Join(t.TempDir(), "does-not-exist")) {
		t.Error("Ready() should be false for a nonexistent path")
	}
}

func TestReadyFalseForSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if Ready(link) {
		t.Error("Ready() should be false for a symlinked path (initrd convention)")
	}
}

func TestWriterOpenNotReadyWhenPathMissing(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "nolog", "boot.log"), filepath.Join(dir, "nolog", "boot.old"))
	defer w.Close()

	err := w.Open(false)
	if err == nil {
		t.Fatal("Open() should fail when the log directory doesn't exist")
	}
}

func TestFinalLatchAndIdempotence(t *testing.T) {
	w := New("/var/log/boot.log", "/var/log/boot.old")
	defer w.Close()

	if w.Final() {
		t.Fatal("Final() should start false")
	}
	w.SetFinal()
	if !w.Final() {
		t.Fatal("Final() should be true after SetFinal")
	}
	w.SetFinal() // idempotent
	if !w.Final() {
		t.Fatal("Final() should remain true")
	}
}

func TestPauseClosesFile(t *testing.T) {
	w := New("/var/log/boot.log", "/var/log/boot.old")
	defer w.Close()

	w.Pause()
	if !w.Paused() {
		t.Fatal("Paused() should be true after Pause")
	}
	if err := w.Flush(); err != nil {
		t.Errorf("Flush() on paused writer should be a no-op, got %v", err)
	}
}
