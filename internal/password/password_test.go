package password

import (
	"bytes"
	"os"
	"testing"
)

func TestAreaSetGetRoundTrip(t *testing.T) {
	a, err := NewArea()
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	defer a.Close()

	if err := a.Set([]byte("hunter2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := a.Get(); !bytes.Equal(got, []byte("hunter2")) {
		t.Errorf("Get() = %q, want %q", got, "hunter2")
	}
	if a.Len() != len("hunter2") {
		t.Errorf("Len() = %d, want %d", a.Len(), len("hunter2"))
	}
}

func TestAreaSetTooLong(t *testing.T) {
	a, err := NewArea()
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	defer a.Close()

	if err := a.Set(make([]byte, MaxPassLen+1)); err == nil {
		t.Fatal("Set() should reject a password longer than MaxPassLen")
	}
}

func TestAreaFrobnicateRoundTrip(t *testing.T) {
	a, err := NewArea()
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	defer a.Close()

	want := []byte("correct horse battery staple")
	if err := a.Set(want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	a.Frobnicate()
	if got := a.Get(); bytes.Equal(got, want) {
		t.Error("Frobnicate() should have changed the stored bytes")
	}

	a.Frobnicate()
	if got := a.Get(); !bytes.Equal(got, want) {
		t.Errorf("double Frobnicate() = %q, want original %q", got, want)
	}
}

func TestAreaClear(t *testing.T) {
	a, err := NewArea()
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	defer a.Close()

	_ = a.Set([]byte("secret"))
	a.Clear()
	if a.Len() != 0 {
		t.Errorf("Len() after Clear() = %d, want 0", a.Len())
	}
}

func TestReadPasswordTerminatesOnNewline(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	go func() {
		w.Write([]byte("swordfish\n"))
	}()

	got, err := ReadPassword(int(r.Fd()), ControlChars{Erase: 0x7f, Kill: 0x15, EOF: 0x04}, true)
	if err != nil {
		t.Fatalf("ReadPassword: %v", err)
	}
	if string(got) != "swordfish" {
		t.Errorf("ReadPassword() = %q, want %q", got, "swordfish")
	}
}

func TestReadPasswordHandlesErase(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	go func() {
		w.Write([]byte("swordfisx\x7f\n"))
	}()

	got, err := ReadPassword(int(r.Fd()), ControlChars{Erase: 0x7f, Kill: 0x15, EOF: 0x04}, true)
	if err != nil {
		t.Fatalf("ReadPassword: %v", err)
	}
	if string(got) != "swordfis" {
		t.Errorf("ReadPassword() = %q, want %q", got, "swordfis")
	}
}

func TestReadPasswordHandlesKill(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	go func() {
		w.Write([]byte("garbage\x15good\n"))
	}()

	got, err := ReadPassword(int(r.Fd()), ControlChars{Erase: 0x7f, Kill: 0x15, EOF: 0x04}, true)
	if err != nil {
		t.Fatalf("ReadPassword: %v", err)
	}
	if string(got) != "good" {
		t.Errorf("ReadPassword() = %q, want %q", got, "good")
	}
}

func TestFormatPromptTrimsAndDecorates(t *testing.T) {
	plain := formatPrompt("Please enter passphrase:  ", false)
	if plain != "Please enter passphrase: " {
		t.Errorf("formatPrompt(plain) = %q", plain)
	}

	bold := formatPrompt("Please enter passphrase:", true)
	if bold == plain || bold == "" {
		t.Errorf("formatPrompt(redBold) should differ from plain, got %q", bold)
	}
}
