package console

import (
	"testing"

	"blogd/internal/devicepath"
)

func TestConsDevFindsFlaggedConsole(t *testing.T) {
	s := &Set{items: []*Console{
		{Path: "/dev/ttyS0", Flags: 0, PID: -1},
		{Path: "/dev/tty0", Flags: devicepath.FlagConsDev, PID: -1},
	}}

	got := s.ConsDev()
	if got == nil || got.Path != "/dev/tty0" {
		t.Fatalf("ConsDev() = %+v, want /dev/tty0", got)
	}
}

func TestConsDevNilWhenNoneFlagged(t *testing.T) {
	s := &Set{items: []*Console{
		{Path: "/dev/ttyS0", Flags: 0, PID: -1},
	}}
	if got := s.ConsDev(); got != nil {
		t.Fatalf("ConsDev() = %+v, want nil", got)
	}
}

func TestFdNegativeWhenUnopened(t *testing.T) {
	c := &Console{Path: "/dev/ttyS0"}
	if c.Fd() != -1 {
		t.Errorf("Fd() = %d, want -1 for unopened console", c.Fd())
	}
}

func TestIsConsDev(t *testing.T) {
	c := &Console{Flags: devicepath.FlagConsDev | devicepath.FlagEnabled}
	if !c.IsConsDev() {
		t.Error("IsConsDev() should be true when FlagConsDev set")
	}
	c2 := &Console{Flags: devicepath.FlagEnabled}
	if c2.IsConsDev() {
		t.Error("IsConsDev() should be false without FlagConsDev")
	}
}
