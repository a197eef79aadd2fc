package devicepath

import "testing"

func TestParseConsolesLine(t *testing.T) {
	tests := []struct {
		line      string
		wantFlags string
		wantDev   string
		wantOK    bool
	}{
		{"tty0             -WU (ECp)       4:1", "ECp", "4:1", true},
		{"ttyS0            -W- (EC)        4:64", "EC", "4:64", true},
		{"malformed line without parens", "", "", false},
	}

	for _, tt := range tests {
		flags, dev, ok := parseConsolesLine(tt.line)
		if ok != tt.wantOK {
			t.Fatalf("parseConsolesLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
		}
		if !ok {
			continue
		}
		if flags != tt.wantFlags {
			t.Errorf("parseConsolesLine(%q) flags = %q, want %q", tt.line, flags, tt.wantFlags)
		}
		if dev != tt.wantDev {
			t.Errorf("parseConsolesLine(%q) dev = %q, want %q", tt.line, dev, tt.wantDev)
		}
	}
}

func TestParseMajMin(t *testing.T) {
	maj, min, err := parseMajMin("4:64")
	if err != nil {
		t.Fatalf("parseMajMin: %v", err)
	}
	if maj != 4 || min != 64 {
		t.Errorf("parseMajMin(4:64) = %d:%d, want 4:64", maj, min)
	}

	if _, _, err := parseMajMin("nope"); err == nil {
		t.Error("parseMajMin(\"nope\") should error")
	}
}

func TestFromProcConsolesErrorsWhenMissing(t *testing.T) {
	devs, err := fromProcConsoles("/nonexistent-proc-consoles")
	if err == nil {
		t.Fatal("expected error reading nonexistent /proc/consoles")
	}
	if devs != nil {
		t.Error("expected nil devices on error")
	}
}
