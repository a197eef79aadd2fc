package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected string
	}{
		{ErrNotFound, "not found"},
		{ErrAlreadyExists, "already exists"},
		{ErrInvalidState, "invalid state"},
		{ErrInvalidConfig, "invalid config"},
		{ErrPermission, "permission denied"},
		{ErrResource, "resource error"},
		{ErrConsole, "console error"},
		{ErrSink, "sink error"},
		{ErrLog, "log writer error"},
		{ErrProtocol, "protocol error"},
		{ErrPassword, "password error"},
		{ErrInternal, "internal error"},
		{ErrorKind(999), "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("ErrorKind.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDaemonError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DaemonError
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "<nil>",
		},
		{
			name: "full error",
			err: &DaemonError{
				Op:      "ask_password",
				Console: "/dev/tty1",
				Kind:    ErrNotFound,
				Detail:  "no answer received",
				Err:     fmt.Errorf("eof"),
			},
			expected: "console /dev/tty1: ask_password: no answer received: eof",
		},
		{
			name: "without console",
			err: &DaemonError{
				Op:     "open_log",
				Kind:   ErrLog,
				Detail: "statfs failed",
			},
			expected: "open_log: statfs failed",
		},
		{
			name: "kind only",
			err: &DaemonError{
				Kind: ErrPermission,
			},
			expected: "permission denied",
		},
		{
			name: "with underlying error",
			err: &DaemonError{
				Op:   "rotate",
				Kind: ErrLog,
				Err:  fmt.Errorf("device busy"),
			},
			expected: "rotate: log writer error: device busy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("DaemonError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDaemonError_Unwrap(t *testing.T) {
	underlying := fmt.Errorf("underlying error")
	err := &DaemonError{
		Op:   "test",
		Kind: ErrInternal,
		Err:  underlying,
	}

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}

	var nilErr *DaemonError
	if got := nilErr.Unwrap(); got != nil {
		t.Errorf("nil.Unwrap() = %v, want nil", got)
	}
}

func TestDaemonError_Is(t *testing.T) {
	err1 := &DaemonError{Kind: ErrNotFound, Op: "test1"}
	err2 := &DaemonError{Kind: ErrNotFound, Op: "test2"}
	err3 := &DaemonError{Kind: ErrPermission, Op: "test3"}

	if !err1.Is(err2) {
		t.Error("err1.Is(err2) should be true (same kind)")
	}

	if err1.Is(err3) {
		t.Error("err1.Is(err3) should be false (different kind)")
	}

	if err1.Is(fmt.Errorf("some error")) {
		t.Error("err1.Is(fmt.Errorf(...)) should be false")
	}

	var nilErr *DaemonError
	if !nilErr.Is(nil) {
		t.Error("nil.Is(nil) should be true")
	}
}

func TestNew(t *testing.T) {
	err := New(ErrInvalidConfig, "validate", "socket path is empty")

	if err.Kind != ErrInvalidConfig {
		t.Errorf("Kind = %v, want %v", err.Kind, ErrInvalidConfig)
	}
	if err.Op != "validate" {
		t.Errorf("Op = %q, want %q", err.Op, "validate")
	}
	if err.Detail != "socket path is empty" {
		t.Errorf("Detail = %q, want %q", err.Detail, "socket path is empty")
	}
}

func TestWrap(t *testing.T) {
	underlying := fmt.Errorf("permission denied")
	err := Wrap(underlying, ErrPermission, "accept")

	if err.Err != underlying {
		t.Error("Wrapped error should preserve underlying error")
	}
	if err.Kind != ErrPermission {
		t.Errorf("Kind = %v, want %v", err.Kind, ErrPermission)
	}
	if err.Op != "accept" {
		t.Errorf("Op = %q, want %q", err.Op, "accept")
	}
}

func TestWrapWithConsole(t *testing.T) {
	underlying := fmt.Errorf("not found")
	err := WrapWithConsole(underlying, ErrNotFound, "discover", "/dev/ttyS0")

	if err.Console != "/dev/ttyS0" {
		t.Errorf("Console = %q, want %q", err.Console, "/dev/ttyS0")
	}
}

func TestWrapWithDetail(t *testing.T) {
	underlying := fmt.Errorf("syscall failed")
	err := WrapWithDetail(underlying, ErrProtocol, "decode frame", "invalid magic byte")

	if err.Detail != "invalid magic byte" {
		t.Errorf("Detail = %q, want %q", err.Detail, "invalid magic byte")
	}
}

func TestIsKind(t *testing.T) {
	err := &DaemonError{Kind: ErrNotFound}
	wrapped := fmt.Errorf("wrapped: %w", err)

	if !IsKind(err, ErrNotFound) {
		t.Error("IsKind(err, ErrNotFound) should be true")
	}
	if !IsKind(wrapped, ErrNotFound) {
		t.Error("IsKind(wrapped, ErrNotFound) should be true")
	}
	if IsKind(err, ErrPermission) {
		t.Error("IsKind(err, ErrPermission) should be false")
	}
	if IsKind(fmt.Errorf("plain error"), ErrNotFound) {
		t.Error("IsKind(plain error, ErrNotFound) should be false")
	}
}

func TestGetKind(t *testing.T) {
	err := &DaemonError{Kind: ErrSink}
	wrapped := fmt.Errorf("wrapped: %w", err)

	kind, ok := GetKind(err)
	if !ok || kind != ErrSink {
		t.Errorf("GetKind(err) = (%v, %v), want (%v, true)", kind, ok, ErrSink)
	}

	kind, ok = GetKind(wrapped)
	if !ok || kind != ErrSink {
		t.Errorf("GetKind(wrapped) = (%v, %v), want (%v, true)", kind, ok, ErrSink)
	}

	_, ok = GetKind(fmt.Errorf("plain error"))
	if ok {
		t.Error("GetKind(plain error) should return false")
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *DaemonError
		kind ErrorKind
	}{
		{"ErrConsoleUnavailable", ErrConsoleUnavailable, ErrConsole},
		{"ErrConsoleExists", ErrConsoleExists, ErrAlreadyExists},
		{"ErrNoConsoles", ErrNoConsoles, ErrNotFound},
		{"ErrInvalidDevicePath", ErrInvalidDevicePath, ErrInvalidConfig},
		{"ErrSinkBlocked", ErrSinkBlocked, ErrSink},
		{"ErrBufferFull", ErrBufferFull, ErrResource},
		{"ErrLogNotReady", ErrLogNotReady, ErrLog},
		{"ErrLogRotateFailed", ErrLogRotateFailed, ErrLog},
		{"ErrPeerRejected", ErrPeerRejected, ErrPermission},
		{"ErrProtocolFraming", ErrProtocolFraming, ErrProtocol},
		{"ErrUnknownCommand", ErrUnknownCommand, ErrProtocol},
		{"ErrPasswordTimeout", ErrPasswordTimeout, ErrPassword},
		{"ErrPasswordCancelled", ErrPasswordCancelled, ErrPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("%s.Kind = %v, want %v", tt.name, tt.err.Kind, tt.kind)
			}
			wrapped := Wrap(fmt.Errorf("underlying"), tt.kind, "test")
			if !errors.Is(wrapped, tt.err) {
				t.Errorf("errors.Is(wrapped, %s) should be true", tt.name)
			}
		})
	}
}

func TestErrorChain(t *testing.T) {
	underlying := fmt.Errorf("file not found")
	err1 := Wrap(underlying, ErrNotFound, "discover console")
	err2 := fmt.Errorf("console setup failed: %w", err1)

	if !errors.Is(err2, ErrNoConsoles) {
		t.Error("errors.Is should find ErrNoConsoles in chain")
	}

	var derr *DaemonError
	if !errors.As(err2, &derr) {
		t.Error("errors.As should find DaemonError in chain")
	}
	if derr.Op != "discover console" {
		t.Errorf("derr.Op = %q, want %q", derr.Op, "discover console")
	}

	if errors.Unwrap(err1) != underlying {
		t.Error("Unwrap should return underlying error")
	}
}
