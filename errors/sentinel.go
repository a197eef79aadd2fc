// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Console lifecycle errors.
var (
	// ErrConsoleUnavailable indicates a registered console has gone away
	// (read/write failed with EIO or the device node disappeared).
	ErrConsoleUnavailable = &DaemonError{
		Kind:   ErrConsole,
		Detail: "console unavailable",
	}

	// ErrConsoleExists indicates the console is already registered.
	ErrConsoleExists = &DaemonError{
		Kind:   ErrAlreadyExists,
		Detail: "console already registered",
	}

	// ErrNoConsoles indicates no consoles could be discovered at all.
	ErrNoConsoles = &DaemonError{
		Kind:   ErrNotFound,
		Detail: "no consoles discovered",
	}

	// ErrInvalidDevicePath indicates a malformed or unresolvable device path.
	ErrInvalidDevicePath = &DaemonError{
		Kind:   ErrInvalidConfig,
		Detail: "invalid device path",
	}
)

// Fan-out / sink errors.
var (
	// ErrSinkBlocked indicates a fan-out sink did not become writable in time
	// and the write was dropped or buffered instead of blocking the loop.
	ErrSinkBlocked = &DaemonError{
		Kind:   ErrSink,
		Detail: "sink not writable",
	}

	// ErrBufferFull indicates the temporary buffer has no room left for the
	// new bytes, which were dropped; the buffered bytes are kept.
	ErrBufferFull = &DaemonError{
		Kind:   ErrResource,
		Detail: "temporary buffer full",
	}
)

// Log writer errors.
var (
	// ErrLogNotReady indicates the log filesystem is not yet mountable
	// (statfs still reports a transient magic number).
	ErrLogNotReady = &DaemonError{
		Kind:   ErrLog,
		Detail: "log filesystem not ready",
	}

	// ErrLogRotateFailed indicates the boot.log -> boot.old rename failed.
	ErrLogRotateFailed = &DaemonError{
		Kind:   ErrLog,
		Detail: "failed to rotate log",
	}

	// ErrLogOpenFailed indicates the log file could not be opened.
	ErrLogOpenFailed = &DaemonError{
		Kind:   ErrLog,
		Detail: "failed to open log file",
	}
)

// Control protocol errors.
var (
	// ErrPeerRejected indicates a connecting peer failed the SO_PEERCRED check.
	ErrPeerRejected = &DaemonError{
		Kind:   ErrPermission,
		Detail: "peer rejected",
	}

	// ErrProtocolFraming indicates a malformed control-protocol frame.
	ErrProtocolFraming = &DaemonError{
		Kind:   ErrProtocol,
		Detail: "malformed control frame",
	}

	// ErrUnknownCommand indicates an unrecognized control command byte.
	ErrUnknownCommand = &DaemonError{
		Kind:   ErrProtocol,
		Detail: "unknown command",
	}

	// ErrInvalidSocketPath indicates an invalid control socket path.
	ErrInvalidSocketPath = &DaemonError{
		Kind:   ErrInvalidConfig,
		Detail: "invalid socket path",
	}
)

// Password orchestrator errors.
var (
	// ErrPasswordTimeout indicates no console answered within the deadline.
	ErrPasswordTimeout = &DaemonError{
		Kind:   ErrPassword,
		Detail: "password prompt timed out",
	}

	// ErrPasswordCancelled indicates the prompt was cancelled (CEOF or signal).
	ErrPasswordCancelled = &DaemonError{
		Kind:   ErrPassword,
		Detail: "password prompt cancelled",
	}

	// ErrPasswordTooLong indicates the entered password exceeded the maximum
	// accepted length and was rejected without being stored.
	ErrPasswordTooLong = &DaemonError{
		Kind:   ErrPassword,
		Detail: "password exceeds maximum length",
	}

	// ErrSharedMemory indicates the memfd-backed password area could not be
	// created or mapped.
	ErrSharedMemory = &DaemonError{
		Kind:   ErrResource,
		Detail: "failed to set up shared password area",
	}
)

// Process errors.
var (
	// ErrProcessStart indicates a subprocess (password prompter) failed to start.
	ErrProcessStart = &DaemonError{
		Kind:   ErrInternal,
		Detail: "failed to start process",
	}

	// ErrSignalFailed indicates a signal delivery error.
	ErrSignalFailed = &DaemonError{
		Kind:   ErrInternal,
		Detail: "failed to send signal",
	}
)
