package password

import (
	"golang.org/x/sys/unix"

	"blogd/errors"
)

// ReadPassword reads a single line of password input from fd byte-wise,
// honoring the terminal's erase/kill characters, matching readpw.c's
// readpw(fd, pass, eightbit) exactly: backspace/CERASE deletes the last
// byte accepted so far, CKILL discards the whole line, CR or NL
// terminates (without being stored), CEOF with an empty line cancels,
// and a line longer than MaxPassLen-1 bytes fails overflow rather than
// silently truncating.
//
// cc holds the terminal's current erase/kill/eof control characters (as
// read from the termios VERASE/VKILL/VEOF slots) so the caller's raw-mode
// setup governs what counts as erase/kill, same as the original reading
// c_cc out of the live termios.
type ControlChars struct {
	Erase byte
	Kill  byte
	EOF   byte
}

// ReadPassword reads until CR/NL or cancellation, returning the accepted
// bytes. eightbit mirrors the original's handling of the top bit: when
// false, each byte is masked to 7 bits before being tested against the
// control characters or stored.
func ReadPassword(fd int, cc ControlChars, eightbit bool) ([]byte, error) {
	buf := make([]byte, 0, MaxPassLen)
	one := make([]byte, 1)

	for {
		n, err := unix.Read(fd, one)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrPassword, "read password byte")
		}
		if n == 0 {
			if len(buf) == 0 {
				return nil, errors.ErrPasswordCancelled
			}
			break
		}

		c := one[0]
		if !eightbit {
			c &= 0x7f
		}

		switch {
		case c == '\r' || c == '\n':
			return buf, nil
		case c == cc.Erase || c == '\b':
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
			}
			continue
		case c == cc.Kill:
			buf = buf[:0]
			continue
		case c == cc.EOF:
			if len(buf) == 0 {
				return nil, errors.ErrPasswordCancelled
			}
			return buf, nil
		}

		if len(buf) >= MaxPassLen-1 {
			return nil, errors.Wrap(unix.EOVERFLOW, errors.ErrPassword, "password line too long")
		}
		buf = append(buf, c)
	}
	return buf, nil
}
