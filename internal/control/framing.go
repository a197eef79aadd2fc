// Package control implements the Control Server (C6) and Command Handler
// (C7): a short-lived accepted-connection protocol for the companion CLI
// and init scripts to drive the daemon (chroot, quit, final, deactivate/
// reactivate the capture console, ask for or fetch a cached password).
//
// Grounded on console.c's socket_handler()/process_magic() and the
// accept-loop in consinitIO(), with the magic-byte values reassigned here
// (see DESIGN.md: the original's numeric constants live in a header that
// was not part of the retrieved source, so the values below are this
// package's own -- they only need to agree with cmd/blogctl, which is also
// ours).
package control

import (
	"encoding/binary"
	"io"

	"blogd/errors"
)

// Magic identifies a control command.
type Magic byte

const (
	MagicChroot      Magic = 0x01
	MagicPing        Magic = 0x02
	MagicSysInit     Magic = 0x03
	MagicQuit        Magic = 0x04
	MagicFinal       Magic = 0x05
	MagicClose       Magic = 0x06
	MagicDeactivate  Magic = 0x07
	MagicReactivate  Magic = 0x08
	MagicAskPwd      Magic = 0x09
	MagicCachedPwd   Magic = 0x0a

	// Legacy magics: accepted for wire compatibility with older companion
	// tooling, always ACKed with no side effect, matching the original's
	// PRG_STOP/PRG_CONT/UPDATE/HIDE_SPLASH/SHOW_SPLASH/CHMOD/DETAILS cases.
	MagicLegacyPrgStop   Magic = 0x10
	MagicLegacyPrgCont   Magic = 0x11
	MagicLegacyUpdate    Magic = 0x12
	MagicLegacyHideSplsh Magic = 0x13
	MagicLegacyShowSplsh Magic = 0x14
	MagicLegacyChmod     Magic = 0x15
	MagicLegacyDetails   Magic = 0x16
)

// Reply bytes, matching the framing summary's ACK/NACK/ENQ values exactly
// (these three, unlike the command magics, are given literal values in
// the spec itself).
const (
	ReplyACK byte = 0x06
	ReplyNAK byte = 0x15
	ReplyENQ byte = 0x05
)

// hasArgFlag marks frame byte 1 when an argument follows, matching
// `magic[1] == 0x02`.
const hasArgFlag byte = 0x02

// maxArgLen bounds the single length byte that precedes an argument.
const maxArgLen = 255

// Frame is one decoded control-protocol request.
type Frame struct {
	Magic Magic
	Arg   []byte
}

// ReadFrame decodes one request frame from r, matching the Control
// Server's "read exactly 2 magic bytes; if magic[1] == 0x02, read one
// length byte then that many argument bytes" framing.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, errors.WrapWithDetail(err, errors.ErrProtocol, "read frame header", "short read")
	}

	f := Frame{Magic: Magic(hdr[0])}
	if hdr[1] != hasArgFlag {
		return f, nil
	}

	var lenByte [1]byte
	if _, err := io.ReadFull(r, lenByte[:]); err != nil {
		return Frame{}, errors.WrapWithDetail(err, errors.ErrProtocol, "read frame arg length", "short read")
	}

	n := int(lenByte[0])
	if n == 0 {
		return f, nil
	}
	arg := make([]byte, n)
	if _, err := io.ReadFull(r, arg); err != nil {
		return Frame{}, errors.WrapWithDetail(err, errors.ErrProtocol, "read frame arg", "short read")
	}
	f.Arg = arg
	return f, nil
}

// WriteFrame encodes f back onto the wire, for the companion CLI's use.
func WriteFrame(w io.Writer, f Frame) error {
	hdr := []byte{byte(f.Magic), 0x00}
	if len(f.Arg) > 0 {
		if len(f.Arg) > maxArgLen {
			return errors.New(errors.ErrProtocol, "write frame", "argument too long")
		}
		hdr[1] = hasArgFlag
		hdr = append(hdr, byte(len(f.Arg)))
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(f.Arg) > 0 {
		_, err := w.Write(f.Arg)
		return err
	}
	return nil
}

// WriteACK/WriteNAK/WriteENQ write the corresponding single-byte reply.
func WriteACK(w io.Writer) error { _, err := w.Write([]byte{ReplyACK}); return err }
func WriteNAK(w io.Writer) error { _, err := w.Write([]byte{ReplyNAK}); return err }
func WriteENQ(w io.Writer) error { _, err := w.Write([]byte{ReplyENQ}); return err }

// WriteMLT writes the cached-password MLT reply: the literal bytes
// "MLT", a little-endian uint32 of (len(password)+1), the password bytes,
// and a trailing NUL, matching "MLT + little-endian 4-byte (length+1) +
// password + trailing NUL".
func WriteMLT(w io.Writer, password []byte) error {
	var hdr [7]byte
	copy(hdr[:3], "MLT")
	binary.LittleEndian.PutUint32(hdr[3:], uint32(len(password)+1))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(password); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// ReadMLT decodes an MLT reply previously written by WriteMLT, for the
// companion CLI's use when fetching a cached password.
func ReadMLT(r io.Reader) ([]byte, error) {
	var hdr [7]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if string(hdr[:3]) != "MLT" {
		return nil, errors.New(errors.ErrProtocol, "read MLT", "bad frame tag")
	}
	n := binary.LittleEndian.Uint32(hdr[3:])
	if n == 0 {
		return nil, errors.New(errors.ErrProtocol, "read MLT", "zero-length frame")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf[:n-1], nil // drop trailing NUL
}
