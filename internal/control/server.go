package control

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"blogd/errors"
	"blogd/internal/eventloop"
	"blogd/logging"
)

// Server owns the listening control socket and registers accepted
// connections into the event loop, matching consinitIO()'s socket setup
// plus the accept branch of the main epoll dispatch.
//
// The Open Question of abstract-vs-path-based socket addressing is
// resolved here in favor of a real filesystem path (/run/blogd.sock by
// default): an abstract socket has no filesystem presence for the
// companion CLI to stat or for packaging to ship permissions on, and the
// daemon already requires a writable /run for other state.
type Server struct {
	path     string
	listenFD int
	loop     *eventloop.Registry
	handler  *Handler
}

// NewServer binds and listens on path, removing any stale socket file
// left behind by a prior run first.
func NewServer(path string, loop *eventloop.Registry, handler *Handler) (*Server, error) {
	if path == "" {
		return nil, errors.ErrInvalidSocketPath
	}

	_ = os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrResource, "create control socket")
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, errors.WrapWithDetail(err, errors.ErrInvalidSocketPath.Kind, "bind control socket", path)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrResource, "listen on control socket")
	}

	s := &Server{path: path, listenFD: fd, loop: loop, handler: handler}
	if err := loop.AddRead(fd, s.acceptOne); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrResource, "register control socket")
	}
	return s, nil
}

// acceptOne accepts every pending connection and registers each as
// readable, matching "each accepted connection is set non-blocking+cloexec
// and registered as readable" -- the frame itself is read later, once
// epoll reports the connection actually has bytes, not synchronously
// inside the accept handler.
func (s *Server) acceptOne(fd int) {
	for {
		connFD, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			logging.Warn("control accept failed", "error", err)
			return
		}
		if err := s.loop.AddRead(connFD, s.handleConn); err != nil {
			logging.Warn("control connection registration failed", "error", err)
			unix.Close(connFD)
		}
	}
}

// handleConn authenticates the peer via SO_PEERCRED and, if authorized,
// decodes one Frame and dispatches it, matching socket_handler()'s
// peer-credential check and the spec's "destroyed after one command"
// lifecycle (except ASK_PWD, which re-arms the same fd for one-shot
// writable instead of closing it).
func (s *Server) handleConn(connFD int) {
	cred, err := unix.GetsockoptUcred(connFD, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		logging.Warn("SO_PEERCRED failed", "error", err)
		s.loop.Delete(connFD)
		unix.Close(connFD)
		return
	}

	if cred.Uid != 0 {
		exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", cred.Pid))
		logging.WithPID(logging.WithPath(logging.Default(), exe), int(cred.Pid)).
			Warn("control peer rejected", "uid", cred.Uid)
		_ = WriteNAK(fdWriter{connFD})
		s.loop.Delete(connFD)
		unix.Close(connFD)
		return
	}

	f, err := ReadFrame(readerFD{connFD})
	if err != nil {
		logging.Warn("control frame decode failed", "error", err)
		s.loop.Delete(connFD)
		unix.Close(connFD)
		return
	}

	s.loop.Delete(connFD)
	if err := s.handler.Dispatch(connFD, f); err != nil {
		logging.Warn("control dispatch failed", "magic", f.Magic, "error", err)
	}

	if f.Magic != MagicAskPwd {
		unix.Close(connFD)
	}
}

// Close removes the listening socket and its backing file.
func (s *Server) Close() error {
	s.loop.Delete(s.listenFD)
	err := unix.Close(s.listenFD)
	_ = os.Remove(s.path)
	return err
}

// readerFD adapts a raw fd to io.Reader for ReadFrame.
type readerFD struct{ fd int }

func (r readerFD) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if err != nil {
		return n, fmt.Errorf("read fd %d: %w", r.fd, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("read fd %d: EOF", r.fd)
	}
	return n, nil
}
