// Package eventloop implements the daemon's readiness-based event registry,
// the Go counterpart of libconsole/epoll.c's intrusive-list epoll wrapper.
//
// console.c keeps one global epfd and an intrusive list of watch nodes so
// epoll_handle() can map a triggered fd back to its callback without a
// lookup table. Go has no portable way to stash an arbitrary pointer next
// to an fd the way the C code abuses struct epoll_event.data.ptr across a
// realloc-free list, so Registry keeps an ordinary map[int]*watch instead
// -- same O(1) dispatch, without the intrusive-list bookkeeping.
package eventloop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"blogd/internal/syssignal"
)

// Handler is invoked with the ready fd when an event fires.
type Handler func(fd int)

type watch struct {
	fd      int
	handler Handler
	oneshot bool
}

// Registry is the Go analogue of console.c's global epfd plus its watch list.
type Registry struct {
	epfd    int
	watches map[int]*watch
}

// New creates a Registry backed by a fresh epoll instance, CLOEXEC like
// console.c's `epoll_create1(EPOLL_CLOEXEC)`.
func New() (*Registry, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Registry{epfd: fd, watches: make(map[int]*watch)}, nil
}

// Close releases the epoll instance. Mirrors closeIO()'s epoll_close_fd()
// followed by close(epfd).
func (r *Registry) Close() error {
	for fd := range r.watches {
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	r.watches = make(map[int]*watch)
	return unix.Close(r.epfd)
}

func (r *Registry) add(fd int, events uint32, oneshot bool, h Handler) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	r.watches[fd] = &watch{fd: fd, handler: h, oneshot: oneshot}
	return nil
}

// AddRead registers fd for read readiness, matching epoll_addread()'s
// EPOLLIN|EPOLLPRI|EPOLLRDHUP interest set.
func (r *Registry) AddRead(fd int, h Handler) error {
	return r.add(fd, unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP, false, h)
}

// AddWrite registers fd for write readiness, matching epoll_addwrite()'s
// EPOLLOUT|EPOLLONESHOT|EPOLLPRI|EPOLLERR interest set -- the watchdog used
// to notice a blocked console tty has drained.
func (r *Registry) AddWrite(fd int, h Handler) error {
	return r.add(fd, unix.EPOLLOUT|unix.EPOLLONESHOT|unix.EPOLLPRI|unix.EPOLLERR, true, h)
}

// AnswerOnce registers fd for a single write-readiness event, matching
// epoll_answer_once(); after the event fires the fd stays registered
// (disarmed) until Delete is called -- used by the password
// orchestrator to wait for the control socket to become writable again
// before sending the deferred reply.
func (r *Registry) AnswerOnce(fd int, h Handler) error {
	return r.add(fd, unix.EPOLLOUT|unix.EPOLLONESHOT, true, h)
}

// Reenable re-arms a oneshot watch after its handler ran, matching
// epoll_reenable().
func (r *Registry) Reenable(fd int) error {
	w, ok := r.watches[fd]
	if !ok {
		return fmt.Errorf("eventloop: reenable unknown fd %d", fd)
	}
	events := uint32(unix.EPOLLOUT | unix.EPOLLONESHOT | unix.EPOLLPRI | unix.EPOLLERR)
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	_ = w
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// Delete removes fd from the registry, matching epoll_delete().
func (r *Registry) Delete(fd int) error {
	if _, ok := r.watches[fd]; !ok {
		return nil
	}
	delete(r.watches, fd)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Poll waits up to timeout for events and dispatches to their handlers.
// It returns true if at least one event fired, matching more_input()'s
// return convention. During the wait, every signal except SIGQUIT, SIGTERM,
// SIGSYS and SIGIO is blocked via epoll_pwait's signal mask argument --
// the Go equivalent of console.c's `sigfillset(&omask)` followed by the
// four `sigdelset()` calls in prepareIO().
func (r *Registry) Poll(timeout time.Duration, _ *syssignal.Flags) (bool, error) {
	var mask unix.Sigset_t
	fillSigset(&mask)
	delSigset(&mask, unix.SIGQUIT)
	delSigset(&mask, unix.SIGTERM)
	delSigset(&mask, unix.SIGSYS)
	delSigset(&mask, unix.SIGIO)

	events := make([]unix.EpollEvent, maxEvents(len(r.watches)))
	n, err := unix.EpollPwait(r.epfd, events, int(timeout.Milliseconds()), &mask)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, fmt.Errorf("epoll_pwait: %w", err)
	}

	fired := false
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		w, ok := r.watches[fd]
		if !ok {
			continue
		}
		ev := events[i].Events
		if ev&(unix.EPOLLIN|unix.EPOLLOUT) != 0 {
			fired = true
			w.handler(fd)
			continue
		}
		if ev&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
			fired = true
			continue
		}
	}
	return fired, nil
}

func maxEvents(n int) int {
	if n < 8 {
		return 8
	}
	return n
}
