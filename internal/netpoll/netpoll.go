// Package netpoll wraps Linux epoll as the event loop's readiness-wait
// primitive — the Go analogue of the original poll(2)-based loop in
// original_source/include/server.hpp, chosen because the standard
// library's net package gives no way to wait for readiness across a
// listener and an arbitrary number of connections with one syscall.
package netpoll

import (
	"time"

	"golang.org/x/sys/unix"
)

// Event is one readiness notification: which fd, and whether it was
// ready to read, write, or had an error condition pending.
type Event struct {
	FD    int
	Read  bool
	Write bool
	Error bool
}

// Poller owns one epoll instance.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates a Poller. maxEvents bounds how many ready fds a single
// Wait call can report at once.
func New(maxEvents int) (*Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: epfd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

// Add registers fd for the given interest set (read and/or write).
func (p *Poller) Add(fd int, read, write bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Fd:     int32(fd),
		Events: interestMask(read, write),
	})
}

// Modify updates fd's interest set (e.g. switching a connection from
// read to write interest when it moves from Request to Response).
func (p *Poller) Modify(fd int, read, write bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Fd:     int32(fd),
		Events: interestMask(read, write),
	})
}

// Remove deregisters fd. Safe to call even if the fd was already
// closed (the kernel drops it from the set automatically on close, so
// EBADF from a redundant Remove is not an error here).
func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.EBADF || err == unix.ENOENT {
		return nil
	}
	return err
}

func interestMask(read, write bool) uint32 {
	var mask uint32
	if read {
		mask |= unix.EPOLLIN
	}
	if write {
		mask |= unix.EPOLLOUT
	}
	return mask
}

// Wait blocks until at least one registered fd is ready or timeout
// elapses, returning the ready events. A negative timeout blocks
// indefinitely. Interrupted waits (EINTR) retry transparently.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}

	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, p.events, ms)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		out = append(out, Event{
			FD:    int(ev.Fd),
			Read:  ev.Events&unix.EPOLLIN != 0,
			Write: ev.Events&unix.EPOLLOUT != 0,
			Error: ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return out, nil
}
