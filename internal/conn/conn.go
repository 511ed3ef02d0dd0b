// Package conn implements the per-connection Request/Response/End
// state machine: nonblocking buffer fill, frame parsing and dispatch,
// and nonblocking buffer drain, all driven one step at a time by the
// event loop.
//
// Grounded on original_source/include/connection.hpp's structure
// (state enum, read/process/write cycle, idle-time tracking) and
// expressed with golang.org/x/sys/unix nonblocking syscalls in place
// of the source's raw read(2)/write(2) plus errno checks.
package conn

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/quietridge/emberdb/internal/dispatcher"
	"github.com/quietridge/emberdb/internal/protocol"
)

// State is one of the three states a connection can be in.
type State byte

const (
	Request State = iota
	Response
	End
)

// ErrIO marks a non-recoverable I/O failure (anything but EAGAIN/EINTR).
var ErrIO = errors.New("conn: i/o error")

// ErrProtocol marks a malformed or oversized frame.
var ErrProtocol = errors.New("conn: protocol error")

// Conn is one client connection: its socket, its state, its buffers,
// and the last-activity clock the idle reaper reads.
type Conn struct {
	FD    int
	State State

	rbuf []byte
	wbuf []byte
	sent int

	maxFrame   int
	dispatcher *dispatcher.Dispatcher

	lastActivity int64
	now          func() int64
}

// New wraps fd as a connection in the Request state. maxFrame bounds
// the request frame length; d is the command table used to answer
// parsed frames.
func New(fd int, maxFrame int, d *dispatcher.Dispatcher, now func() int64) *Conn {
	return &Conn{
		FD:           fd,
		State:        Request,
		maxFrame:     maxFrame,
		dispatcher:   d,
		now:          now,
		lastActivity: now(),
	}
}

// LastActivity returns the clock value (same units as the now func
// passed to New) of the connection's most recent I/O attempt.
func (c *Conn) LastActivity() int64 { return c.lastActivity }

// WantWrite reports whether the event loop should watch this
// connection's fd for writability rather than readability.
func (c *Conn) WantWrite() bool { return c.State == Response }

// Drive advances the connection's state machine by one readiness
// event: fills and processes requests while in Request state, or
// flushes the write buffer while in Response state. Every call —
// successful or would-block — refreshes last-activity, since any I/O
// attempt counts as activity even when it reads zero bytes.
func (c *Conn) Drive() error {
	c.lastActivity = c.now()
	switch c.State {
	case Request:
		return c.handleRequest()
	case Response:
		return c.handleResponse()
	default:
		return ErrIO
	}
}

func (c *Conn) handleRequest() error {
	for {
		progressed, err := c.tryFillBuffer()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (c *Conn) tryFillBuffer() (bool, error) {
	chunk := make([]byte, c.maxFrame)
	n, err := unix.Read(c.FD, chunk)
	if n > 0 {
		c.rbuf = append(c.rbuf, chunk[:n]...)
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return false, nil
		}
		c.State = End
		return false, ErrIO
	}
	if n == 0 {
		c.State = End
		return false, nil
	}

	for c.tryProcessRequest() {
	}
	return true, nil
}

// tryProcessRequest parses and dispatches at most one complete frame
// out of rbuf, shifting any leftover bytes to the front. Returns true
// if another frame might already be fully buffered.
func (c *Conn) tryProcessRequest() bool {
	length, ok, err := protocol.TryReadFrameLength(c.rbuf, c.maxFrame)
	if err != nil {
		c.State = End
		return false
	}
	if !ok {
		return false
	}

	const lenPrefix = 4
	total := lenPrefix + length
	if len(c.rbuf) < total {
		return false
	}

	args, err := protocol.ParseArgs(c.rbuf[lenPrefix:total])
	if err != nil {
		c.State = End
		return false
	}

	strArgs := make([]string, len(args))
	for i, a := range args {
		strArgs[i] = string(a)
	}

	out := protocol.NewWriter(nil)
	c.dispatcher.Dispatch(strArgs, out)
	c.wbuf = append(c.wbuf, out.FrameResponse()...)
	c.sent = 0
	c.State = Response

	c.rbuf = append(c.rbuf[:0], c.rbuf[total:]...)
	return len(c.rbuf) >= lenPrefix
}

func (c *Conn) handleResponse() error {
	for {
		progressed, err := c.tryFlushBuffer()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (c *Conn) tryFlushBuffer() (bool, error) {
	for c.sent < len(c.wbuf) {
		n, err := unix.Write(c.FD, c.wbuf[c.sent:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return false, nil
			}
			c.State = End
			return false, ErrIO
		}
		c.sent += n
	}

	c.State = Request
	c.sent = 0
	c.wbuf = c.wbuf[:0]
	return false, nil
}
