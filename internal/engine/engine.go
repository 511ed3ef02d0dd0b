// Package engine is the event loop: the single aggregate that owns
// the listener, the connection table, the store, and the worker pool,
// and drives them all from one goroutine via epoll readiness waits.
//
// Grounded on original_source/include/server.hpp's run loop: build
// the readiness set, wait, drive ready connections, reap idle ones,
// expire due TTLs, accept new connections. Server is a single
// aggregate value owning the listener, the key index, the TTL heap,
// the connection map, and the pool handle — no package-level mutable
// singletons anywhere.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/quietridge/emberdb/internal/conn"
	"github.com/quietridge/emberdb/internal/dispatcher"
	"github.com/quietridge/emberdb/internal/metrics"
	"github.com/quietridge/emberdb/internal/netpoll"
	"github.com/quietridge/emberdb/internal/store"
	"github.com/quietridge/emberdb/internal/workerpool"
)

// maxEventsPerWait bounds how many ready fds a single epoll_wait call
// can report.
const maxEventsPerWait = 256

// maxPollTimeout is the ceiling placed on the recomputed poll timeout:
// min(next idle deadline, next TTL deadline, 24h).
const maxPollTimeout = 24 * time.Hour

func nowMicros() int64 { return time.Now().UnixMicro() }

// Config is the subset of configuration the event loop needs.
type Config struct {
	Host, Port      string
	IdleTimeout     time.Duration
	MaxFrameSize    int
	Workers         int
	MaxTTLPerTick   int
	HashResizeChunk int
}

// Server is the single owner of every piece of server-side state.
type Server struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Counters

	listenFD int
	poller   *netpoll.Poller
	conns    map[int]*conn.Conn

	pool       *workerpool.Pool
	store      *store.Store
	dispatcher *dispatcher.Dispatcher

	stop bool
}

// New binds the listener, creates the epoll instance, and wires the
// store, dispatcher, and worker pool together. It does not start
// accepting connections — call Run for that.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	listenFD, err := bindListener(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}

	poller, err := netpoll.New(maxEventsPerWait)
	if err != nil {
		unix.Close(listenFD)
		return nil, err
	}
	if err := poller.Add(listenFD, true, false); err != nil {
		poller.Close()
		unix.Close(listenFD)
		return nil, err
	}

	pool := workerpool.New(cfg.Workers)
	m := &metrics.Counters{}
	st := store.New(pool, m)
	d := dispatcher.New(st, m)

	return &Server{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		listenFD:   listenFD,
		poller:     poller,
		conns:      make(map[int]*conn.Conn),
		pool:       pool,
		store:      st,
		dispatcher: d,
	}, nil
}

// bindListener creates a nonblocking TCP listening socket with
// SO_REUSEADDR and a SOMAXCONN backlog.
func bindListener(host, port string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	addr, err := resolveIPv4(host)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	portNum, err := parsePort(port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa := &unix.SockaddrInet4{Port: portNum, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Metrics returns a read-only view into the server's counters.
func (s *Server) Metrics() *metrics.Counters { return s.metrics }

// RequestStop asks the loop to exit after its current tick. The CLI
// sets this flag on SIGINT/SIGTERM rather than killing the process
// out from under an in-flight tick.
func (s *Server) RequestStop() { s.stop = true }

// Close releases the listener, the poller, and joins the worker pool.
func (s *Server) Close() error {
	for fd := range s.conns {
		unix.Close(fd)
	}
	s.poller.Close()
	unix.Close(s.listenFD)
	s.pool.Close()
	return nil
}

// Run drives the event loop until ctx is cancelled or RequestStop is
// called. Each tick: recompute the poll timeout, wait on the poller,
// drive every ready connection, reap idle connections, expire due
// TTLs, then accept new connections until accept would block.
func (s *Server) Run(ctx context.Context) error {
	for !s.stop {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeout := s.nextTimeout()
		events, err := s.poller.Wait(timeout)
		if err != nil {
			return err
		}

		for _, ev := range events {
			if ev.FD == s.listenFD {
				continue
			}
			s.driveConnection(ev)
		}

		s.reapIdle()
		s.expireTTLs()
		s.acceptLoop()
	}
	return nil
}

// nextTimeout computes the minimum of the next idle expiry and the
// next TTL expiry, capped at 24h.
func (s *Server) nextTimeout() time.Duration {
	timeout := maxPollTimeout

	now := time.Now().UnixMicro()
	oldestAllowed := now - s.cfg.IdleTimeout.Microseconds()
	for _, c := range s.conns {
		idleDeadline := c.LastActivity() - oldestAllowed
		if d := time.Duration(idleDeadline) * time.Microsecond; d < timeout {
			if d < 0 {
				d = 0
			}
			timeout = d
		}
	}

	if expireAt, ok := s.store.NextExpiry(); ok {
		if d := time.Duration(expireAt-now) * time.Microsecond; d < timeout {
			if d < 0 {
				d = 0
			}
			timeout = d
		}
	}

	return timeout
}

func (s *Server) driveConnection(ev netpoll.Event) {
	c, ok := s.conns[ev.FD]
	if !ok {
		return
	}

	if ev.Error {
		s.closeConn(c)
		return
	}

	wantWriteBefore := c.WantWrite()
	if err := c.Drive(); err != nil || c.State == conn.End {
		s.closeConn(c)
		return
	}

	if c.WantWrite() != wantWriteBefore {
		s.poller.Modify(c.FD, !c.WantWrite(), c.WantWrite())
	}
}

func (s *Server) closeConn(c *conn.Conn) {
	s.poller.Remove(c.FD)
	unix.Close(c.FD)
	delete(s.conns, c.FD)
	s.metrics.ConnectionsClosed.Add(1)
}

// reapIdle closes every connection that has been idle for at least
// IdleTimeout.
func (s *Server) reapIdle() {
	now := time.Now().UnixMicro()
	budget := s.cfg.IdleTimeout.Microseconds()
	for _, c := range s.conns {
		if now-c.LastActivity() >= budget {
			s.metrics.ConnectionsReaped.Add(1)
			s.closeConn(c)
		}
	}
}

// expireTTLs reclaims up to MaxTTLPerTick keys whose TTL has elapsed.
func (s *Server) expireTTLs() {
	n := s.store.ExpireDue(s.cfg.MaxTTLPerTick)
	if n > 0 {
		s.metrics.KeysExpired.Add(int64(n))
	}
}

// acceptLoop accepts until it would block, configuring each new
// connection as nonblocking and registering it for read readiness.
func (s *Server) acceptLoop() {
	for {
		fd, _, err := unix.Accept(s.listenFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if s.log != nil {
				s.log.Warn("accept failed", zap.Error(err))
			}
			return
		}

		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}
		if err := s.poller.Add(fd, true, false); err != nil {
			unix.Close(fd)
			continue
		}

		s.conns[fd] = conn.New(fd, s.cfg.MaxFrameSize, s.dispatcher, nowMicros)
		s.metrics.ConnectionsAccepted.Add(1)
	}
}
