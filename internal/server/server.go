// Package server runs the accept loop that turns ready connections into
// pool tasks.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/dialogrelay/internal/logging"
	"github.com/utkarsh5026/dialogrelay/internal/netpoll"
	"github.com/utkarsh5026/dialogrelay/pool"
)

const (
	DefaultPollTimeout   = time.Second
	DefaultStatsInterval = 30 * time.Second

	// DefaultAcceptBackoff is the pause after an accept error such as EMFILE,
	// which leaves the listener readable until descriptors free up.
	DefaultAcceptBackoff = 50 * time.Millisecond
)

// Acceptor reports listener readiness and hands out pending connections.
// *netpoll.Poller implements it.
type Acceptor interface {
	Wait(timeout time.Duration) (bool, error)
	Accept() (net.Conn, error)
	Addr() net.Addr
	Close() error
}

// Handler serves one connection and closes it.
type Handler interface {
	Serve(ctx context.Context, conn net.Conn)
}

// StatsFunc receives periodic pool snapshots.
type StatsFunc func(pool.Stats)

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPollTimeout bounds each readiness wait, and so how quickly Stop and
// cancellation are noticed.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithAcceptBackoff sets the pause after a failed accept.
func WithAcceptBackoff(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.acceptBackoff = d
		}
	}
}

// WithStatsInterval sets how often pool statistics are reported. Zero or
// less disables reporting.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Server) {
		s.statsInterval = d
	}
}

// WithStatsFunc replaces the default stats logger.
func WithStatsFunc(fn StatsFunc) Option {
	return func(s *Server) {
		s.onStats = fn
	}
}

// Server owns the acceptor, the worker pool and the handler for the life of
// the process.
type Server struct {
	acceptor Acceptor
	pool     *pool.Pool
	handler  Handler
	log      *logging.Logger

	pollTimeout   time.Duration
	acceptBackoff time.Duration
	statsInterval time.Duration
	onStats       StatsFunc

	running  atomic.Bool
	accepted atomic.Int64
	rejected atomic.Int64
}

// New assembles a Server. Run takes ownership of the acceptor and the pool
// and releases both when it returns.
func New(acceptor Acceptor, p *pool.Pool, h Handler, opts ...Option) *Server {
	s := &Server{
		acceptor:      acceptor,
		pool:          p,
		handler:       h,
		log:           logging.NopLogger(),
		pollTimeout:   DefaultPollTimeout,
		acceptBackoff: DefaultAcceptBackoff,
		statsInterval: DefaultStatsInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "server")
	if s.onStats == nil {
		s.onStats = s.logStats
	}
	s.running.Store(true)
	return s
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

// Stop asks Run to return after its current wait.
func (s *Server) Stop() {
	s.running.Store(false)
}

// Accepted returns how many connections were handed to the pool.
func (s *Server) Accepted() int64 { return s.accepted.Load() }

// Rejected returns how many connections were closed because the pool
// refused them.
func (s *Server) Rejected() int64 { return s.rejected.Load() }

// Run accepts connections until ctx is cancelled, Stop is called or the
// readiness wait fails. On return the pool has been destroyed, which lets
// queued requests finish, and the listener is closed.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("server listening", "addr", s.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.acceptLoop(gctx)
	})
	if s.statsInterval > 0 {
		g.Go(func() error {
			s.statsLoop(gctx)
			return nil
		})
	}
	err := g.Wait()

	s.running.Store(false)
	s.pool.Destroy()
	if cerr := s.acceptor.Close(); cerr != nil {
		s.log.Warn("failed to close listener", "error", cerr)
	}

	s.log.Info("server stopped", "accepted", s.accepted.Load(), "rejected", s.rejected.Load())
	return err
}

func (s *Server) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for s.running.Load() {
		if ctx.Err() != nil {
			return nil
		}

		ready, err := s.acceptor.Wait(s.pollTimeout)
		if err != nil {
			return fmt.Errorf("server: wait: %w", err)
		}
		if ready {
			s.drain(ctx)
		}
	}
	return nil
}

// drain accepts every pending connection.
func (s *Server) drain(ctx context.Context) {
	for {
		conn, err := s.acceptor.Accept()
		if err != nil {
			if !errors.Is(err, netpoll.ErrWouldBlock) {
				s.log.Warn("accept failed", "error", err, "backoff", s.acceptBackoff)
				s.pause(ctx, s.acceptBackoff)
			}
			return
		}

		if err := s.pool.Submit(&connTask{conn: conn, handler: s.handler}); err != nil {
			s.rejected.Add(1)
			s.log.Warn("connection rejected", "remote", conn.RemoteAddr().String(), "error", err)
			_ = conn.Close()
			continue
		}
		s.accepted.Add(1)
		s.log.Debug("connection queued", "remote", conn.RemoteAddr().String())
	}
}

func (s *Server) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.onStats(s.pool.Stats())
		}
	}
}

func (s *Server) logStats(st pool.Stats) {
	s.log.Info("pool stats",
		"workers", st.Workers,
		"active", st.Active,
		"queued", st.Queued,
		"completed", st.Completed,
		"avg_ms", fmt.Sprintf("%.2f", st.AvgTaskMs()),
		"min_ms", st.MinTaskMs,
		"max_ms", st.MaxTaskMs,
		"load", fmt.Sprintf("%.2f", st.LoadRatio()),
	)
}

// connTask adapts an accepted connection to a pool task.
type connTask struct {
	conn    net.Conn
	handler Handler
}

func (t *connTask) Run(ctx context.Context) {
	t.handler.Serve(ctx, t.conn)
}

// Discard closes a connection no worker will serve.
func (t *connTask) Discard() {
	_ = t.conn.Close()
}
