//go:build !linux

package netpoll

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Poller wraps a net.Listener and turns accept deadlines into a readiness
// wait.
type Poller struct {
	ln      *net.TCPListener
	pending net.Conn

	closeOnce sync.Once
	closed    bool
}

// Listen binds a TCP listener to addr.
func Listen(addr string, cfg Config) (*Poller, error) {
	_ = cfg.withDefaults()

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netpoll: listen: %w", err)
	}
	return &Poller{ln: ln.(*net.TCPListener)}, nil
}

// Wait blocks for at most timeout until a connection is accepted and held
// for the next Accept call.
func (p *Poller) Wait(timeout time.Duration) (bool, error) {
	if p.closed {
		return false, ErrClosed
	}
	if p.pending != nil {
		return true, nil
	}

	if timeout >= 0 {
		_ = p.ln.SetDeadline(time.Now().Add(timeout))
	} else {
		_ = p.ln.SetDeadline(time.Time{})
	}

	conn, err := p.ln.Accept()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return false, nil
		}
		return false, fmt.Errorf("netpoll: accept: %w", err)
	}
	p.pending = conn
	return true, nil
}

// Accept returns the connection found by Wait, then ErrWouldBlock.
func (p *Poller) Accept() (net.Conn, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.pending == nil {
		return nil, ErrWouldBlock
	}
	conn := p.pending
	p.pending = nil
	return conn, nil
}

// Addr returns the bound address.
func (p *Poller) Addr() net.Addr {
	return p.ln.Addr()
}

// Close closes any held connection and the listener.
func (p *Poller) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed = true
		if p.pending != nil {
			_ = p.pending.Close()
			p.pending = nil
		}
		err = p.ln.Close()
	})
	return err
}
