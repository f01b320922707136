// Package netpoll owns the listening socket and reports when it has
// connections ready to accept.
//
// On Linux the socket is non-blocking and watched through epoll; only the
// listener is registered, accepted connections are handed straight to the
// caller as net.Conn. Other platforms fall back to a net.Listener polled
// with accept deadlines.
package netpoll

import (
	"errors"
	"time"
)

const (
	DefaultBacklog   = 128
	DefaultMaxEvents = 64
)

var (
	// ErrWouldBlock ends an accept drain: nothing else is pending.
	ErrWouldBlock = errors.New("netpoll: no pending connection")
	ErrClosed     = errors.New("netpoll: poller closed")
)

// Config tunes the listening socket.
type Config struct {
	Backlog   int
	MaxEvents int
}

func (c Config) withDefaults() Config {
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	return c
}

func waitMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(d / time.Millisecond)
}
