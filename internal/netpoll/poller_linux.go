//go:build linux

package netpoll

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Poller is an epoll-backed listening socket.
type Poller struct {
	fd     int
	epfd   int
	addr   *net.TCPAddr
	events []unix.EpollEvent

	closeOnce sync.Once
	closed    bool
}

// Listen binds a non-blocking TCP socket to addr ("host:port", empty host
// for all interfaces) and registers it with a new epoll instance. Every
// partially created resource is released on failure.
func Listen(addr string, cfg Config) (*Poller, error) {
	cfg = cfg.withDefaults()

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netpoll: resolve %q: %w", addr, err)
	}

	family, sa := sockaddr(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("netpoll: socket: %w", err)
	}

	p := &Poller{fd: fd, epfd: -1, events: make([]unix.EpollEvent, cfg.MaxEvents)}
	if err := p.setup(sa, cfg.Backlog); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Poller) setup(sa unix.Sockaddr, backlog int) error {
	if err := unix.SetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("netpoll: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(p.fd, sa); err != nil {
		return fmt.Errorf("netpoll: bind: %w", err)
	}
	if err := unix.Listen(p.fd, backlog); err != nil {
		return fmt.Errorf("netpoll: listen: %w", err)
	}

	bound, err := unix.Getsockname(p.fd)
	if err != nil {
		return fmt.Errorf("netpoll: getsockname: %w", err)
	}
	p.addr = tcpAddrOf(bound)

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("netpoll: epoll_create1: %w", err)
	}
	p.epfd = epfd

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(p.fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.fd, &ev); err != nil {
		return fmt.Errorf("netpoll: epoll_ctl add: %w", err)
	}
	return nil
}

// Wait blocks for at most timeout until the listener is readable. An
// interrupted wait reports no readiness and no error.
func (p *Poller) Wait(timeout time.Duration) (bool, error) {
	if p.closed {
		return false, ErrClosed
	}

	n, err := unix.EpollWait(p.epfd, p.events, waitMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("netpoll: epoll_wait: %w", err)
	}

	for i := range n {
		ev := p.events[i]
		if int(ev.Fd) != p.fd {
			continue
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return false, fmt.Errorf("netpoll: listener error events %#x", ev.Events)
		}
		if ev.Events&unix.EPOLLIN != 0 {
			return true, nil
		}
	}
	return false, nil
}

// Accept returns the next pending connection, or ErrWouldBlock when the
// backlog is empty.
func (p *Poller) Accept() (net.Conn, error) {
	if p.closed {
		return nil, ErrClosed
	}

	for {
		nfd, _, err := unix.Accept4(p.fd, unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return fileConn(nfd)
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			return nil, ErrWouldBlock
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		default:
			return nil, fmt.Errorf("netpoll: accept: %w", err)
		}
	}
}

// fileConn hands an accepted descriptor over to the runtime network poller
// so deadlines work on it.
func fileConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "tcp-conn")
	conn, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("netpoll: wrap fd %d: %w", fd, err)
	}
	return conn, nil
}

// Addr returns the bound address.
func (p *Poller) Addr() net.Addr {
	return p.addr
}

// Close releases the epoll instance and then the listening socket.
func (p *Poller) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		p.closed = true
		if p.epfd >= 0 {
			errs = append(errs, unix.Close(p.epfd))
		}
		errs = append(errs, unix.Close(p.fd))
	})
	return errors.Join(errs...)
}

func sockaddr(a *net.TCPAddr) (int, unix.Sockaddr) {
	if a.IP != nil && a.IP.To4() == nil {
		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], a.IP.To16())
		return unix.AF_INET6, sa
	}

	sa := &unix.SockaddrInet4{Port: a.Port}
	if a.IP != nil {
		copy(sa.Addr[:], a.IP.To4())
	}
	return unix.AF_INET, sa
}

func tcpAddrOf(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]).To16(), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return &net.TCPAddr{}
	}
}
