package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utkarsh5026/dialogrelay/internal/ai"
	"github.com/utkarsh5026/dialogrelay/internal/canned"
	"github.com/utkarsh5026/dialogrelay/internal/client"
	"github.com/utkarsh5026/dialogrelay/internal/netpoll"
	"github.com/utkarsh5026/dialogrelay/internal/protocol"
	"github.com/utkarsh5026/dialogrelay/internal/relay"
	"github.com/utkarsh5026/dialogrelay/pool"
)

type fakeAcceptor struct {
	mu        sync.Mutex
	pending   []net.Conn
	waitErr   error
	acceptErr error
	accepts   atomic.Int64
	closed    atomic.Bool
}

func (f *fakeAcceptor) push(c net.Conn) {
	f.mu.Lock()
	f.pending = append(f.pending, c)
	f.mu.Unlock()
}

func (f *fakeAcceptor) Wait(timeout time.Duration) (bool, error) {
	if f.waitErr != nil {
		return false, f.waitErr
	}
	if f.acceptErr != nil {
		return true, nil
	}
	f.mu.Lock()
	n := len(f.pending)
	f.mu.Unlock()
	if n > 0 {
		return true, nil
	}
	time.Sleep(min(timeout, 5*time.Millisecond))
	return false, nil
}

func (f *fakeAcceptor) Accept() (net.Conn, error) {
	f.accepts.Add(1)
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, netpoll.ErrWouldBlock
	}
	c := f.pending[0]
	f.pending = f.pending[1:]
	return c, nil
}

func (f *fakeAcceptor) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

func (f *fakeAcceptor) Close() error {
	f.closed.Store(true)
	return nil
}

type handlerFunc func(ctx context.Context, conn net.Conn)

func (f handlerFunc) Serve(ctx context.Context, conn net.Conn) { f(ctx, conn) }

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.New(context.Background(), pool.WithBounds(1, 4), pool.WithInitialWorkers(2))
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	return p
}

func runAsync(t *testing.T, ctx context.Context, s *Server) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestServer_EndToEnd(t *testing.T) {
	poller, err := netpoll.Listen("127.0.0.1:0", netpoll.Config{})
	require.NoError(t, err)

	var calls atomic.Int64
	backend := ai.BackendFunc(func(_ context.Context, personality, language, conversation string) (ai.Reply, error) {
		calls.Add(1)
		if language == "it" {
			return ai.Reply{Text: "Ciao!", Behavior: "smile"}, nil
		}
		return ai.Reply{Text: "Hello!"}, nil
	})
	h := relay.NewHandler(backend, canned.New())

	s := New(poller, newPool(t), h, WithPollTimeout(20*time.Millisecond), WithStatsInterval(0))
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, s)
	addr := s.Addr().String()

	msg, err := client.Exchange(context.Background(), addr, protocol.AIDialogRequest, "ext:5|it|[...]Hello")
	require.NoError(t, err)
	assert.Equal(t, protocol.AIDialogResponse, msg.Type)
	assert.Equal(t, "Ciao!", msg.Payload)

	msg, err = client.Exchange(context.Background(), addr, protocol.AIDialogRequest, "ext:5|it")
	require.NoError(t, err)
	assert.Equal(t, protocol.Error, msg.Type)
	assert.Equal(t, relay.MsgMissingFields, msg.Payload)
	assert.EqualValues(t, 1, calls.Load())

	reply, err := client.Test(context.Background(), addr, "en")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)

	cancel()
	require.NoError(t, waitRun(t, done))
	assert.EqualValues(t, 3, s.Accepted())

	_, err = client.Exchange(context.Background(), addr, protocol.TestDialogRequest, "en")
	assert.Error(t, err, "listener must be closed after Run returns")
}

func TestServer_ConcurrentClients(t *testing.T) {
	poller, err := netpoll.Listen("127.0.0.1:0", netpoll.Config{})
	require.NoError(t, err)

	backend := ai.BackendFunc(func(context.Context, string, string, string) (ai.Reply, error) {
		time.Sleep(5 * time.Millisecond)
		return ai.Reply{Text: "ok"}, nil
	})
	p, err := pool.New(context.Background(),
		pool.WithBounds(2, 8),
		pool.WithInitialWorkers(2),
		pool.WithScaleInterval(time.Millisecond),
	)
	require.NoError(t, err)

	s := New(poller, p, relay.NewHandler(backend, canned.New()), WithPollTimeout(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, s)
	addr := s.Addr().String()

	const clients = 40
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := client.Dialog(context.Background(), addr, protocol.DialogRequest{
				Personality:  fmt.Sprintf("p%d", i),
				Language:     "en",
				Conversation: "hi",
			})
			if err == nil && got != "ok" {
				err = fmt.Errorf("unexpected reply %q", got)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	cancel()
	require.NoError(t, waitRun(t, done))

	st := p.Stats()
	assert.EqualValues(t, clients, st.Completed)
	assert.LessOrEqual(t, st.Workers, st.Max)
	assert.GreaterOrEqual(t, st.Workers, st.Min)
}

func TestServer_RejectedConnectionIsClosed(t *testing.T) {
	acc := &fakeAcceptor{}
	p := newPool(t)
	p.Destroy()

	s := New(acc, p, handlerFunc(func(context.Context, net.Conn) {
		t.Error("handler must not run for a rejected connection")
	}), WithPollTimeout(time.Millisecond))

	local, remote := net.Pipe()
	acc.push(remote)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, s)

	require.NoError(t, local.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := local.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	cancel()
	require.NoError(t, waitRun(t, done))
	assert.EqualValues(t, 1, s.Rejected())
	assert.Zero(t, s.Accepted())
}

func TestServer_WaitErrorStopsRun(t *testing.T) {
	boom := errors.New("epoll broke")
	acc := &fakeAcceptor{waitErr: boom}
	p := newPool(t)

	s := New(acc, p, handlerFunc(func(context.Context, net.Conn) {}))
	err := s.Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.True(t, p.Closed(), "pool destroyed on exit")
	assert.True(t, acc.closed.Load(), "acceptor closed on exit")
}

func TestServer_AcceptErrorBacksOff(t *testing.T) {
	acc := &fakeAcceptor{acceptErr: errors.New("accept: too many open files")}
	p := newPool(t)

	s := New(acc, p, handlerFunc(func(context.Context, net.Conn) {
		t.Error("handler must not run when accept fails")
	}), WithPollTimeout(time.Millisecond), WithAcceptBackoff(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, s)

	time.Sleep(200 * time.Millisecond)
	cancel()
	require.NoError(t, waitRun(t, done))

	// A listener that stays readable must not turn the loop into a spin.
	got := acc.accepts.Load()
	assert.Positive(t, got)
	assert.LessOrEqual(t, got, int64(10), "accept retried %d times in 200ms", got)
	assert.Zero(t, s.Accepted())
}

func TestServer_Stop(t *testing.T) {
	acc := &fakeAcceptor{}
	s := New(acc, newPool(t), handlerFunc(func(context.Context, net.Conn) {}), WithPollTimeout(time.Millisecond))

	done := runAsync(t, context.Background(), s)
	s.Stop()

	require.NoError(t, waitRun(t, done))
	assert.True(t, acc.closed.Load())
}

func TestServer_QueuedConnectionsFinishOnShutdown(t *testing.T) {
	acc := &fakeAcceptor{}
	p, err := pool.New(context.Background(), pool.WithBounds(1, 1), pool.WithInitialWorkers(1))
	require.NoError(t, err)

	release := make(chan struct{})
	var served atomic.Int64
	h := handlerFunc(func(_ context.Context, conn net.Conn) {
		defer conn.Close()
		<-release
		served.Add(1)
	})

	s := New(acc, p, h, WithPollTimeout(time.Millisecond), WithStatsInterval(0))
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, s)

	const n = 3
	for range n {
		_, remote := net.Pipe()
		acc.push(remote)
	}
	require.Eventually(t, func() bool { return s.Accepted() == n }, 2*time.Second, time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, waitRun(t, done))
	assert.EqualValues(t, n, served.Load())
}

func TestServer_StatsReported(t *testing.T) {
	acc := &fakeAcceptor{}
	got := make(chan pool.Stats, 8)

	s := New(acc, newPool(t), handlerFunc(func(context.Context, net.Conn) {}),
		WithPollTimeout(time.Millisecond),
		WithStatsInterval(5*time.Millisecond),
		WithStatsFunc(func(st pool.Stats) {
			select {
			case got <- st:
			default:
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, s)

	select {
	case st := <-got:
		assert.Equal(t, 2, st.Workers)
	case <-time.After(2 * time.Second):
		t.Fatal("no stats reported")
	}

	cancel()
	require.NoError(t, waitRun(t, done))
}
