package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/x32emu/internal/dispatch"
	"github.com/danmuck/x32emu/internal/protocol"
	"github.com/danmuck/x32emu/internal/store"
	"github.com/danmuck/x32emu/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	defs := append([]dispatch.Definition{
		dispatch.Generic{Address: "/ch/01/mix/fader", Kind: protocol.KindFloat, Access: dispatch.AccessReadWrite},
	}, dispatch.Builtins()...)
	reg, err := dispatch.NewRegistry(defs...)
	require.NoError(t, err)
	return dispatch.New(reg, store.NewGuard(nil))
}

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv := New(Config{ListenAddr: "127.0.0.1:0", ReadTimeout: 20 * time.Millisecond}, newDispatcher(t), opts...)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

type peer struct {
	t    *testing.T
	conn net.PacketConn
	to   net.Addr
}

func newPeer(t *testing.T, to net.Addr) *peer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &peer{t: t, conn: conn, to: to}
}

func (p *peer) send(msg protocol.Message) {
	p.t.Helper()
	buf, err := protocol.Marshal(msg)
	require.NoError(p.t, err)
	p.sendRaw(buf)
}

func (p *peer) sendRaw(buf []byte) {
	p.t.Helper()
	_, err := p.conn.WriteTo(buf, p.to)
	require.NoError(p.t, err)
}

func (p *peer) recv() protocol.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := p.conn.ReadFrom(buf)
	require.NoError(p.t, err)
	msg, err := protocol.Unmarshal(buf[:n])
	require.NoError(p.t, err)
	return msg
}

func TestServeHandshakeAndParameters(t *testing.T) {
	testlog.Start(t)
	srv := startServer(t)
	require.Equal(t, StateRunning, srv.State())
	require.NotEmpty(t, srv.ID())

	c := newPeer(t, srv.Addr())
	c.send(protocol.NewMessage("/info"))
	info := c.recv()
	require.Equal(t, "/info", info.Address)
	require.Len(t, info.Args, 4)

	c.send(protocol.NewMessage("/ch/01/mix/fader", protocol.Float(0.6)))
	c.send(protocol.NewMessage("/ch/01/mix/fader"))
	got := c.recv()
	require.True(t, got.Equal(protocol.NewMessage("/ch/01/mix/fader", protocol.Float(0.6))), "got %s", got)
}

func TestMalformedDatagramIsDropped(t *testing.T) {
	testlog.Start(t)
	srv := startServer(t)
	c := newPeer(t, srv.Addr())

	c.sendRaw([]byte("not a message"))
	c.send(protocol.NewMessage("/ch/01/mix/fader", protocol.Int(1)))
	c.send(protocol.NewMessage("/status"))
	require.Equal(t, "/status", c.recv().Address)

	stats := srv.Stats()
	require.Equal(t, uint64(1), stats.DecodeErrors)
	require.Equal(t, uint64(1), stats.DispatchErrors)
	require.Equal(t, uint64(3), stats.Received)
}

func TestStateMachine(t *testing.T) {
	testlog.Start(t)
	srv := New(Config{ListenAddr: "127.0.0.1:0"}, newDispatcher(t))
	require.Equal(t, StateIdle, srv.State())
	require.Nil(t, srv.Addr())
	require.NoError(t, srv.Stop(), "stop while idle is a no-op")

	require.NoError(t, srv.Start(context.Background()))
	require.ErrorIs(t, srv.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, srv.Stop())
	require.Equal(t, StateStopped, srv.State())
	require.NoError(t, srv.Stop(), "second stop is a no-op")
	require.ErrorIs(t, srv.Start(context.Background()), ErrStopped)

	select {
	case <-srv.Done():
	default:
		require.FailNow(t, "done channel should be closed after stop")
	}
}

func TestBindFailureStaysIdle(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("address in use")
	srv := New(DefaultConfig(), newDispatcher(t), WithListenFunc(func(context.Context, string, string) (net.PacketConn, error) {
		return nil, boom
	}))
	err := srv.Start(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "bind", te.Op)
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateIdle, srv.State())
}

func TestContextCancelEndsLoop(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	srv := New(Config{ListenAddr: "127.0.0.1:0", ReadTimeout: 10 * time.Millisecond}, newDispatcher(t))
	require.NoError(t, srv.Start(ctx))
	cancel()
	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "loop did not exit after cancel")
	}
	require.Equal(t, StateStopped, srv.State())
	require.NoError(t, srv.Stop())
}

// flakyConn fails the first readFails reads and writeFails writes with
// non-timeout errors.
type flakyConn struct {
	net.PacketConn
	readFails  atomic.Int32
	writeFails atomic.Int32
}

func (c *flakyConn) ReadFrom(b []byte) (int, net.Addr, error) {
	if c.readFails.Add(-1) >= 0 {
		return 0, nil, errors.New("connection refused")
	}
	return c.PacketConn.ReadFrom(b)
}

func (c *flakyConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	if c.writeFails.Add(-1) >= 0 {
		return 0, errors.New("no buffer space available")
	}
	return c.PacketConn.WriteTo(b, addr)
}

func flakyListen(reads, writes int32) ListenFunc {
	return func(ctx context.Context, network, address string) (net.PacketConn, error) {
		conn, err := listenUDP(ctx, network, address)
		if err != nil {
			return nil, err
		}
		fc := &flakyConn{PacketConn: conn}
		fc.readFails.Store(reads)
		fc.writeFails.Store(writes)
		return fc, nil
	}
}

func TestReceiveErrorIsNotFatal(t *testing.T) {
	testlog.Start(t)
	srv := startServer(t, WithListenFunc(flakyListen(1, 0)))
	c := newPeer(t, srv.Addr())
	c.send(protocol.NewMessage("/info"))
	require.Equal(t, "/info", c.recv().Address)
	require.Equal(t, uint64(1), srv.Stats().ReceiveErrors)
	require.Equal(t, StateRunning, srv.State())
}

func TestSendErrorIsNotFatal(t *testing.T) {
	testlog.Start(t)
	srv := startServer(t, WithListenFunc(flakyListen(0, 1)))
	c := newPeer(t, srv.Addr())

	// The /info reply is the write that fails.
	c.send(protocol.NewMessage("/info"))
	c.send(protocol.NewMessage("/status"))
	require.Equal(t, "/status", c.recv().Address)

	stats := srv.Stats()
	require.Equal(t, uint64(1), stats.SendErrors)
	require.Equal(t, uint64(1), stats.Sent)
	require.Equal(t, uint64(2), stats.Received)
	require.Equal(t, StateRunning, srv.State())
}

func TestPersistentReceiveErrorsBackOff(t *testing.T) {
	testlog.Start(t)
	srv := startServer(t, WithListenFunc(flakyListen(1<<30, 0)))
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, StateRunning, srv.State())
	require.Less(t, srv.Stats().ReceiveErrors, uint64(50))

	stopped := make(chan struct{})
	go func() {
		_ = srv.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "stop blocked behind receive backoff")
	}
	require.Equal(t, StateStopped, srv.State())
}

func TestReceiveBackoffIsCapped(t *testing.T) {
	require.Equal(t, receiveBackoffStep, receiveBackoff(1))
	require.Equal(t, 3*receiveBackoffStep, receiveBackoff(3))
	require.Equal(t, maxReceiveBackoff, receiveBackoff(1000))
}

func TestSetsFromOnePeerApplyInOrder(t *testing.T) {
	testlog.Start(t)
	srv := startServer(t)
	c := newPeer(t, srv.Addr())
	const n = 50
	for i := 1; i <= n; i++ {
		c.send(protocol.NewMessage("/ch/01/mix/fader", protocol.Float(float32(i)/n)))
	}
	c.send(protocol.NewMessage("/ch/01/mix/fader"))
	got := c.recv()
	require.True(t, got.Equal(protocol.NewMessage("/ch/01/mix/fader", protocol.Float(1))), "got %s", got)
}

func TestMeterFramesGoToSubscriber(t *testing.T) {
	testlog.Start(t)
	srv := startServer(t)
	c := newPeer(t, srv.Addr())
	c.send(protocol.NewMessage("/meters", protocol.String("/meters/2"), protocol.Int(1)))
	frame := c.recv()
	require.Equal(t, "/meters/2", frame.Address)
	blob, err := frame.Args[0].Bytes()
	require.NoError(t, err)
	require.Len(t, blob, 4+4*49)
}
