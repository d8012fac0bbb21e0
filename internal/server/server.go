// Package server runs one console session on a UDP socket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/x32emu/internal/dispatch"
	"github.com/danmuck/x32emu/internal/observability"
	"github.com/danmuck/x32emu/internal/protocol"
	"github.com/danmuck/x32emu/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultListenAddr  = "0.0.0.0:10023"
	DefaultReadTimeout = 100 * time.Millisecond
	maxDatagram        = 65536

	receiveBackoffStep = 10 * time.Millisecond
	maxReceiveBackoff  = 500 * time.Millisecond
)

var (
	ErrAlreadyRunning = errors.New("server: already running")
	ErrStopped        = errors.New("server: stopped")
)

// TransportError wraps a socket failure with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Config struct {
	ListenAddr  string
	ReadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{ListenAddr: DefaultListenAddr, ReadTimeout: DefaultReadTimeout}
}

// ListenFunc opens the session socket.
type ListenFunc func(ctx context.Context, network, address string) (net.PacketConn, error)

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithListenFunc(fn ListenFunc) Option {
	return func(s *Server) { s.listen = fn }
}

// WithClock drives subscription timing. Socket deadlines always use wall time.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Stats are cumulative counters for one session.
type Stats struct {
	Received       uint64
	Sent           uint64
	DecodeErrors   uint64
	DispatchErrors uint64
	ReceiveErrors  uint64
	SendErrors     uint64
}

type counters struct {
	received, sent, decodeErrors, dispatchErrors, receiveErrors, sendErrors atomic.Uint64
}

// Server is one session: Idle -> Running -> Stopping -> Stopped.
type Server struct {
	cfg    Config
	d      *dispatch.Dispatcher
	id     string
	logger zerolog.Logger
	listen ListenFunc
	now    func() time.Time

	mu    sync.Mutex
	state State
	conn  net.PacketConn
	stop  chan struct{}
	done  chan struct{}

	stats counters
}

func New(cfg Config, d *dispatch.Dispatcher, opts ...Option) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	s := &Server{
		cfg:    cfg,
		d:      d,
		id:     uuid.NewString(),
		logger: log.Logger.With().Str("component", "server").Logger(),
		listen: listenUDP,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("session", s.id).Logger()
	return s
}

func listenUDP(ctx context.Context, network, address string) (net.PacketConn, error) {
	var lc net.ListenConfig
	return lc.ListenPacket(ctx, network, address)
}

// Start binds the socket and launches the service loop. It is valid once.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning, StateStopping:
		return ErrAlreadyRunning
	case StateStopped:
		return ErrStopped
	}

	conn, err := s.listen(ctx, "udp", s.cfg.ListenAddr)
	if err != nil {
		return &TransportError{Op: "bind", Err: err}
	}
	s.conn = conn
	s.state = StateRunning
	s.logger.Info().Str("addr", conn.LocalAddr().String()).Msg("session started")

	go s.loop(ctx, conn)
	return nil
}

// Stop signals the loop and waits for it to exit. Idle and Stopped are no-ops.
func (s *Server) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateStopped:
		s.mu.Unlock()
		return nil
	case StateRunning:
		s.state = StateStopping
		close(s.stop)
	}
	s.mu.Unlock()

	<-s.done
	return nil
}

// Done is closed once the loop has exited.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr is the bound socket address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// ID correlates log lines of one session.
func (s *Server) ID() string {
	return s.id
}

func (s *Server) Stats() Stats {
	return Stats{
		Received:       s.stats.received.Load(),
		Sent:           s.stats.sent.Load(),
		DecodeErrors:   s.stats.decodeErrors.Load(),
		DispatchErrors: s.stats.dispatchErrors.Load(),
		ReceiveErrors:  s.stats.receiveErrors.Load(),
		SendErrors:     s.stats.sendErrors.Load(),
	}
}

func (s *Server) loop(ctx context.Context, conn net.PacketConn) {
	defer s.finish(conn)
	buf := make([]byte, maxDatagram)
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		s.emitDue(conn)

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				failures = 0
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Warn().Err(err).Msg("socket closed")
				return
			}
			failures++
			s.stats.receiveErrors.Add(1)
			observability.RecordTransportError("receive")
			s.logger.Warn().Err(err).Int("consecutive", failures).Msg("receive failed")
			if !s.pause(ctx, receiveBackoff(failures)) {
				return
			}
			continue
		}
		failures = 0
		s.handle(conn, buf[:n], peer)
	}
}

// receiveBackoff grows linearly with consecutive receive failures, capped.
func receiveBackoff(failures int) time.Duration {
	d := time.Duration(failures) * receiveBackoffStep
	if d > maxReceiveBackoff {
		return maxReceiveBackoff
	}
	return d
}

// pause waits for d and reports false when the session should end instead.
func (s *Server) pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (s *Server) finish(conn net.PacketConn) {
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn().Err(err).Msg("close socket")
	}
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	close(s.done)
	s.logger.Info().Msg("session stopped")
}

func (s *Server) handle(conn net.PacketConn, data []byte, peer net.Addr) {
	s.stats.received.Add(1)
	observability.RecordDatagramIn(len(data))

	msg, err := protocol.Unmarshal(data)
	if err != nil {
		s.stats.decodeErrors.Add(1)
		observability.RecordDecodeError()
		s.logger.Warn().Err(err).Str("peer", peer.String()).Int("bytes", len(data)).Msg("decode failed")
		return
	}

	start := time.Now()
	replies, err := s.d.Dispatch(msg, peer)
	observability.RecordDispatch(time.Since(start), len(replies), err != nil)
	if err != nil {
		s.stats.dispatchErrors.Add(1)
		s.logger.Warn().Err(err).Str("peer", peer.String()).Str("address", msg.Address).Msg("dispatch failed")
		return
	}
	s.logger.Debug().Str("peer", peer.String()).Str("address", msg.Address).Int("replies", len(replies)).Msg("dispatched")
	for _, reply := range replies {
		s.send(conn, peer, reply)
	}
}

// emitDue sends subscription frames that came due and refreshes session gauges.
func (s *Server) emitDue(conn net.PacketConn) {
	now := s.now()
	for _, f := range s.d.Tick(now) {
		s.send(conn, f.Peer, f.Message)
	}
	observability.SetRemoteClients(s.d.Subscriptions().RemoteCount(now))
	_ = s.d.Guard().View(func(r store.Reader) error {
		observability.SetStoreEntries(r.Len())
		return nil
	})
}

func (s *Server) send(conn net.PacketConn, peer net.Addr, msg protocol.Message) {
	buf, err := protocol.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("address", msg.Address).Msg("encode reply")
		return
	}
	if _, err := conn.WriteTo(buf, peer); err != nil {
		s.stats.sendErrors.Add(1)
		observability.RecordTransportError("send")
		s.logger.Warn().Err(err).Str("peer", peer.String()).Msg("send failed")
		return
	}
	s.stats.sent.Add(1)
	observability.RecordDatagramOut(len(buf))
}
