// Package client talks to a console session over UDP.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/x32emu/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoReply = errors.New("client: no reply")

type Config struct {
	// ReplyTimeout bounds the wait for one attempt.
	ReplyTimeout time.Duration
	Attempts     int
	Backoff      BackoffConfig
	Logger       *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		ReplyTimeout: 500 * time.Millisecond,
		Attempts:     3,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       true,
		},
	}
}

// Client owns one connected UDP socket. Query calls are serialized.
type Client struct {
	conn   net.Conn
	cfg    Config
	logger zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Dial connects to a console at addr ("host:port").
func Dial(addr string, cfg Config) (*Client, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultConfig().ReplyTimeout
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	logger := log.Logger.With().Str("component", "client").Str("remote", addr).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Client{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send encodes and writes msg without waiting for a reply.
func (c *Client) Send(ctx context.Context, msg protocol.Message) error {
	buf, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(d)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("client: send %s: %w", msg.Address, err)
	}
	return nil
}

// Query sends msg and waits for the first reply on the same address,
// re-sending with backoff until Attempts is exhausted.
func (c *Client) Query(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if err := c.Send(ctx, msg); err != nil {
			return protocol.Message{}, err
		}
		reply, err := c.await(ctx, msg.Address)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return protocol.Message{}, ctx.Err()
		}
		if !errors.Is(err, ErrNoReply) {
			c.logger.Debug().Err(err).Str("address", msg.Address).Msg("receive failed")
		}
		if attempt == c.cfg.Attempts {
			break
		}
		delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
		c.logger.Debug().Str("address", msg.Address).Int("attempt", attempt).Dur("backoff", delay).Msg("no reply, retrying")
		select {
		case <-ctx.Done():
			return protocol.Message{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return protocol.Message{}, fmt.Errorf("%w: %s after %d attempts", ErrNoReply, msg.Address, c.cfg.Attempts)
}

// Receive reads the next decodable message, waiting at most ReplyTimeout.
func (c *Client) Receive(ctx context.Context) (protocol.Message, error) {
	return c.await(ctx, "")
}

// await reads until a message with address arrives or the attempt times
// out. An empty address accepts anything.
func (c *Client) await(ctx context.Context, address string) (protocol.Message, error) {
	deadline := time.Now().Add(c.cfg.ReplyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	buf := make([]byte, 65536)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return protocol.Message{}, ErrNoReply
			}
			return protocol.Message{}, fmt.Errorf("client: receive: %w", err)
		}
		reply, err := protocol.Unmarshal(buf[:n])
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping undecodable reply")
			continue
		}
		if address == "" || reply.Address == address {
			return reply, nil
		}
		c.logger.Debug().Str("address", reply.Address).Msg("skipping unrelated message")
	}
}

// KeepAlive re-sends /xremote every interval until ctx ends.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration) error {
	ping := protocol.NewMessage("/xremote")
	if err := c.Send(ctx, ping); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Send(ctx, ping); err != nil {
				return err
			}
		}
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
