// Package socket ships events between processes over TCP using the gated
// wire format.
package socket

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/wire"
)

const DefaultDialTimeout = 5 * time.Second

// SinkConfig configures a socket sink.
type SinkConfig struct {
	Name         string
	Address      string
	DialTimeout  time.Duration
	LocationInfo bool
}

// Sink sends every event as one frame to a remote Server. The connection is
// dialed on the first write. A failed send drops the connection and the
// next write dials again.
type Sink struct {
	cfg    SinkConfig
	logger *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	enc    *wire.Encoder
	closed bool
}

// NewSink validates cfg. It does not connect.
func NewSink(cfg SinkConfig, logger *slog.Logger) (*Sink, error) {
	if cfg.Address == "" {
		return nil, ErrMissingAddr
	}
	if cfg.Name == "" {
		cfg.Name = "socket"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		cfg:    cfg,
		logger: logger.With("component", "socket", "sink", cfg.Name, "address", cfg.Address),
	}, nil
}

func (s *Sink) Name() string { return s.cfg.Name }

func (s *Sink) Write(event *logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	event.Prepare(logging.PrepareOptions{IncludeLocation: s.cfg.LocationInfo})

	if s.conn == nil {
		if err := s.dialLocked(); err != nil {
			return err
		}
	}
	if err := s.enc.Encode(event); err != nil {
		s.logger.Debug("send failed, dropping connection", "error", err)
		s.dropLocked()
		return errx.Wrap(ErrSend, err)
	}
	return nil
}

func (s *Sink) dialLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return errx.With(ErrDial, " %s: %w", s.cfg.Address, err)
	}
	s.logger.Debug("connected")
	s.conn = conn
	s.enc = wire.NewEncoder(conn)
	return nil
}

func (s *Sink) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.enc = nil
}

// Close closes the connection. Calling Close again does nothing.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.enc = nil
	return err
}
