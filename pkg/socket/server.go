package socket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/metrics"
	"github.com/jingkaihe/logdispatch/pkg/wire"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Types resolves the names allowed beyond the event types.
	Types *wire.TypeRegistry
	// AllowedTypes extends the event allow-list.
	AllowedTypes []string
}

// Server accepts socket sink connections and hands every received event to
// an Appender. Each connection is read through the deserialization gate;
// a rejected frame closes that connection.
type Server struct {
	cfg    ServerConfig
	target logging.Appender
	logger *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[string]net.Conn
	closed bool
}

func NewServer(cfg ServerConfig, target logging.Appender, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		target: target,
		logger: logger.With("component", "socket-server"),
		conns:  make(map[string]net.Conn),
	}
}

// Listen binds addr.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errx.With(ErrListen, " on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called and
// returns once every connection handler has finished.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})
	g.Go(func() error {
		defer cancel()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if s.isClosed() {
					return nil
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return errx.Wrap(ErrListen, err)
			}
			id := uuid.NewString()
			if !s.track(id, conn) {
				_ = conn.Close()
				return nil
			}
			g.Go(func() error {
				defer s.untrack(id)
				s.handle(id, conn)
				return nil
			})
		}
	})
	return g.Wait()
}

func (s *Server) handle(id string, conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With("conn_id", id, "remote", conn.RemoteAddr().String())
	logger.Debug("connection accepted")

	dec, err := wire.NewEventDecoder(conn, s.cfg.Types, s.cfg.AllowedTypes...)
	if err != nil {
		logger.Error("creating decoder", "error", err)
		return
	}
	for {
		event, err := dec.ReadEvent()
		if err != nil {
			s.logReadError(logger, err)
			return
		}
		if s.target != nil {
			s.target.Append(event)
		}
	}
}

func (s *Server) logReadError(logger *slog.Logger, err error) {
	var unauthorized *wire.UnauthorizedTypeError
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("connection closed by peer")
	case errors.Is(err, net.ErrClosed):
		logger.Debug("connection closed")
	case errors.As(err, &unauthorized):
		metrics.RejectedFrames.WithLabelValues(metrics.RejectUnauthorized).Inc()
		logger.Error("rejected unauthorized type, dropping connection", "type", unauthorized.TypeName)
	case errors.Is(err, wire.ErrFrameTooLarge):
		metrics.RejectedFrames.WithLabelValues(metrics.RejectOversized).Inc()
		logger.Error("rejected oversized frame, dropping connection", "error", err)
	default:
		metrics.RejectedFrames.WithLabelValues(metrics.RejectMalformed).Inc()
		logger.Warn("reading event failed, dropping connection", "error", err)
	}
}

func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range conns {
		_ = c.Close()
	}
	return errors.Join(errs...)
}
