// Package kafkasink publishes events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/logging"
)

var (
	ErrMissingBrokers = errors.New("kafkasink: at least one broker required")
	ErrMissingTopic   = errors.New("kafkasink: topic required")
	ErrPublish        = errors.New("kafkasink: publish event")
	ErrSinkClosed     = errors.New("kafkasink: sink closed")
)

const DefaultWriteTimeout = 10 * time.Second

// Config configures a Kafka sink.
type Config struct {
	Name    string
	Brokers []string
	Topic   string
	// Async hands messages to the writer's background batching instead of
	// waiting for broker acknowledgement.
	Async        bool
	WriteTimeout time.Duration
	LocationInfo bool
}

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink publishes one message per event. The key is the logger name. The
// value is the layout output when a layout is set, otherwise the JSON
// encoding of the event.
type Sink struct {
	cfg    Config
	layout logging.Layout
	writer messageWriter
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a sink backed by a kafka-go writer. layout may be nil.
func New(cfg Config, layout logging.Layout, logger *slog.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrMissingBrokers
	}
	if cfg.Topic == "" {
		return nil, ErrMissingTopic
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
		Async:    cfg.Async,
	}
	return newSink(cfg, layout, w, logger), nil
}

func newSink(cfg Config, layout logging.Layout, w messageWriter, logger *slog.Logger) *Sink {
	if cfg.Name == "" {
		cfg.Name = "kafka"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		cfg:    cfg,
		layout: layout,
		writer: w,
		logger: logger.With("component", "kafkasink", "sink", cfg.Name, "topic", cfg.Topic),
	}
}

func (s *Sink) Name() string { return s.cfg.Name }

func (s *Sink) Write(event *logging.Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}

	event.Prepare(logging.PrepareOptions{IncludeLocation: s.cfg.LocationInfo})
	value, err := s.encode(event)
	if err != nil {
		return errx.Wrap(ErrPublish, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.LoggerName),
		Value: value,
		Time:  event.Timestamp,
	})
	if err != nil {
		return errx.Wrap(ErrPublish, err)
	}
	return nil
}

func (s *Sink) encode(event *logging.Event) ([]byte, error) {
	if s.layout != nil {
		return []byte(s.layout.Format(event)), nil
	}
	return json.Marshal(event)
}

// Close flushes pending async messages and closes the writer. Calling Close
// again does nothing.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.writer.Close(); err != nil {
		s.logger.Warn("closing kafka writer", "error", err)
		return err
	}
	return nil
}
