// Package sqlsink writes events as rows through database/sql. Values are
// always bound as statement parameters, never spliced into the SQL text.
package sqlsink

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/storedb"
)

// Config configures a database sink.
type Config struct {
	Name       string
	DriverName string
	DSN        string
	// SQL is the statement template, for example
	//   INSERT INTO logs (ts, level, msg) VALUES ('%d', '%p', '%m')
	SQL string
	// BufferSize is how many events are collected before a flush.
	BufferSize int
	// LocationInfo captures the call site when events are prepared here.
	LocationInfo bool
	// Migrations create the target schema. They are applied through
	// storedb and only when DriverName is the bundled sqlite driver.
	Migrations []storedb.Migration
}

// Sink buffers events and inserts them in one transaction per flush.
type Sink struct {
	cfg    Config
	db     *sql.DB
	ownsDB bool
	params *Parameterizer
	errs   logging.ErrorHandler
	logger *slog.Logger

	mu     sync.Mutex
	buffer []*logging.Event
	closed bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithDB uses an already open database instead of opening DriverName/DSN.
// The sink does not close it.
func WithDB(db *sql.DB) Option {
	return func(s *Sink) { s.db = db }
}

// WithErrorHandler sets where flush failures are reported.
func WithErrorHandler(h logging.ErrorHandler) Option {
	return func(s *Sink) { s.errs = h }
}

// WithLogger sets the sink's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// Open validates cfg, compiles its statement and connects to the database.
func Open(cfg Config, opts ...Option) (*Sink, error) {
	s := &Sink{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Name == "" {
		s.cfg.Name = "sql"
	}
	if s.cfg.BufferSize < 1 {
		s.cfg.BufferSize = 1
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "sqlsink", "sink", s.cfg.Name)
	if s.errs == nil {
		s.errs = logging.NewLogErrorHandler(s.logger)
	}

	if s.cfg.SQL == "" {
		s.errs.Error("no SQL statement configured for sink "+s.cfg.Name, ErrMissingSQL, logging.ConfigurationFailure, nil)
		return nil, ErrMissingSQL
	}
	params, err := ParseSQL(s.cfg.SQL)
	if err != nil {
		s.errs.Error("failed to convert statement "+s.cfg.SQL+" to parameterized SQL", err, logging.ConfigurationFailure, nil)
		return nil, err
	}
	s.params = params

	if s.db == nil {
		db, err := s.openDB()
		if err != nil {
			return nil, err
		}
		s.db = db
		s.ownsDB = true
	}
	s.buffer = make([]*logging.Event, 0, s.cfg.BufferSize)
	s.logger.Debug("sql sink ready", "sql", params.SQL(), "params", params.NumParams(), "buffer_size", s.cfg.BufferSize)
	return s, nil
}

func (s *Sink) openDB() (*sql.DB, error) {
	if s.cfg.DriverName == storedb.DriverName {
		db, err := storedb.Open(storedb.OpenOptions{
			Path:       s.cfg.DSN,
			Module:     "sqlsink/" + s.cfg.Name,
			Migrations: s.cfg.Migrations,
		})
		if err != nil {
			return nil, errx.Wrap(ErrOpenDB, err)
		}
		return db, nil
	}
	db, err := sql.Open(s.cfg.DriverName, s.cfg.DSN)
	if err != nil {
		return nil, errx.With(ErrOpenDB, ": %s: %w", s.cfg.DriverName, err)
	}
	return db, nil
}

// Name returns the sink name.
func (s *Sink) Name() string { return s.cfg.Name }

// Parameterizer returns the compiled statement.
func (s *Sink) Parameterizer() *Parameterizer { return s.params }

// Write buffers event and flushes once BufferSize events are pending.
func (s *Sink) Write(event *logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	event.Prepare(logging.PrepareOptions{IncludeLocation: s.cfg.LocationInfo})
	s.buffer = append(s.buffer, event)
	if len(s.buffer) >= s.cfg.BufferSize {
		s.flushLocked(context.Background())
	}
	return nil
}

// Flush inserts every buffered event.
func (s *Sink) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked(ctx)
}

// Pending returns the number of buffered events.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// flushLocked drains the buffer whether or not the inserts succeed.
// Events that fail to bind are reported and skipped.
func (s *Sink) flushLocked(ctx context.Context) {
	if len(s.buffer) == 0 {
		return
	}
	batch := s.buffer
	defer func() {
		clear(batch)
		s.buffer = batch[:0]
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.errs.Error("failed to begin transaction", errx.Wrap(ErrFlush, err), logging.FlushFailure, nil)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.params.SQL())
	if err != nil {
		s.errs.Error("failed to prepare "+s.params.SQL(), errx.Wrap(ErrFlush, err), logging.FlushFailure, nil)
		return
	}
	defer stmt.Close()

	for _, event := range batch {
		if err := s.params.Bind(ctx, stmt, event); err != nil {
			s.errs.Error("failed to append parameters", err, logging.FlushFailure, event)
		}
	}
	if err := tx.Commit(); err != nil {
		s.errs.Error("failed to commit", errx.Wrap(ErrFlush, err), logging.FlushFailure, nil)
	}
}

// Close flushes pending events and closes the database if the sink opened
// it. Calling Close again does nothing.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.flushLocked(context.Background())
	s.closed = true
	if !s.ownsDB {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.errs.Error("error closing database", err, logging.CloseFailure, nil)
		return errx.Wrap(ErrCloseDB, err)
	}
	return nil
}
