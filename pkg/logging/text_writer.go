package logging

import (
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jingkaihe/logdispatch/internal/errx"
)

// TextWriter renders events with a Layout onto an io.Writer.
// It implements Sink and is safe for concurrent use.
type TextWriter struct {
	name   string
	layout Layout
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	closed bool
}

// NewTextWriter wraps out. If out is also an io.Closer it is closed by Close.
func NewTextWriter(name string, layout Layout, out io.Writer) (*TextWriter, error) {
	if layout == nil {
		return nil, errx.With(ErrMissingLayout, ": sink %q", name)
	}
	w := &TextWriter{name: name, layout: layout, out: out}
	if c, ok := out.(io.Closer); ok && out != os.Stdout && out != os.Stderr {
		w.closer = c
	}
	return w, nil
}

// NewFileWriter appends rendered events to path, creating it if needed.
func NewFileWriter(name string, layout Layout, path string) (*TextWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errx.Wrap(ErrCreateLogFile, err)
	}
	w, err := NewTextWriter(name, layout, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// RollingConfig sizes a size-rotated log file.
type RollingConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewRollingFileWriter writes rendered events to a file rotated by size.
func NewRollingFileWriter(name string, layout Layout, cfg RollingConfig) (*TextWriter, error) {
	return NewTextWriter(name, layout, &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

func (w *TextWriter) Name() string { return w.name }

func (w *TextWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, err := io.WriteString(w.out, w.layout.Format(event)); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

func (w *TextWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer == nil {
		return nil
	}
	if err := w.closer.Close(); err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	return nil
}
