package logging

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jingkaihe/logdispatch/internal/errx"
)

// JSONLWriter encodes each event as one JSON object per line. Every line is
// handed to the underlying writer in a single Write call.
type JSONLWriter struct {
	name string

	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	closed bool
}

// NewJSONLWriter appends to path, creating the file if needed. The parent
// directory must already exist.
func NewJSONLWriter(name, path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errx.Wrap(ErrCreateLogFile, err)
	}
	return NewJSONLStream(name, f), nil
}

// NewRollingJSONLWriter writes JSON lines to a size-rotated file.
func NewRollingJSONLWriter(name string, cfg RollingConfig) *JSONLWriter {
	return NewJSONLStream(name, &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

// NewJSONLStream writes to out, closing it on Close when it is an io.Closer
// other than stdout or stderr.
func NewJSONLStream(name string, out io.Writer) *JSONLWriter {
	w := &JSONLWriter{name: name, out: out}
	if c, ok := out.(io.Closer); ok && out != os.Stdout && out != os.Stderr {
		w.closer = c
	}
	return w
}

func (w *JSONLWriter) Name() string { return w.name }

func (w *JSONLWriter) Write(event *Event) error {
	event.Prepare(PrepareOptions{})
	line, err := json.Marshal(event)
	if err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, err := w.out.Write(line); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

// Close flushes file-backed output to disk and closes it. Calling Close
// again does nothing.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if f, ok := w.out.(*os.File); ok {
		_ = f.Sync()
	}
	if w.closer == nil {
		return nil
	}
	if err := w.closer.Close(); err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	return nil
}
