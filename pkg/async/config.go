package async

import "time"

const (
	DefaultQueueSize    = 256
	DefaultMaxFlushTime = 1000 * time.Millisecond

	// UndefinedThreshold makes Activate derive the discard threshold as
	// QueueSize/5.
	UndefinedThreshold = -1
)

// Config is the static configuration of a Dispatcher.
type Config struct {
	// Name labels the worker, logs and metrics.
	Name string

	// QueueSize is the buffer capacity. Must be at least 1.
	QueueSize int

	// DiscardThreshold is the remaining-capacity count below which TRACE,
	// DEBUG and INFO events are dropped. 0 disables discarding.
	DiscardThreshold int

	// MaxFlushTime bounds how long Close waits for the worker to drain.
	// Zero or negative waits without bound.
	MaxFlushTime time.Duration

	// NeverBlock drops events instead of waiting when the queue is full.
	NeverBlock bool

	// IncludeCallerData captures the call site on the producing goroutine.
	IncludeCallerData bool

	// CallerBoundaries are extra function-name prefixes of the logging
	// facade; the frame that called into it is recorded as the call site.
	// The Dispatcher's and the Emitter's own methods are always included.
	CallerBoundaries []string

	// SingleSink accepts only the first attached sink.
	SingleSink bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Name:             "async",
		QueueSize:        DefaultQueueSize,
		DiscardThreshold: UndefinedThreshold,
		MaxFlushTime:     DefaultMaxFlushTime,
	}
}
