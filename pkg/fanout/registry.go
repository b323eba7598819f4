// Package fanout maintains the ordered set of sinks attached to a
// dispatching unit and broadcasts events to them.
package fanout

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/metrics"
)

// Registry is a copy-on-write list of sinks.
//
// Broadcast loads the current list once and iterates it without locking,
// so it never waits on Attach or Detach and they never wait on a slow sink.
// A broadcast may therefore deliver to a list that a concurrent mutation
// has already replaced.
type Registry struct {
	mu     sync.Mutex // serializes mutations
	sinks  atomic.Pointer[[]logging.Sink]
	errs   logging.ErrorHandler
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithErrorHandler sets where sink failures are reported.
func WithErrorHandler(h logging.ErrorHandler) Option {
	return func(r *Registry) { r.errs = h }
}

// WithLogger sets the registry's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "fanout")
	if r.errs == nil {
		r.errs = logging.NewLogErrorHandler(r.logger)
	}
	empty := []logging.Sink{}
	r.sinks.Store(&empty)
	return r
}

func (r *Registry) load() []logging.Sink {
	return *r.sinks.Load()
}

// Attach appends sink unless it is nil or already attached.
// Returns true when the sink was added.
func (r *Registry) Attach(sink logging.Sink) bool {
	if isNil(sink) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	for _, s := range cur {
		if sameSink(s, sink) {
			return false
		}
	}
	next := make([]logging.Sink, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, sink)
	r.sinks.Store(&next)
	r.logger.Debug("sink attached", "sink", sink.Name())
	return true
}

// Broadcast delivers event to every sink of the current snapshot in
// attachment order and returns how many sinks were invoked. A sink that
// fails or panics is reported and skipped; the rest still receive the event.
func (r *Registry) Broadcast(event *logging.Event) int {
	sinks := r.load()
	for _, s := range sinks {
		r.deliver(s, event)
	}
	return len(sinks)
}

// Append implements logging.Appender by broadcasting synchronously.
func (r *Registry) Append(event *logging.Event) {
	r.Broadcast(event)
}

func (r *Registry) deliver(s logging.Sink, event *logging.Event) {
	name := "unknown"
	defer func() {
		if p := recover(); p != nil {
			metrics.SinkFailures.WithLabelValues(name).Inc()
			r.errs.Error("sink panicked during delivery", errx.With(ErrSinkPanic, ": %s: %v", name, p), logging.WriteFailure, event)
		}
	}()
	name = s.Name()
	metrics.EventsDelivered.WithLabelValues(name).Inc()
	if err := s.Write(event); err != nil {
		metrics.SinkFailures.WithLabelValues(name).Inc()
		r.errs.Error(fmt.Sprintf("sink %q failed to write event", name), err, logging.WriteFailure, event)
	}
}

// Detach removes sink without closing it. Returns true if it was attached.
func (r *Registry) Detach(sink logging.Sink) bool {
	if isNil(sink) {
		return false
	}
	return r.removeFirst(func(s logging.Sink) bool { return sameSink(s, sink) })
}

// DetachNamed removes the first sink called name without closing it.
func (r *Registry) DetachNamed(name string) bool {
	return r.removeFirst(func(s logging.Sink) bool { return s.Name() == name })
}

func (r *Registry) removeFirst(match func(logging.Sink) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	for i, s := range cur {
		if !match(s) {
			continue
		}
		next := make([]logging.Sink, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		r.sinks.Store(&next)
		r.logger.Debug("sink detached", "sink", s.Name())
		return true
	}
	return false
}

// RemoveAll detaches every sink and closes each one. Close errors are
// reported and joined into the result.
func (r *Registry) RemoveAll() error {
	r.mu.Lock()
	cur := r.load()
	empty := []logging.Sink{}
	r.sinks.Store(&empty)
	r.mu.Unlock()

	var errs []error
	for _, s := range cur {
		if err := s.Close(); err != nil {
			r.errs.Error(fmt.Sprintf("sink %q failed to close", s.Name()), err, logging.CloseFailure, nil)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the first sink called name, or nil.
func (r *Registry) Lookup(name string) logging.Sink {
	for _, s := range r.load() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Contains reports whether sink is attached.
func (r *Registry) Contains(sink logging.Sink) bool {
	if isNil(sink) {
		return false
	}
	for _, s := range r.load() {
		if sameSink(s, sink) {
			return true
		}
	}
	return false
}

// Sinks returns a snapshot of the attached sinks.
func (r *Registry) Sinks() []logging.Sink {
	cur := r.load()
	out := make([]logging.Sink, len(cur))
	copy(out, cur)
	return out
}

// Len returns the number of attached sinks.
func (r *Registry) Len() int {
	return len(r.load())
}

// sameSink compares by interface equality, which for pointer sinks is
// identity. Sinks of non-comparable dynamic types never compare equal.
func sameSink(a, b logging.Sink) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func isNil(sink logging.Sink) bool {
	if sink == nil {
		return true
	}
	v := reflect.ValueOf(sink)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
