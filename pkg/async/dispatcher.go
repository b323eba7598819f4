// Package async decouples event producers from slow sinks with a bounded
// queue drained by one background worker.
package async

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/fanout"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/metrics"
)

const dispatcherBoundary = "github.com/jingkaihe/logdispatch/pkg/async.(*Dispatcher)."

// State is the lifecycle stage of a Dispatcher.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Dispatcher is an asynchronous dispatching unit: producers Append, one
// worker goroutine drains the queue in batches and broadcasts each event
// to the attached sinks.
type Dispatcher struct {
	cfg    Config
	sinks  *fanout.Registry
	errs   logging.ErrorHandler
	logger *slog.Logger

	mu        sync.Mutex // guards lifecycle transitions
	state     atomic.Int32
	queue     chan *logging.Event
	interrupt chan struct{}
	exited    chan struct{}
	// producers is held shared by Append from its state check until the
	// event is queued; the worker takes it exclusively before its final drain.
	producers sync.RWMutex

	discarded atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithErrorHandler sets where configuration and sink failures are reported.
func WithErrorHandler(h logging.ErrorHandler) Option {
	return func(d *Dispatcher) { d.errs = h }
}

// New creates a dispatcher in the Created state. Call Activate to start it.
func New(cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.Name == "" {
		d.cfg.Name = "async"
	}
	d.cfg.CallerBoundaries = append([]string{dispatcherBoundary, logging.EmitterBoundary}, d.cfg.CallerBoundaries...)
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "async", "dispatcher", d.cfg.Name)
	if d.errs == nil {
		d.errs = logging.NewLogErrorHandler(d.logger)
	}
	d.sinks = fanout.NewRegistry(fanout.WithErrorHandler(d.errs), fanout.WithLogger(d.logger))
	return d
}

// Name returns the configured name.
func (d *Dispatcher) Name() string { return d.cfg.Name }

// State returns the current lifecycle state.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// Activate allocates the queue and starts the worker. An invalid queue size
// is reported through the error handler and leaves the dispatcher inactive.
// Activating an already active or closed dispatcher does nothing.
func (d *Dispatcher) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State() != StateCreated {
		return nil
	}
	if d.cfg.QueueSize < 1 {
		err := errx.With(ErrInvalidQueueSize, ": %d", d.cfg.QueueSize)
		d.errs.Error(fmt.Sprintf("invalid queue size [%d]", d.cfg.QueueSize), err, logging.ConfigurationFailure, nil)
		return err
	}
	if d.cfg.DiscardThreshold == UndefinedThreshold {
		d.cfg.DiscardThreshold = d.cfg.QueueSize / 5
	}
	d.logger.Debug("discard threshold set", "threshold", d.cfg.DiscardThreshold, "queue_size", d.cfg.QueueSize)

	d.queue = make(chan *logging.Event, d.cfg.QueueSize)
	d.interrupt = make(chan struct{})
	d.exited = make(chan struct{})
	d.state.Store(int32(StateActive))
	go d.run()
	return nil
}

// DiscardThreshold returns the effective threshold.
func (d *Dispatcher) DiscardThreshold() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.DiscardThreshold
}

// Append submits event for asynchronous delivery.
//
// When the remaining queue capacity is below the discard threshold,
// discardable events are dropped. Otherwise the event is prepared in the
// calling goroutine and enqueued; with NeverBlock a full queue drops it,
// without NeverBlock Append waits for room. The wait ignores the producer's
// own cancellation and ends only when space frees up or the dispatcher
// starts closing. Append never returns an error to the producer.
func (d *Dispatcher) Append(event *logging.Event) {
	if event == nil {
		return
	}
	if d.State() != StateActive {
		d.dropInactive()
		return
	}
	d.producers.RLock()
	defer d.producers.RUnlock()
	if d.State() != StateActive {
		d.dropInactive()
		return
	}
	if d.belowDiscardThreshold() && event.Level.Discardable() {
		d.discard(metrics.ReasonThreshold)
		return
	}
	event.Prepare(logging.PrepareOptions{
		IncludeLocation:  d.cfg.IncludeCallerData,
		CallerBoundaries: d.cfg.CallerBoundaries,
	})
	d.put(event)
}

func (d *Dispatcher) dropInactive() {
	d.discard(metrics.ReasonInactive)
	d.logger.Debug("event dropped, dispatcher not active", "state", d.State().String())
}

func (d *Dispatcher) belowDiscardThreshold() bool {
	remaining := cap(d.queue) - len(d.queue)
	return remaining < d.cfg.DiscardThreshold
}

func (d *Dispatcher) put(event *logging.Event) {
	if d.cfg.NeverBlock {
		select {
		case d.queue <- event:
			metrics.EventsSubmitted.WithLabelValues(d.cfg.Name).Inc()
		default:
			d.discard(metrics.ReasonQueueFull)
		}
		return
	}
	select {
	case d.queue <- event:
		metrics.EventsSubmitted.WithLabelValues(d.cfg.Name).Inc()
	case <-d.interrupt:
		d.discard(metrics.ReasonInactive)
	}
}

func (d *Dispatcher) discard(reason string) {
	d.discarded.Add(1)
	metrics.EventsDiscarded.WithLabelValues(d.cfg.Name, reason).Inc()
}

// Discarded returns how many events were dropped before reaching the queue.
func (d *Dispatcher) Discarded() uint64 { return d.discarded.Load() }

// QueueLen returns the number of buffered events.
func (d *Dispatcher) QueueLen() int {
	if d.State() == StateCreated {
		return 0
	}
	return len(d.queue)
}

// run is the worker loop. It takes one event, drains whatever else is
// already queued and broadcasts the batch in arrival order. On interrupt it
// flushes the remaining buffer and closes every sink.
func (d *Dispatcher) run() {
	defer close(d.exited)
	batch := make([]*logging.Event, 0, d.cfg.QueueSize)

loop:
	for {
		select {
		case <-d.interrupt:
			break loop
		case e := <-d.queue:
			batch = append(batch[:0], e)
			batch = d.drainInto(batch)
			for _, e := range batch {
				d.sinks.Broadcast(e)
			}
			clear(batch)
		}
	}

	// Producers that passed the state check before Close finish queueing;
	// any later Append observes the closing state and is dropped.
	d.producers.Lock()
	d.producers.Unlock()

	d.logger.Debug("worker flushing remaining events before exit", "queued", len(d.queue))
	for {
		select {
		case e := <-d.queue:
			d.sinks.Broadcast(e)
			continue
		default:
		}
		break
	}
	_ = d.sinks.RemoveAll()
}

func (d *Dispatcher) drainInto(batch []*logging.Event) []*logging.Event {
	for {
		select {
		case e := <-d.queue:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

// Close stops accepting events, interrupts the worker and waits up to
// MaxFlushTime for it to flush and exit. If the wait times out the worker
// is abandoned, a warning with the observed queue size is logged and the
// dispatcher is closed anyway. Calling Close again does nothing.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	switch d.State() {
	case StateClosing, StateClosed:
		d.mu.Unlock()
		return nil
	case StateCreated:
		d.state.Store(int32(StateClosed))
		d.mu.Unlock()
		return d.sinks.RemoveAll()
	}
	d.state.Store(int32(StateClosing))
	close(d.interrupt)
	d.mu.Unlock()

	var timeout <-chan time.Time
	if d.cfg.MaxFlushTime > 0 {
		timer := time.NewTimer(d.cfg.MaxFlushTime)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-d.exited:
		d.logger.Debug("queue flush finished within timeout")
	case <-timeout:
		d.logger.Warn("max queue flush timeout exceeded, queued events were possibly discarded",
			"max_flush_time", d.cfg.MaxFlushTime,
			"queued", len(d.queue))
	}
	d.state.Store(int32(StateClosed))
	return nil
}

// Wait blocks until the worker has exited. It returns immediately for a
// dispatcher that was never activated.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	exited := d.exited
	d.mu.Unlock()
	if exited != nil {
		<-exited
	}
}
