package async

import "github.com/jingkaihe/logdispatch/pkg/logging"

// AddSink attaches sink. With SingleSink set, only the first sink is
// accepted and later ones are ignored with a warning.
func (d *Dispatcher) AddSink(sink logging.Sink) bool {
	if sink == nil {
		return false
	}
	if d.cfg.SingleSink {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.sinks.Len() > 0 {
			d.logger.Warn("one and only one sink may be attached", "ignored", sink.Name())
			return false
		}
	}
	added := d.sinks.Attach(sink)
	if added {
		d.logger.Debug("sink attached", "sink", sink.Name())
	}
	return added
}

// Sink returns the first attached sink named name, or nil.
func (d *Dispatcher) Sink(name string) logging.Sink { return d.sinks.Lookup(name) }

// Sinks returns a snapshot of the attached sinks in attachment order.
func (d *Dispatcher) Sinks() []logging.Sink { return d.sinks.Sinks() }

// IsAttached reports whether sink is attached.
func (d *Dispatcher) IsAttached(sink logging.Sink) bool { return d.sinks.Contains(sink) }

// RemoveSink detaches sink without closing it.
func (d *Dispatcher) RemoveSink(sink logging.Sink) bool { return d.sinks.Detach(sink) }

// RemoveSinkNamed detaches the first sink named name without closing it.
func (d *Dispatcher) RemoveSinkNamed(name string) bool { return d.sinks.DetachNamed(name) }

// RemoveAllSinks detaches and closes every sink.
func (d *Dispatcher) RemoveAllSinks() error { return d.sinks.RemoveAll() }
