package logging

// Sink consumes events. A sink is driven by a single consumer (one
// dispatcher worker or one registry broadcast) and need not be reentrant.
type Sink interface {
	// Name identifies the sink for lookup and error reports.
	Name() string

	// Write delivers a single event. Implementations should not modify it.
	Write(event *Event) error

	// Close flushes buffered data and releases resources. Calling it more
	// than once has no further effect.
	Close() error
}

// Appender accepts events for delivery. Both the async dispatcher and the
// fan-out registry implement it.
type Appender interface {
	Append(event *Event)
}

// Layout renders an event as text.
type Layout interface {
	Format(event *Event) string
}
