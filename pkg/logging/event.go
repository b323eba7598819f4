package logging

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// Event is one logging occurrence.
//
// Fields that are expensive or depend on the producer's situation (message
// rendering, diagnostic context, thread label, call site) are resolved lazily
// by the accessors. Prepare resolves all of them at once; after that the
// event is read-only and may be shared across goroutines or serialized.
// An event that has not been prepared is not safe for concurrent use.
type Event struct {
	Timestamp  time.Time         `cbor:"ts" json:"ts"`
	Level      Level             `cbor:"level" json:"level"`
	LoggerName string            `cbor:"logger" json:"logger"`
	Message    string            `cbor:"msg" json:"message"`
	Thread     string            `cbor:"thread" json:"thread"`
	NDC        string            `cbor:"ndc,omitempty" json:"ndc,omitempty"`
	MDC        map[string]string `cbor:"mdc,omitempty" json:"mdc,omitempty"`
	Throwable  *ThrowableInfo    `cbor:"throwable,omitempty" json:"throwable,omitempty"`
	Location   *LocationInfo     `cbor:"location,omitempty" json:"location,omitempty"`

	ctx     context.Context
	source  any
	err     error
	pending pendingFields
}

type pendingFields uint8

const (
	pendingMessage pendingFields = 1 << iota
	pendingThread
	pendingMDC
	pendingNDC
	pendingThrowable
)

// PrepareOptions controls what Prepare resolves beyond the mandatory fields.
type PrepareOptions struct {
	IncludeLocation bool
	// CallerBoundaries are passed to CallerLocation when IncludeLocation is set.
	CallerBoundaries []string
}

// NewEvent creates an event stamped with the current time. message may be
// any value; it is rendered with fmt once, on first access or at Prepare.
// ctx supplies the thread label and diagnostic context and may be nil.
func NewEvent(ctx context.Context, loggerName string, level Level, message any, err error) *Event {
	e := &Event{
		Timestamp:  time.Now(),
		Level:      level,
		LoggerName: loggerName,
		ctx:        ctx,
		source:     message,
		err:        err,
		pending:    pendingMessage | pendingThread | pendingMDC | pendingNDC | pendingThrowable,
	}
	return e
}

// RenderedMessage returns the message, rendering the source object on first call.
func (e *Event) RenderedMessage() string {
	if e.pending&pendingMessage != 0 {
		e.Message = render(e.source)
		e.source = nil
		e.pending &^= pendingMessage
	}
	return e.Message
}

// ThreadName returns the producer's goroutine label.
func (e *Event) ThreadName() string {
	if e.pending&pendingThread != 0 {
		e.Thread = threadNameFrom(e.ctx)
		e.pending &^= pendingThread
	}
	return e.Thread
}

// DiagnosticContext returns the nested diagnostic context.
func (e *Event) DiagnosticContext() string {
	if e.pending&pendingNDC != 0 {
		e.NDC = ndcFrom(e.ctx)
		e.pending &^= pendingNDC
	}
	return e.NDC
}

// MDCValue returns one entry of the mapped diagnostic context.
func (e *Event) MDCValue(key string) string {
	e.resolveMDC()
	return e.MDC[key]
}

// MDCCopy returns a copy of the mapped diagnostic context snapshot.
func (e *Event) MDCCopy() map[string]string {
	e.resolveMDC()
	return maps.Clone(e.MDC)
}

func (e *Event) resolveMDC() {
	if e.pending&pendingMDC != 0 {
		e.MDC = mdcFrom(e.ctx)
		e.pending &^= pendingMDC
	}
}

// ThrowableStrRep returns the text lines of the causal error, or nil.
func (e *Event) ThrowableStrRep() []string {
	if e.pending&pendingThrowable != 0 {
		e.Throwable = NewThrowableInfo(e.err)
		e.err = nil
		e.pending &^= pendingThrowable
	}
	if e.Throwable == nil {
		return nil
	}
	return e.Throwable.Rep
}

// LocationInformation returns the captured call site, or NALocation.
// Location can only be captured on the producing goroutine, by Prepare.
func (e *Event) LocationInformation() LocationInfo {
	if e.Location == nil {
		return NALocation
	}
	return *e.Location
}

// Prepare resolves every lazy field in the calling goroutine and drops the
// references to the producer's context, message source and error.
func (e *Event) Prepare(opts PrepareOptions) {
	e.ThreadName()
	e.DiagnosticContext()
	e.resolveMDC()
	if opts.IncludeLocation && e.Location == nil {
		loc := CallerLocation(opts.CallerBoundaries...)
		e.Location = &loc
	}
	e.RenderedMessage()
	e.ThrowableStrRep()
	e.ctx = nil
}

// Prepared reports whether every lazy field has been resolved.
func (e *Event) Prepared() bool {
	return e.pending == 0 && e.ctx == nil
}

func render(source any) string {
	switch v := source.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}
