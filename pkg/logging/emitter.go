package logging

import "context"

// EmitterBoundary is the function-name prefix of the Emitter's methods, for
// use as a caller boundary.
const EmitterBoundary = "github.com/jingkaihe/logdispatch/pkg/logging.(*Emitter)."

// EmitterConfig holds the static metadata stamped onto every event.
type EmitterConfig struct {
	LoggerName string
}

// Emitter builds events and hands them to an Appender.
//
// A nil *Emitter is safe to call; it drops everything.
type Emitter struct {
	config EmitterConfig
	target Appender
}

// NewEmitter creates an emitter feeding target.
func NewEmitter(cfg EmitterConfig, target Appender) *Emitter {
	return &Emitter{config: cfg, target: target}
}

// Emit constructs an event from the caller's context and appends it.
// message may be any value; see NewEvent.
func (e *Emitter) Emit(ctx context.Context, level Level, message any, err error) {
	if e == nil || e.target == nil {
		return
	}
	e.target.Append(NewEvent(ctx, e.config.LoggerName, level, message, err))
}

func (e *Emitter) Trace(ctx context.Context, message any) { e.Emit(ctx, LevelTrace, message, nil) }
func (e *Emitter) Debug(ctx context.Context, message any) { e.Emit(ctx, LevelDebug, message, nil) }
func (e *Emitter) Info(ctx context.Context, message any)  { e.Emit(ctx, LevelInfo, message, nil) }
func (e *Emitter) Warn(ctx context.Context, message any)  { e.Emit(ctx, LevelWarn, message, nil) }

func (e *Emitter) Error(ctx context.Context, message any, err error) {
	e.Emit(ctx, LevelError, message, err)
}
