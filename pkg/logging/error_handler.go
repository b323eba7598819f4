package logging

import "log/slog"

// ErrorCode classifies failures reported to an ErrorHandler.
type ErrorCode int

const (
	GenericFailure ErrorCode = iota
	WriteFailure
	FlushFailure
	CloseFailure
	FileOpenFailure
	MissingLayout
	AddressParseFailure
	ConfigurationFailure
)

func (c ErrorCode) String() string {
	switch c {
	case GenericFailure:
		return "generic_failure"
	case WriteFailure:
		return "write_failure"
	case FlushFailure:
		return "flush_failure"
	case CloseFailure:
		return "close_failure"
	case FileOpenFailure:
		return "file_open_failure"
	case MissingLayout:
		return "missing_layout"
	case AddressParseFailure:
		return "address_parse_failure"
	case ConfigurationFailure:
		return "configuration_failure"
	}
	return "unknown"
}

// ErrorHandler receives failures that must not propagate to producers.
// event may be nil when the failure is not tied to one event.
type ErrorHandler interface {
	Error(msg string, err error, code ErrorCode, event *Event)
}

// LogErrorHandler reports failures through slog.
type LogErrorHandler struct {
	logger *slog.Logger
}

// NewLogErrorHandler returns a handler logging at error level. A nil logger
// means slog.Default().
func NewLogErrorHandler(logger *slog.Logger) *LogErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogErrorHandler{logger: logger}
}

func (h *LogErrorHandler) Error(msg string, err error, code ErrorCode, event *Event) {
	attrs := []any{"code", code.String()}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	if event != nil {
		attrs = append(attrs, "logger", event.LoggerName, "level", event.Level.String(), "message", event.Message)
	}
	h.logger.Error(msg, attrs...)
}
