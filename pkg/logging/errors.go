package logging

import "errors"

var (
	ErrCreateLogFile = errors.New("logging: create log file")
	ErrWriteEvent    = errors.New("logging: write event")
	ErrCloseWriter   = errors.New("logging: close writer")
	ErrUnknownLevel  = errors.New("logging: unknown level")
	ErrWriterClosed  = errors.New("logging: writer closed")
	ErrMissingLayout = errors.New("logging: layout required")
)
