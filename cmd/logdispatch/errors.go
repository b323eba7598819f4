package main

import "errors"

// Setup errors
var (
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrLoadConfig      = errors.New("load config")
	ErrBuildDispatcher = errors.New("build dispatcher")
)

// Serve errors
var (
	ErrListen        = errors.New("start socket listener")
	ErrMetricsServer = errors.New("metrics server")
	ErrShutdown      = errors.New("shutdown")
)

// Send errors
var (
	ErrInvalidLevel = errors.New("invalid event level")
	ErrInvalidMDC   = errors.New("invalid MDC entry")
	ErrSendEvents   = errors.New("send events")
)

// Tooling errors
var (
	ErrCompilePattern = errors.New("compile pattern")
	ErrParseSQL       = errors.New("parse SQL template")
)
