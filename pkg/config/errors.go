package config

import "errors"

var (
	ErrReadConfig    = errors.New("config: read config file")
	ErrDecodeConfig  = errors.New("config: decode config")
	ErrUnknownSink   = errors.New("config: unknown sink type")
	ErrBuildSink     = errors.New("config: build sink")
	ErrDuplicateSink = errors.New("config: duplicate sink name")
)
