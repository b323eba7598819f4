package socket

import "errors"

var (
	ErrDial         = errors.New("socket: dial")
	ErrSend         = errors.New("socket: send event")
	ErrSinkClosed   = errors.New("socket: sink closed")
	ErrListen       = errors.New("socket: listen")
	ErrNotListening = errors.New("socket: server not listening")
	ErrMissingAddr  = errors.New("socket: address required")
)
