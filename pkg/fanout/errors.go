package fanout

import "errors"

var ErrSinkPanic = errors.New("fanout: sink panicked")
