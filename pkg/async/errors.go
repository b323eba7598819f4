package async

import "errors"

var ErrInvalidQueueSize = errors.New("async: invalid queue size")
