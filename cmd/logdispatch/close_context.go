package main

import (
	"context"
	"time"
)

// shutdownContext returns a context bounding graceful shutdown.
//
// timeout <= 0 means no external deadline.
func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}
