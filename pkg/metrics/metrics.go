// Package metrics holds the process-wide dispatch counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Discard reasons.
const (
	ReasonThreshold = "threshold"
	ReasonQueueFull = "queue_full"
	ReasonInactive  = "inactive"
)

// Frame rejection reasons. Type names come from the peer and are never
// used as label values.
const (
	RejectUnauthorized = "unauthorized"
	RejectOversized    = "oversized"
	RejectMalformed    = "malformed"
)

var (
	EventsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logdispatch_events_submitted_total",
		Help: "Events accepted into a dispatcher queue",
	}, []string{"dispatcher"})

	EventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logdispatch_events_discarded_total",
		Help: "Events dropped by a dispatcher before delivery",
	}, []string{"dispatcher", "reason"})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logdispatch_events_delivered_total",
		Help: "Event deliveries attempted per sink",
	}, []string{"sink"})

	SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logdispatch_sink_failures_total",
		Help: "Sink deliveries that returned an error or panicked",
	}, []string{"sink"})

	RejectedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logdispatch_rejected_frames_total",
		Help: "Serialized objects refused by the deserialization gate",
	}, []string{"reason"})
)
