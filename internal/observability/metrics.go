package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencectl",
			Subsystem: "ipc",
			Name:      "frames_sent_total",
			Help:      "Frames written to the companion app socket.",
		},
		[]string{"opcode"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencectl",
			Subsystem: "ipc",
			Name:      "frames_received_total",
			Help:      "Frames read from the companion app socket.",
		},
		[]string{"opcode"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencectl",
			Subsystem: "ipc",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames or events dropped without dispatch.",
		},
		[]string{"reason"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencectl",
			Subsystem: "rpc",
			Name:      "connect_attempts_total",
			Help:      "Endpoint dial attempts during discovery.",
		},
		[]string{"result"},
	)
	eventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencectl",
			Subsystem: "rpc",
			Name:      "events_total",
			Help:      "Recognised events dispatched to handlers.",
		},
		[]string{"event"},
	)
	presenceFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencectl",
			Subsystem: "rpc",
			Name:      "presence_flushes_total",
			Help:      "SET_ACTIVITY flushes by the presence scheduler.",
		},
		[]string{"result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total control API requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "presencectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Control API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesSent, framesReceived, framesDropped,
			connectAttempts, eventsDispatched, presenceFlushes,
			httpRequests, httpDuration,
		)
	})
}

func RecordFrameSent(opcode string) {
	RegisterMetrics()
	framesSent.WithLabelValues(opcode).Inc()
}

func RecordFrameReceived(opcode string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(opcode).Inc()
}

func RecordFrameDropped(reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Inc()
}

func RecordConnectAttempt(result string) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(result).Inc()
}

func RecordEvent(event string) {
	RegisterMetrics()
	eventsDispatched.WithLabelValues(event).Inc()
}

func RecordPresenceFlush(result string) {
	RegisterMetrics()
	presenceFlushes.WithLabelValues(result).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
