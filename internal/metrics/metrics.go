package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "studiobook"

var (
	once sync.Once

	lifecycleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_operations_total",
			Help:      "Count of booking lifecycle operations by kind and result.",
		},
		[]string{"operation", "result"},
	)

	calendarCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_calls_total",
			Help:      "Count of calendar API calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	calendarDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calendar_call_duration_seconds",
			Help:      "Latency of calendar API calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Count of notification emails by kind and result.",
		},
		[]string{"kind", "result"},
	)

	notificationQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_size",
			Help:      "Current number of queued notification emails.",
		},
	)

	bestEffortFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_failures_total",
			Help:      "Count of side effects that failed without failing the operation.",
		},
		[]string{"dependency"},
	)

	calendarRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_repairs_total",
			Help:      "Count of bookings processed by the calendar repair pass.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			lifecycleOps,
			calendarCalls,
			calendarDuration,
			notificationsSent,
			notificationQueue,
			bestEffortFailures,
			calendarRepairs,
			httpRequests,
		)
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func IncOperation(op string, err error) {
	lifecycleOps.WithLabelValues(op, result(err)).Inc()
}

func ObserveCalendarCall(op string, d time.Duration, err error) {
	calendarCalls.WithLabelValues(op, result(err)).Inc()
	calendarDuration.WithLabelValues(op).Observe(d.Seconds())
}

func IncNotification(kind string, err error) {
	notificationsSent.WithLabelValues(kind, result(err)).Inc()
}

func SetNotificationQueue(size int) {
	notificationQueue.Set(float64(size))
}

func IncBestEffortFailure(dependency string) {
	bestEffortFailures.WithLabelValues(dependency).Inc()
}

func IncCalendarRepair(err error) {
	calendarRepairs.WithLabelValues(result(err)).Inc()
}

func IncHTTP(route string, code int) {
	httpRequests.WithLabelValues(route, httpCode(code)).Inc()
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
