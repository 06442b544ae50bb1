package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ubind"

var (
	registerOnce sync.Once

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "registrations_total",
			Help:      "Members registered with the remote runtime.",
		},
		[]string{"kind"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "dispatches_total",
			Help:      "Inbound dispatches by site and outcome.",
		},
		[]string{"site", "outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "dispatch_duration_seconds",
			Help:      "Inbound dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"site"},
	)
	callbackFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "callback_failures_total",
			Help:      "Callbacks that returned an error or panicked.",
		},
		[]string{"site", "panic"},
	)
	notifyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "notify_dropped_total",
			Help:      "OnChange bindings dropped after a variable changed value kind.",
		},
	)
	objectsDestroyed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "objects_destroyed_total",
			Help:      "Bound objects torn down.",
		},
	)
	remoteFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "frames_total",
			Help:      "Frames moved over the remote link.",
		},
		[]string{"direction", "message"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			registrations,
			dispatches,
			dispatchDuration,
			callbackFailures,
			notifyDropped,
			objectsDestroyed,
			remoteFrames,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordRegistration(kind string) {
	RegisterMetrics()
	registrations.WithLabelValues(kind).Inc()
}

func RecordDispatch(site, outcome string, duration time.Duration) {
	RegisterMetrics()
	dispatches.WithLabelValues(site, outcome).Inc()
	dispatchDuration.WithLabelValues(site).Observe(duration.Seconds())
}

func RecordCallbackFailure(site string, panicked bool) {
	RegisterMetrics()
	callbackFailures.WithLabelValues(site, strconv.FormatBool(panicked)).Inc()
}

func RecordNotifyDropped(n int) {
	RegisterMetrics()
	notifyDropped.Add(float64(n))
}

func RecordObjectDestroyed() {
	RegisterMetrics()
	objectsDestroyed.Inc()
}

func RecordFrame(direction, message string) {
	RegisterMetrics()
	remoteFrames.WithLabelValues(direction, message).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
