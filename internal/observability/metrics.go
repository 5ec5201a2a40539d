package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlcore",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wlcore",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlcore",
			Subsystem: "wire",
			Name:      "messages_total",
			Help:      "Protocol messages by side, direction and interface.",
		},
		[]string{"side", "direction", "interface"},
	)
	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlcore",
			Subsystem: "wire",
			Name:      "zombie_drops_total",
			Help:      "Messages addressed to zombie objects and dropped.",
		},
		[]string{"side"},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlcore",
			Subsystem: "dispatch",
			Name:      "protocol_errors_total",
			Help:      "Connection-fatal protocol errors by kind.",
		},
		[]string{"side", "kind"},
	)
	registryEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlcore",
			Subsystem: "registry",
			Name:      "events_total",
			Help:      "Registry advertisements and removals by outcome.",
		},
		[]string{"event", "success"},
	)
	clients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wlcore",
			Subsystem: "server",
			Name:      "clients",
			Help:      "Currently connected clients.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, messages, dropped, protocolErrors, registryEvents, clients)
	})
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

// RecordMessage counts one dispatched or sent message.
func RecordMessage(side, direction, iface string) {
	RegisterMetrics()
	messages.WithLabelValues(side, direction, iface).Inc()
}

func RecordZombieDrop(side string) {
	RegisterMetrics()
	dropped.WithLabelValues(side).Inc()
}

func RecordProtocolError(side, kind string) {
	RegisterMetrics()
	protocolErrors.WithLabelValues(side, kind).Inc()
}

func RecordRegistryEvent(event string, success bool) {
	RegisterMetrics()
	registryEvents.WithLabelValues(event, strconv.FormatBool(success)).Inc()
}

func SetClients(n int) {
	RegisterMetrics()
	clients.Set(float64(n))
}
