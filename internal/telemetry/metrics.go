package telemetry

import "github.com/prometheus/client_golang/prometheus"

// ForwardTotal is the forward/send outcome counter, labeled by delivery
// method. It is registered by All() but no code path increments it.
var ForwardTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "forward",
		Name:      "total",
		Help:      "Total number of forward/send outcomes by delivery method.",
	},
	[]string{"method"},
)

// RateLimitedTotal counts requests rejected by a rate limiter, by scope.
var RateLimitedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Total number of requests rejected by rate limiting, by scope.",
	},
	[]string{"scope"},
)

// WSConnections is the current number of live WebSocket connections.
var WSConnections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Current number of open WebSocket connections.",
	},
)

// RevocationCheckTotal counts revocation checks by which layer answered.
var RevocationCheckTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "revocation",
		Name:      "check_total",
		Help:      "Total number of revocation checks, by answering source.",
	},
	[]string{"source"},
)

// MessagesExpiredTotal counts messages flipped from pending to expired by the sweeper.
var MessagesExpiredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "sweep",
		Name:      "messages_expired_total",
		Help:      "Total number of pending messages expired by the sweeper.",
	},
)

// WakeTriggeredTotal counts agent-server wake calls issued.
var WakeTriggeredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "wake",
		Name:      "triggered_total",
		Help:      "Total number of wake calls issued to the agent server.",
	},
)

// HTTPRequestDuration tracks request latency by method, route pattern, and
// status code.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "relay",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds, by method, route, and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// All returns every relay-specific metric collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ForwardTotal,
		RateLimitedTotal,
		WSConnections,
		RevocationCheckTotal,
		MessagesExpiredTotal,
		WakeTriggeredTotal,
		HTTPRequestDuration,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors and
// the given extra collectors registered.
func NewRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}
