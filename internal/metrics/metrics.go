// Package metrics declares the process-wide Prometheus collectors exposed at
// GET /metrics (ambient stack): HTTP request counts, job
// state-machine gauges, event log size, and liveness/subscription pass
// durations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "storm",
		Subsystem: "http",
		Name: "requests_total",
		Help: "Total number of HTTP requests by method, path template and status.",
	},
	[]string{"method", "path", "status"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "storm",
		Subsystem: "http",
		Name: "request_duration_seconds",
		Help: "HTTP request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "path"},
)

var JobsByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "storm",
		Subsystem: "jobs",
		Name: "by_status",
		Help: "Current number of jobs in each state.",
	},
	[]string{"status"},
)

var AgentsByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "storm",
		Subsystem: "agents",
		Name: "by_status",
		Help: "Current number of agents in each state.",
	},
	[]string{"status"},
)

var EventLogSize = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "storm",
		Subsystem: "eventlog",
		Name: "size",
		Help: "Current number of events retained in the capped event log.",
	},
)

var LivenessSweepDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "storm",
		Subsystem: "liveness",
		Name: "sweep_duration_seconds",
		Help: "Duration of each liveness sweep pass.",
		Buckets: prometheus.DefBuckets,
	},
)

var LivenessAgentsSweptTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "storm",
		Subsystem: "liveness",
		Name: "agents_swept_total",
		Help: "Total number of agents marked offline by the liveness sweep.",
	},
)

var SubscriptionDispatchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "storm",
		Subsystem: "subscription",
		Name: "dispatch_duration_seconds",
		Help: "Duration of each subscription dispatch tick.",
		Buckets: prometheus.DefBuckets,
	},
)

var SubscriptionExecTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "storm",
		Subsystem: "subscription",
		Name: "exec_total",
		Help: "Total number of procedure executions triggered by subscription dispatch, by outcome.",
	},
	[]string{"outcome"},
)

// All returns every collector this package declares, for one-shot
// registration against a prometheus.Registerer at startup.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDuration,
		JobsByStatus,
		AgentsByStatus,
		EventLogSize,
		LivenessSweepDuration,
		LivenessAgentsSweptTotal,
		SubscriptionDispatchDuration,
		SubscriptionExecTotal,
	}
}
