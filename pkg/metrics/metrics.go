// Package metrics exposes Prometheus instrumentation for the workflow
// engine and the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promWorkflowsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthguard_workflows_created_total",
			Help: "Total number of workflows created, by priority",
		},
		[]string{"priority"},
	)
	promWorkflowsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthguard_workflows_started_total",
			Help: "Total number of workflows picked up by a worker, by priority",
		},
		[]string{"priority"},
	)
	promWorkflowsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthguard_workflows_finished_total",
			Help: "Total number of workflows reaching a terminal status",
		},
		[]string{"status"},
	)
	promStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthguard_step_duration_seconds",
			Help:    "Analysis step execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"step", "state"},
	)
	promQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthguard_queue_depth",
			Help: "Current number of workflows waiting per priority queue",
		},
		[]string{"priority"},
	)
	promHTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthguard_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "code"},
	)
)

func init() {
	prometheus.MustRegister(promWorkflowsCreated)
	prometheus.MustRegister(promWorkflowsStarted)
	prometheus.MustRegister(promWorkflowsFinished)
	prometheus.MustRegister(promStepDuration)
	prometheus.MustRegister(promQueueDepth)
	prometheus.MustRegister(promHTTPRequests)
}

// WorkflowCreated records a workflow entering the queue
func WorkflowCreated(priority string) {
	promWorkflowsCreated.WithLabelValues(priority).Inc()
}

// WorkflowStarted records a worker picking up a workflow
func WorkflowStarted(priority string) {
	promWorkflowsStarted.WithLabelValues(priority).Inc()
}

// WorkflowCompleted records a workflow reaching a terminal status
func WorkflowCompleted(status string) {
	promWorkflowsFinished.WithLabelValues(status).Inc()
}

// StepFinished records one step execution and its duration
func StepFinished(step, state string, elapsed time.Duration) {
	promStepDuration.WithLabelValues(step, state).Observe(elapsed.Seconds())
}

// QueueDepth records the current depth of one priority queue
func QueueDepth(priority string, depth int64) {
	promQueueDepth.WithLabelValues(priority).Set(float64(depth))
}

// HTTPRequest records one served HTTP request
func HTTPRequest(method, path, code string) {
	promHTTPRequests.WithLabelValues(method, path, code).Inc()
}

// Handler returns the Prometheus scrape endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
