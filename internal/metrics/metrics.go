package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowRunsTotal tracks finished runs by terminal status
	WorkflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_workflow_runs_total",
			Help: "Total number of classification runs by final status",
		},
		[]string{"status"},
	)

	// WorkflowItemsTotal tracks feedback items by outcome
	WorkflowItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_workflow_items_total",
			Help: "Total number of feedback items processed by outcome",
		},
		[]string{"outcome"},
	)

	// WorkflowUnitAttempts tracks how many attempts each unit of work needed
	WorkflowUnitAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triage_workflow_unit_attempts",
			Help:    "Attempts used per workflow unit",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	// ClassifierLatency tracks classifier call latency
	ClassifierLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_classifier_latency_seconds",
			Help:    "Classifier call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// ClassifierErrorsTotal tracks failed classifier calls
	ClassifierErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_classifier_errors_total",
			Help: "Total number of classifier errors",
		},
		[]string{"provider"},
	)

	// HTTPRequestsTotal tracks API requests by route and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
