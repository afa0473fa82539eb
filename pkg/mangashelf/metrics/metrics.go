// Package metrics declares the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts handled requests by route pattern.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mangashelf_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mangashelf_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// BackgroundTasksTotal counts background tasks by name and result
	// (ok, failed, overflow, inline).
	BackgroundTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mangashelf_background_tasks_total",
			Help: "Background cleanup tasks by result",
		},
		[]string{"task", "result"},
	)

	// BackgroundTaskDuration observes how long background tasks run.
	BackgroundTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mangashelf_background_task_duration_seconds",
			Help:    "Duration of background cleanup tasks in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// UploadSessionsTotal counts upload sessions by outcome
	// (begun, created, replaced, deleted, flushed).
	UploadSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mangashelf_upload_sessions_total",
			Help: "Upload sessions by outcome",
		},
		[]string{"outcome"},
	)

	// UploadedPagesTotal counts pages normalized into session blobs.
	UploadedPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mangashelf_uploaded_pages_total",
			Help: "Pages normalized into upload blobs",
		},
	)
)
