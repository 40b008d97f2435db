// Package metrics holds the Prometheus collectors for ingestion and the REST API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Remote source metrics
var (
	SourceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psp_source_requests_total",
			Help: "Total number of requests made to the groups.io API.",
		},
		[]string{"outcome"}, // outcome: "ok", "rate_limited", "api_error", "transport_error", "decode_error", "canceled"
	)

	SourceRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "psp_source_request_duration_seconds",
			Help:    "Duration of groups.io API requests in seconds, including transport retries.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Ingestion metrics
var (
	MessagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psp_messages_fetched_total",
			Help: "Total number of messages received from the source.",
		},
		[]string{"mode"}, // mode: "fetch", "backfill"
	)

	MessagesInsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psp_messages_inserted_total",
			Help: "Total number of new messages committed to storage.",
		},
		[]string{"mode"},
	)

	BatchCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psp_batch_commits_total",
			Help: "Total number of batch transactions.",
		},
		[]string{"status"}, // status: "commit", "rollback"
	)

	RateLimitWaitSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "psp_rate_limit_wait_seconds_total",
			Help: "Total seconds spent waiting on source rate limits.",
		},
	)
)

// REST API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psp_api_requests_total",
			Help: "Total number of REST API requests.",
		},
		[]string{"route", "code"},
	)
)
