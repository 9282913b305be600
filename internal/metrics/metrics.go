// Package metrics holds the prometheus collectors shared by the cache,
// fan-out and task-queue layers. Collectors register on the default
// registry and are exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache results.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

var (
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Name:      "cache_requests_total",
		Help:      "Cache lookups by cache name and result (hit, miss, error).",
	}, []string{"cache", "result"})

	CachePushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Name:      "cache_pushes_total",
		Help:      "Window pushes by cache name and outcome (prepend, hydrate, error).",
	}, []string{"cache", "outcome"})

	FanoutBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Name:      "fanout_batches_total",
		Help:      "Fan-out batches by stage outcome (dispatched, done, failed).",
	}, []string{"outcome"})

	FanoutEntries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Name:      "fanout_entries_written_total",
		Help:      "Feed entries newly inserted by fan-out batches.",
	})

	FanoutRecipients = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "newsfeed",
		Name:      "fanout_recipients",
		Help:      "Follower count loaded per coordination job.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "newsfeed",
		Name:      "job_duration_seconds",
		Help:      "Task handler duration per attempt.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"job"})

	JobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Name:      "job_attempts_total",
		Help:      "Task handler attempts by job and result (ok, retry, failed).",
	}, []string{"job", "result"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "newsfeed",
		Name:      "queue_depth",
		Help:      "Jobs waiting in the in-process queue.",
	}, []string{"backend"})
)
