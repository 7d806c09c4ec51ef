// Package metrics Prometheus 指标，统一在这里注册
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PropagationFailures 规范写入之后同步到索引/向量库失败的次数
	PropagationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medialib_propagation_failures_total",
			Help: "Failed propagations from canonical writes to derived stores",
		},
		[]string{"target", "op"}, // target: search|embedding, op: upsert|delete
	)

	// PropagationRetries 重试队列处理结果
	PropagationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medialib_propagation_retries_total",
			Help: "Propagation retry attempts by result",
		},
		[]string{"result"}, // succeeded|requeued|exhausted
	)

	EnrichmentCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medialib_enrichment_candidates_total",
			Help: "Enrichment candidates processed by outcome",
		},
		[]string{"family", "outcome"},
	)

	EnrichmentRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medialib_enrichment_runs_total",
			Help: "Completed enrichment runs",
		},
		[]string{"family", "cancelled"},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medialib_sync_records_total",
			Help: "Remote records handled by synchronizers",
		},
		[]string{"source", "action"}, // created|updated|skipped
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medialib_sync_runs_total",
			Help: "Synchronizer runs by result",
		},
		[]string{"source", "result"}, // success|failure
	)

	// BreakerState 熔断器状态：0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medialib_breaker_state",
			Help: "Circuit breaker state per external API",
		},
		[]string{"name"},
	)
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medialib_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medialib_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
