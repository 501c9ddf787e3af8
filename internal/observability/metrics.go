// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	PayloadsReceived  prometheus.Counter
	TradesAccepted    prometheus.Counter
	PayloadsRejected  *prometheus.CounterVec
	AppendRetries     prometheus.Counter
	AppendsAbandoned  prometheus.Counter
	FeedReconnects    prometheus.Counter
	IngestionLatency  prometheus.Histogram
	LastTradeCaptured prometheus.Gauge

	// Trade log metrics
	LogAppendDuration *prometheus.HistogramVec
	LogAppendErrors   *prometheus.CounterVec
	LogReadDuration   *prometheus.HistogramVec
	LogReadErrors     *prometheus.CounterVec
	LogRecordsSkipped *prometheus.CounterVec

	// Query metrics
	QueriesTotal     *prometheus.CounterVec
	QueryDuration    prometheus.Histogram
	QueryResultSize  prometheus.Histogram
	RefreshTicks     *prometheus.CounterVec
	RefreshDiscarded prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tradewatch"
	}

	return &Metrics{
		// Ingestion metrics
		PayloadsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "payloads_received_total",
			Help:      "Total number of raw payloads received from the event source",
		}),
		TradesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_accepted_total",
			Help:      "Total number of trade events decoded and appended to the log",
		}),
		PayloadsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "payloads_rejected_total",
			Help:      "Total number of payloads rejected by the decoder, by reason",
		}, []string{"reason"}),
		AppendRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "append_retries_total",
			Help:      "Total number of append retries after I/O failures",
		}),
		AppendsAbandoned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "appends_abandoned_total",
			Help:      "Total number of trades dropped after exhausting append retries",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of websocket reconnect attempts",
		}),
		IngestionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "payload_latency_seconds",
			Help:      "Time from payload receipt to durable append in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		LastTradeCaptured: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_trade_captured_timestamp",
			Help:      "Unix timestamp of the last accepted trade",
		}),

		// Trade log metrics
		LogAppendDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tradelog",
			Name:      "append_duration_seconds",
			Help:      "Trade log append duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		LogAppendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tradelog",
			Name:      "append_errors_total",
			Help:      "Total number of failed trade log appends",
		}, []string{"backend"}),
		LogReadDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tradelog",
			Name:      "read_duration_seconds",
			Help:      "Trade log full-scan duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		LogReadErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tradelog",
			Name:      "read_errors_total",
			Help:      "Total number of failed trade log scans",
		}, []string{"backend"}),
		LogRecordsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tradelog",
			Name:      "records_skipped_total",
			Help:      "Total number of undecodable records skipped during scans",
		}, []string{"backend"}),

		// Query metrics
		QueriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "queries_total",
			Help:      "Total number of trade queries by origin and status",
		}, []string{"origin", "status"}),
		QueryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query duration including the log scan in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		QueryResultSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "result_trades",
			Help:      "Number of trades returned per query",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		RefreshTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "ticks_total",
			Help:      "Total number of refresh ticks by outcome",
		}, []string{"outcome"}),
		RefreshDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "results_discarded_total",
			Help:      "Total number of refresh results discarded because the scheduler stopped",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPayloadReceived increments the payloads received counter.
func RecordPayloadReceived() {
	DefaultMetrics.PayloadsReceived.Inc()
}

// RecordTradeAccepted records an appended trade and its end-to-end latency.
func RecordTradeAccepted(latencySeconds float64, capturedUnix int64) {
	DefaultMetrics.TradesAccepted.Inc()
	DefaultMetrics.IngestionLatency.Observe(latencySeconds)
	DefaultMetrics.LastTradeCaptured.Set(float64(capturedUnix))
}

// RecordPayloadRejected records a decoder rejection.
func RecordPayloadRejected(reason string) {
	DefaultMetrics.PayloadsRejected.WithLabelValues(reason).Inc()
}

// RecordAppendRetry increments the append retry counter.
func RecordAppendRetry() {
	DefaultMetrics.AppendRetries.Inc()
}

// RecordAppendAbandoned increments the abandoned appends counter.
func RecordAppendAbandoned() {
	DefaultMetrics.AppendsAbandoned.Inc()
}

// RecordFeedReconnect increments the websocket reconnect counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordLogAppend records trade log append metrics.
func RecordLogAppend(backend string, seconds float64, err error) {
	DefaultMetrics.LogAppendDuration.WithLabelValues(backend).Observe(seconds)
	if err != nil {
		DefaultMetrics.LogAppendErrors.WithLabelValues(backend).Inc()
	}
}

// RecordLogRead records trade log scan metrics.
func RecordLogRead(backend string, seconds float64, skipped int, err error) {
	DefaultMetrics.LogReadDuration.WithLabelValues(backend).Observe(seconds)
	if skipped > 0 {
		DefaultMetrics.LogRecordsSkipped.WithLabelValues(backend).Add(float64(skipped))
	}
	if err != nil {
		DefaultMetrics.LogReadErrors.WithLabelValues(backend).Inc()
	}
}

// RecordQuery records a query run.
func RecordQuery(origin, status string, seconds float64, resultSize int) {
	DefaultMetrics.QueriesTotal.WithLabelValues(origin, status).Inc()
	DefaultMetrics.QueryDuration.Observe(seconds)
	DefaultMetrics.QueryResultSize.Observe(float64(resultSize))
}

// RecordRefreshTick records a scheduler tick outcome: "ran", "skipped", "error".
func RecordRefreshTick(outcome string) {
	DefaultMetrics.RefreshTicks.WithLabelValues(outcome).Inc()
}

// RecordRefreshDiscarded increments the discarded refresh results counter.
func RecordRefreshDiscarded() {
	DefaultMetrics.RefreshDiscarded.Inc()
}
