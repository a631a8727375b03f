package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsForwarded tracks records handed to the storage sink per task
	RecordsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_records_forwarded_total",
			Help: "Total number of records forwarded to the sink",
		},
		[]string{"task"},
	)

	// FilterRejected tracks fetched units skipped by the task filter
	FilterRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_filter_rejected_total",
			Help: "Total number of fetched units rejected by the filter",
		},
		[]string{"task"},
	)

	// FetchErrors tracks failed fetch cycles by error class
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_fetch_errors_total",
			Help: "Total number of failed fetch cycles",
		},
		[]string{"task", "class"},
	)

	// EndpointFailovers tracks endpoint rotations
	EndpointFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_endpoint_failovers_total",
			Help: "Total number of endpoint failovers",
		},
		[]string{"task"},
	)

	// TaskCurrentIndex tracks the cursor of each task
	TaskCurrentIndex = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestor_task_current_index",
			Help: "Next index the task will fetch",
		},
		[]string{"task"},
	)

	// TaskStatus is 1 for the current status of each task and 0 otherwise
	TaskStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestor_task_status",
			Help: "Current status of the task",
		},
		[]string{"task", "status"},
	)

	// RetryQueueSize tracks pending retry jobs per task
	RetryQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestor_retry_queue_size",
			Help: "Number of pending retry jobs",
		},
		[]string{"task"},
	)

	// JobsSpilled tracks follow-up jobs persisted because the target inbox was full
	JobsSpilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_jobs_spilled_total",
			Help: "Total number of jobs written to the store instead of the inbox",
		},
		[]string{"task"},
	)

	// RetryOutcomes tracks retry attempts by result
	RetryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_retry_outcomes_total",
			Help: "Total number of retry attempts by outcome",
		},
		[]string{"task", "outcome"},
	)

	// RPCCallsTotal tracks upstream calls per host and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_rpc_calls_total",
			Help: "Total number of upstream calls",
		},
		[]string{"host", "method"},
	)

	// RPCErrorsTotal tracks upstream errors per host
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_rpc_errors_total",
			Help: "Total number of upstream errors",
		},
		[]string{"host", "error_type"},
	)

	// RPCLatency tracks upstream call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestor_rpc_latency_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host", "method"},
	)

	// SinkRecordsWritten tracks rows written by the database sink
	SinkRecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_sink_records_written_total",
			Help: "Total number of records written by the sink",
		},
		[]string{"table"},
	)

	// SinkWriteErrors tracks failed batch writes
	SinkWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestor_sink_write_errors_total",
			Help: "Total number of failed sink batch writes",
		},
	)

	// SinkDropped tracks records dropped because the sink was closing
	SinkDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestor_sink_dropped_total",
			Help: "Total number of records dropped by the sink",
		},
	)

	// NotificationsSent tracks notifications per channel and result
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_notifications_total",
			Help: "Total number of notifications",
		},
		[]string{"channel", "result"},
	)

	// DBConnectionPoolUsage tracks the database pool usage in percent
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestor_db_connection_pool_usage",
			Help: "Open database connections as a percentage of the pool limit",
		},
	)
)

// SetTaskStatus flips the status gauge of a task to the given status.
func SetTaskStatus(task, status string) {
	for _, s := range []string{"working", "stopped", "error"} {
		v := 0.0
		if s == status {
			v = 1
		}
		TaskStatus.WithLabelValues(task, s).Set(v)
	}
}
