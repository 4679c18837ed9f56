package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshAttempts counts finished refreshes per kind and outcome (success, failure, idle).
	RefreshAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govwatch_refresh_attempts_total",
			Help: "Total number of source refresh attempts",
		},
		[]string{"kind", "outcome"},
	)

	// RefreshLatency tracks how long one refresh of a source took
	RefreshLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govwatch_refresh_latency_seconds",
			Help:    "Source refresh latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// SourceRate is the current adaptive rate of each source
	SourceRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "govwatch_source_rate",
			Help: "Current adaptive rate of a source",
		},
		[]string{"source", "kind"},
	)

	// SourceCheckpoint is the persisted checkpoint of each source
	SourceCheckpoint = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "govwatch_source_checkpoint",
			Help: "Checkpoint of a source (block number or unix seconds)",
		},
		[]string{"source", "kind"},
	)

	// WindowSize tracks the number of blocks scanned per on-chain refresh
	WindowSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govwatch_window_blocks",
			Help:    "Blocks covered by a scan window",
			Buckets: prometheus.ExponentialBuckets(10, 4, 10),
		},
		[]string{"kind"},
	)

	// ChainHead is the last observed chain head per upstream
	ChainHead = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "govwatch_chain_head_block",
			Help: "Latest block height reported by the chain",
		},
		[]string{"upstream"},
	)

	// QueueDepth is the number of work items waiting per kind
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "govwatch_queue_depth",
			Help: "Work items waiting in a kind queue",
		},
		[]string{"kind"},
	)

	// QueueDropped counts work items not enqueued because the queue was full
	QueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govwatch_queue_dropped_total",
			Help: "Work items skipped because the kind queue was full",
		},
		[]string{"kind"},
	)

	// UpstreamCalls counts calls to chain nodes and the snapshot hub
	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govwatch_upstream_calls_total",
			Help: "Total number of upstream calls",
		},
		[]string{"upstream", "method", "outcome"},
	)

	// UpstreamLatency tracks upstream call latency
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govwatch_upstream_latency_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream", "method"},
	)

	// ProposalsUpserted counts proposal rows that actually changed
	ProposalsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govwatch_proposals_upserted_total",
			Help: "Proposal records inserted or changed",
		},
		[]string{"kind"},
	)

	// VotesUpserted counts vote rows written
	VotesUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govwatch_votes_upserted_total",
			Help: "Vote records written",
		},
		[]string{"kind"},
	)

	// JobsCreated counts notification jobs created per notification kind
	JobsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govwatch_jobs_created_total",
			Help: "Notification jobs created",
		},
		[]string{"kind"},
	)

	// DeliveryAttempts counts send attempts per channel and outcome
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govwatch_delivery_attempts_total",
			Help: "Notification delivery attempts",
		},
		[]string{"channel", "outcome"},
	)

	// JobsTerminal counts jobs reaching a terminal dispatch state
	JobsTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govwatch_jobs_terminal_total",
			Help: "Notification jobs that reached a terminal state",
		},
		[]string{"state"},
	)

	// JobsPruned counts terminal jobs removed by retention
	JobsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "govwatch_jobs_pruned_total",
			Help: "Terminal notification jobs removed by retention",
		},
	)

	// DBConnectionPoolUsage is open connections as a percentage of the pool limit
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "govwatch_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the pool limit",
		},
	)

	// LockContention counts refreshes skipped because another replica held the source lock
	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govwatch_lock_contention_total",
			Help: "Refreshes skipped because the source lock was held elsewhere",
		},
		[]string{"kind"},
	)
)
