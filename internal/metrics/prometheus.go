package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a chunk store node
type Metrics struct {
	// Document operation metrics
	AddsTotal       prometheus.Counter
	GetsTotal       prometheus.Counter
	RemovesTotal    prometheus.Counter
	UpdatesTotal    prometheus.Counter
	UpdateConflicts prometheus.Counter
	QueriesTotal    prometheus.Counter
	QueryDuration   prometheus.Histogram

	// Chunk lifecycle metrics
	ChunksTotal      prometheus.Gauge
	DocumentsTotal   prometheus.Gauge
	ResidentBytes    prometheus.Gauge
	SplitsTotal      prometheus.Counter
	MergesTotal      prometheus.Counter
	SnapshotsTotal   prometheus.Counter
	SnapshotDuration prometheus.Histogram

	// Membership metrics
	JoinAttemptsTotal  *prometheus.CounterVec
	EstablishedPeers   prometheus.Gauge
	GossipMembersTotal prometheus.Gauge
}

// New creates and registers all Prometheus metrics
func New(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		AddsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "store",
			Name:        "adds_total",
			Help:        "Total number of document add operations",
			ConstLabels: labels,
		}),
		GetsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "store",
			Name:        "gets_total",
			Help:        "Total number of point lookups",
			ConstLabels: labels,
		}),
		RemovesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "store",
			Name:        "removes_total",
			Help:        "Total number of document remove operations",
			ConstLabels: labels,
		}),
		UpdatesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "store",
			Name:        "updates_total",
			Help:        "Total number of compare-and-swap updates",
			ConstLabels: labels,
		}),
		UpdateConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "store",
			Name:        "update_conflicts_total",
			Help:        "Compare-and-swap updates that failed on a stale expected value",
			ConstLabels: labels,
		}),
		QueriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "store",
			Name:        "queries_total",
			Help:        "Total number of predicate queries",
			ConstLabels: labels,
		}),
		QueryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "chunkdb",
			Subsystem:   "store",
			Name:        "query_duration_seconds",
			Help:        "Histogram of predicate query durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		ChunksTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chunkdb",
			Subsystem:   "chunks",
			Name:        "total",
			Help:        "Number of live chunks covering the keyspace",
			ConstLabels: labels,
		}),
		DocumentsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chunkdb",
			Subsystem:   "chunks",
			Name:        "documents_total",
			Help:        "Number of resident documents across all chunks",
			ConstLabels: labels,
		}),
		ResidentBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chunkdb",
			Subsystem:   "chunks",
			Name:        "resident_bytes",
			Help:        "Approximate resident size across all chunks",
			ConstLabels: labels,
		}),
		SplitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "chunks",
			Name:        "splits_total",
			Help:        "Total number of chunk splits",
			ConstLabels: labels,
		}),
		MergesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "chunks",
			Name:        "merges_total",
			Help:        "Total number of chunk merges",
			ConstLabels: labels,
		}),
		SnapshotsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "chunks",
			Name:        "snapshots_total",
			Help:        "Total number of chunk snapshot writes",
			ConstLabels: labels,
		}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "chunkdb",
			Subsystem:   "chunks",
			Name:        "snapshot_duration_seconds",
			Help:        "Histogram of chunk snapshot write durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		JoinAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "chunkdb",
			Subsystem:   "cluster",
			Name:        "join_attempts_total",
			Help:        "Inbound join attempts by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		EstablishedPeers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chunkdb",
			Subsystem:   "cluster",
			Name:        "established_peers",
			Help:        "Number of peers in the connection table",
			ConstLabels: labels,
		}),
		GossipMembersTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chunkdb",
			Subsystem:   "cluster",
			Name:        "gossip_members_total",
			Help:        "Number of members visible to the gossip layer",
			ConstLabels: labels,
		}),
	}
}
