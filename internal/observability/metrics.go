package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "teamrun", Name: "sync_batches_total",
		Help: "Point batches acknowledged by the run service",
	})
	SyncPointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "teamrun", Name: "sync_points_total",
		Help: "Path points accepted by the run service",
	})
	SyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "teamrun", Name: "sync_failures_total",
		Help: "Sync flushes that ended disconnected",
	})
	RoomTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamrun", Name: "room_transitions_total",
		Help: "Room state machine transitions",
	}, []string{"state"})
	RankingWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "teamrun", Name: "ranking_waits_total",
		Help: "Long-poll ranking waits served",
	})
	RankingWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "teamrun", Name: "ranking_wait_duration_seconds",
		Help:    "Time subscribers spent blocked waiting for a ranking change",
		Buckets: prometheus.DefBuckets,
	})
)
