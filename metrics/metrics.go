package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmq"

// Metrics groups the collectors of the quorum manager. The zero registerer is allowed; collectors
// are then created without registering them.
type Metrics struct {
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	Builds            *prometheus.CounterVec
	DataRequestsSent  *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	PeerPenalties     *prometheus.CounterVec
	RecoveryOutcomes  *prometheus.CounterVec
	RecoveryRunning   prometheus.Gauge
	ExpiredRequests   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Quorum lookups served from the cache.",
		}, []string{"llmq_type"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Quorum lookups that had to build the quorum.",
		}, []string{"llmq_type"}),
		Builds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quorum_builds_total",
			Help:      "Quorum builds by where the crypto material came from.",
		}, []string{"llmq_type", "result"}),
		DataRequestsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_requests_sent_total",
			Help:      "qgetdata messages sent.",
		}, []string{"llmq_type"}),
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Quorum data messages handled by command and outcome.",
		}, []string{"command", "outcome"}),
		PeerPenalties: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_penalties_total",
			Help:      "Misbehaviour score handed out by command.",
		}, []string{"command"}),
		RecoveryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_recovery_total",
			Help:      "Finished data recovery tasks by outcome.",
		}, []string{"llmq_type", "outcome"}),
		RecoveryRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "data_recovery_running",
			Help:      "Data recovery tasks currently running.",
		}),
		ExpiredRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_requests_total",
			Help:      "Request registry entries dropped after their TTL.",
		}),
	}
}
