package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ack statuses recorded on REFLEX delivery outcomes.
const (
	StatusAck     = "ack"
	StatusNack    = "nack"
	StatusTimeout = "timeout"
)

// Batch close reasons recorded on TROPHIC batch handoff.
const (
	CloseSizeBound = "size_bound"
	CloseTimeBound = "time_bound"
)

// BusMetrics holds the per-channel bus metrics. All record methods are
// nil-safe so transports constructed without a registry skip metrics
// without branching at every call site.
type BusMetrics struct {
	// REFLEX
	ReflexPublished   prometheus.Counter
	ReflexAcks        *prometheus.CounterVec // status: ack|nack|timeout
	ReflexRetries     prometheus.Counter
	ReflexDeadLetters prometheus.Counter
	ReflexAckDuration prometheus.Histogram

	// AFFECT
	AffectPublished  prometheus.Counter
	AffectDelivered  *prometheus.CounterVec // consumer
	AffectDropped    *prometheus.CounterVec // consumer
	AffectQueueDepth *prometheus.GaugeVec   // consumer
	AffectReplayed   prometheus.Counter

	// TROPHIC
	TrophicEnqueued        prometheus.Counter
	TrophicBatches         *prometheus.CounterVec // close_reason
	TrophicBatchSize       prometheus.Histogram
	TrophicSaturationWaits prometheus.Counter

	// LEGACY shim
	LegacyPublished prometheus.Counter

	// Cross-channel
	DedupHits prometheus.Counter
	Malformed *prometheus.CounterVec // component
}

func newBusMetrics() *BusMetrics {
	return &BusMetrics{
		ReflexPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "reflex", Name: "published_total",
			Help: "Total REFLEX envelopes published",
		}),
		ReflexAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "reflex", Name: "ack_total",
			Help: "REFLEX delivery outcomes by status",
		}, []string{"status"}),
		ReflexRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "reflex", Name: "retries_total",
			Help: "REFLEX publish attempts beyond the first",
		}),
		ReflexDeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "reflex", Name: "deadletters_total",
			Help: "Envelopes dead-lettered after exhausting the retry ceiling",
		}),
		ReflexAckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kloros", Subsystem: "reflex", Name: "ack_duration_seconds",
			Help:    "Time from publish to acknowledgment",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		AffectPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "affect", Name: "published_total",
			Help: "Total AFFECT envelopes broadcast",
		}),
		AffectDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "affect", Name: "delivered_total",
			Help: "AFFECT envelopes handed to a consumer callback",
		}, []string{"consumer"}),
		AffectDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "affect", Name: "dropped_total",
			Help: "AFFECT envelopes dropped by a subscriber queue (oldest-first)",
		}, []string{"consumer"}),
		AffectQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kloros", Subsystem: "affect", Name: "queue_depth",
			Help: "Current depth of each subscriber queue",
		}, []string{"consumer"}),
		AffectReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "affect", Name: "lvc_replayed_total",
			Help: "Envelopes replayed from the last-value cache to late subscribers",
		}),

		TrophicEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "trophic", Name: "enqueued_total",
			Help: "Total TROPHIC envelopes enqueued",
		}),
		TrophicBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "trophic", Name: "batches_total",
			Help: "Batches handed to workers by close reason",
		}, []string{"close_reason"}),
		TrophicBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kloros", Subsystem: "trophic", Name: "batch_size",
			Help:    "Distribution of batch sizes at close",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		}),
		TrophicSaturationWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "trophic", Name: "saturation_waits_total",
			Help: "Publish attempts that hit the shared queue high-water mark",
		}),

		LegacyPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "legacy", Name: "published_total",
			Help: "Envelopes routed through the legacy broadcast shim",
		}),

		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "dedup", Name: "hits_total",
			Help: "Deliveries suppressed by the incident replay guard",
		}),
		Malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kloros", Subsystem: "envelope", Name: "malformed_total",
			Help: "Envelopes dropped at decode time",
		}, []string{"component"}),
	}
}

func (m *BusMetrics) mustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		m.ReflexPublished, m.ReflexAcks, m.ReflexRetries, m.ReflexDeadLetters, m.ReflexAckDuration,
		m.AffectPublished, m.AffectDelivered, m.AffectDropped, m.AffectQueueDepth, m.AffectReplayed,
		m.TrophicEnqueued, m.TrophicBatches, m.TrophicBatchSize, m.TrophicSaturationWaits,
		m.LegacyPublished, m.DedupHits, m.Malformed,
	)
}

// RecordReflexPublish counts an outbound REFLEX envelope.
func (m *BusMetrics) RecordReflexPublish() {
	if m == nil {
		return
	}
	m.ReflexPublished.Inc()
}

// RecordReflexOutcome records a delivery outcome and its latency.
func (m *BusMetrics) RecordReflexOutcome(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ReflexAcks.WithLabelValues(status).Inc()
	m.ReflexAckDuration.Observe(elapsed.Seconds())
}

// RecordReflexRetry counts a retry attempt.
func (m *BusMetrics) RecordReflexRetry() {
	if m == nil {
		return
	}
	m.ReflexRetries.Inc()
}

// RecordDeadLetter counts a dead-lettered envelope.
func (m *BusMetrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.ReflexDeadLetters.Inc()
}

// RecordAffectPublish counts an outbound broadcast.
func (m *BusMetrics) RecordAffectPublish() {
	if m == nil {
		return
	}
	m.AffectPublished.Inc()
}

// RecordAffectDelivery counts a callback invocation for a consumer.
func (m *BusMetrics) RecordAffectDelivery(consumer string) {
	if m == nil {
		return
	}
	m.AffectDelivered.WithLabelValues(consumer).Inc()
}

// RecordAffectDrop counts an overflow drop for a consumer. Drops are
// metrics-only and never surfaced as errors.
func (m *BusMetrics) RecordAffectDrop(consumer string) {
	if m == nil {
		return
	}
	m.AffectDropped.WithLabelValues(consumer).Inc()
}

// SetAffectQueueDepth updates a subscriber queue depth gauge.
func (m *BusMetrics) SetAffectQueueDepth(consumer string, depth int) {
	if m == nil {
		return
	}
	m.AffectQueueDepth.WithLabelValues(consumer).Set(float64(depth))
}

// RecordAffectReplay counts a last-value-cache replay.
func (m *BusMetrics) RecordAffectReplay() {
	if m == nil {
		return
	}
	m.AffectReplayed.Inc()
}

// RecordTrophicEnqueue counts an enqueued envelope.
func (m *BusMetrics) RecordTrophicEnqueue() {
	if m == nil {
		return
	}
	m.TrophicEnqueued.Inc()
}

// RecordTrophicBatch records a closed batch.
func (m *BusMetrics) RecordTrophicBatch(closeReason string, size int) {
	if m == nil {
		return
	}
	m.TrophicBatches.WithLabelValues(closeReason).Inc()
	m.TrophicBatchSize.Observe(float64(size))
}

// RecordTrophicSaturation counts a high-water-mark wait.
func (m *BusMetrics) RecordTrophicSaturation() {
	if m == nil {
		return
	}
	m.TrophicSaturationWaits.Inc()
}

// RecordLegacyPublish counts a legacy-shim broadcast.
func (m *BusMetrics) RecordLegacyPublish() {
	if m == nil {
		return
	}
	m.LegacyPublished.Inc()
}

// RecordDedupHit counts a suppressed duplicate delivery.
func (m *BusMetrics) RecordDedupHit() {
	if m == nil {
		return
	}
	m.DedupHits.Inc()
}

// RecordMalformed counts a decode failure observed by a component.
func (m *BusMetrics) RecordMalformed(component string) {
	if m == nil {
		return
	}
	m.Malformed.WithLabelValues(component).Inc()
}
