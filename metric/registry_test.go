package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BusMetricsRegistered(t *testing.T) {
	r := NewRegistry()
	bus := r.Bus()
	require.NotNil(t, bus)

	bus.RecordReflexPublish()
	bus.RecordReflexOutcome(StatusAck, 5*time.Millisecond)
	bus.RecordAffectDrop("mood-watcher")
	bus.RecordTrophicBatch(CloseSizeBound, 5)
	bus.RecordDedupHit()

	assert.Equal(t, 1.0, testutil.ToFloat64(bus.ReflexPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.ReflexAcks.WithLabelValues(StatusAck)))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.AffectDropped.WithLabelValues("mood-watcher")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.TrophicBatches.WithLabelValues(CloseSizeBound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.DedupHits))
}

func TestRegistry_NilBusMetricsAreSafe(t *testing.T) {
	var bus *BusMetrics

	// Transports without a registry record into a nil receiver.
	assert.NotPanics(t, func() {
		bus.RecordReflexPublish()
		bus.RecordReflexOutcome(StatusTimeout, time.Second)
		bus.RecordReflexRetry()
		bus.RecordDeadLetter()
		bus.RecordAffectPublish()
		bus.RecordAffectDelivery("c")
		bus.RecordAffectDrop("c")
		bus.SetAffectQueueDepth("c", 3)
		bus.RecordAffectReplay()
		bus.RecordTrophicEnqueue()
		bus.RecordTrophicBatch(CloseTimeBound, 0)
		bus.RecordTrophicSaturation()
		bus.RecordLegacyPublish()
		bus.RecordDedupHit()
		bus.RecordMalformed("relay")
	})
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kloros", Subsystem: "test", Name: "ticks_total", Help: "test counter",
	})
	require.NoError(t, r.Register("probe", "ticks", c))
	assert.Error(t, r.Register("probe", "ticks", c))

	assert.True(t, r.Unregister("probe", "ticks"))
	assert.False(t, r.Unregister("probe", "ticks"))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	assert.NotNil(t, r.Handler())
	assert.NotNil(t, r.PrometheusRegistry())
}
