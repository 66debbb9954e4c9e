package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Namespace = "testbus"
	cfg.NATS.URL = "nats://127.0.0.1:65000" // nothing listens here
	cfg.NATS.ConnectTimeout = 100 * time.Millisecond
	return cfg
}

func TestRelay_NewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Reflex.RetryCeiling = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestRelay_Accessors(t *testing.T) {
	reg := metric.NewRegistry()
	r, err := New(testConfig(), WithMetrics(reg))
	require.NoError(t, err)

	assert.Equal(t, "testbus", r.Namespace())
	assert.NotNil(t, r.Client())
	assert.NotNil(t, r.Config())
	assert.Same(t, reg, r.Metrics())
	assert.NotNil(t, r.BusMetrics())
	assert.Nil(t, r.LastValueBucket())
	assert.NotNil(t, r.Logger())
}

func TestRelay_BusMetricsNilWithoutRegistry(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)
	assert.Nil(t, r.BusMetrics())
}

func TestRelay_OperationsBeforeStart(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	_, err = r.TrophicConsumer(context.Background())
	assert.Error(t, err)

	_, err = r.QueueDepth(context.Background())
	assert.Error(t, err)
}

func TestRelay_DoubleStartRejected(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// First start fails on the dead endpoint but resets the started
	// flag, so a retry is permitted.
	err1 := r.Start(ctx)
	require.Error(t, err1)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel2()
	err2 := r.Start(ctx2)
	require.Error(t, err2)
	assert.NotContains(t, err2.Error(), "already started")
}
