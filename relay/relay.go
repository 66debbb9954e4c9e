// Package relay hosts the bus endpoints for all three channels. The
// Relay is an explicit lifecycle object passed by reference to
// producers and consumers, so tests can run multiple isolated bus
// instances side by side instead of sharing a hidden global.
package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/envelope"
	"github.com/HomoYouDidnt/kloros-sub007/errors"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
	"github.com/HomoYouDidnt/kloros-sub007/natsclient"
)

// trophicConsumerName is the shared durable consumer workers attach
// to. Sharing one durable makes workers compete for envelopes, which
// is what gives TROPHIC horizontal scale-out.
const trophicConsumerName = "workers"

// Relay owns the connection and the channel endpoints. It forwards
// with zero application interpretation: topic filtering for REFLEX and
// AFFECT, FIFO handoff for TROPHIC.
type Relay struct {
	cfg     *config.Config
	client  *natsclient.Client
	metrics *metric.Registry
	logger  *slog.Logger

	stream jetstream.Stream
	lvc    jetstream.KeyValue

	started atomic.Bool
	stopped atomic.Bool
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger.With("component", "relay")
		}
	}
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metric.Registry) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithClient injects a pre-built client, primarily for tests.
func WithClient(c *natsclient.Client) Option {
	return func(r *Relay) {
		r.client = c
	}
}

// New creates a Relay for the given configuration. The configuration
// is validated here so misconfiguration fails before Start.
func New(cfg *config.Config, opts ...Option) (*Relay, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Relay", "New", "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Relay{
		cfg:    cfg,
		logger: slog.Default().With("component", "relay"),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		clientOpts := []natsclient.ClientOption{
			natsclient.WithLogger(r.logger),
			natsclient.WithName("kloros-bus-" + cfg.Namespace),
			natsclient.WithConnectTimeout(cfg.NATS.ConnectTimeout),
			natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout),
		}
		if cfg.NATS.Username != "" {
			clientOpts = append(clientOpts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
		}
		if cfg.NATS.Token != "" {
			clientOpts = append(clientOpts, natsclient.WithToken(cfg.NATS.Token))
		}
		if cfg.NATS.TLS.Enabled {
			clientOpts = append(clientOpts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
		}

		client, err := natsclient.NewClient(cfg.NATS.URL, clientOpts...)
		if err != nil {
			return nil, err
		}
		r.client = client
	}

	return r, nil
}

// Start connects to the relay endpoint and provisions the TROPHIC
// stream and, when enabled, the last-value-cache bucket.
func (r *Relay) Start(ctx context.Context) error {
	if r.started.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Relay", "Start", "relay already started")
	}

	if err := r.client.Connect(ctx); err != nil {
		r.started.Store(false)
		return err
	}

	if err := r.provisionTrophicStream(ctx); err != nil {
		r.started.Store(false)
		return err
	}

	if r.cfg.Affect.LastValueCache {
		if err := r.provisionLastValueCache(ctx); err != nil {
			r.started.Store(false)
			return err
		}
	}

	r.logger.Info("relay started",
		"namespace", r.cfg.Namespace,
		"trophic_stream", streamName(r.cfg.Namespace),
		"spill_to_disk", r.cfg.Trophic.SpillToDisk,
		"last_value_cache", r.cfg.Affect.LastValueCache,
	)
	return nil
}

func (r *Relay) provisionTrophicStream(ctx context.Context) error {
	storage := jetstream.MemoryStorage
	if r.cfg.Trophic.SpillToDisk {
		storage = jetstream.FileStorage
	}

	// WorkQueue retention delivers each envelope to exactly one worker
	// and removes it on ack. MaxMsgs with DiscardNew is the high-water
	// mark: a publish into a full queue is refused, and the publisher
	// blocks and retries instead of the queue growing unbounded.
	streamCfg := jetstream.StreamConfig{
		Name:      streamName(r.cfg.Namespace),
		Subjects:  []string{SubjectFilter(r.cfg.Namespace, envelope.ChannelTrophic, ">")},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   storage,
		MaxMsgs:   r.cfg.Trophic.HighWaterMark,
		Discard:   jetstream.DiscardNew,
	}

	stream, err := r.client.JetStream().CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return errors.WrapTransient(err, "Relay", "Start", "provision trophic stream")
	}
	r.stream = stream
	return nil
}

func (r *Relay) provisionLastValueCache(ctx context.Context) error {
	kv, err := r.client.JetStream().CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      lvcBucket(r.cfg.Namespace),
		Description: "most recent envelope per broadcast topic",
		History:     1,
	})
	if err != nil {
		return errors.WrapTransient(err, "Relay", "Start", "provision last-value cache")
	}
	r.lvc = kv
	return nil
}

// Stop drains the connection. In-flight AFFECT and memory-backed
// TROPHIC envelopes are lost on stop; REFLEX publishers time out and
// re-send once the relay returns.
func (r *Relay) Stop(timeout time.Duration) error {
	if !r.started.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Relay", "Stop", "relay not started")
	}
	if r.stopped.Swap(true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := r.client.Close(ctx)
	r.logger.Info("relay stopped", "namespace", r.cfg.Namespace)
	return err
}

// TrophicConsumer returns the shared durable pull consumer for the
// work queue, creating it on first use. All workers attach to the same
// durable and compete for envelopes.
func (r *Relay) TrophicConsumer(ctx context.Context) (jetstream.Consumer, error) {
	if r.stream == nil {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "Relay", "TrophicConsumer", "relay not started")
	}
	cons, err := r.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   trophicConsumerName,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Relay", "TrophicConsumer", "create durable consumer")
	}
	return cons, nil
}

// QueueDepth returns the current depth of the shared TROPHIC queue.
func (r *Relay) QueueDepth(ctx context.Context) (uint64, error) {
	if r.stream == nil {
		return 0, errors.WrapInvalid(errors.ErrNotStarted, "Relay", "QueueDepth", "relay not started")
	}
	info, err := r.stream.Info(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, "Relay", "QueueDepth", "fetch stream info")
	}
	return info.State.Msgs, nil
}

// Client returns the connection manager.
func (r *Relay) Client() *natsclient.Client {
	return r.client
}

// LastValueBucket returns the LVC bucket, or nil when disabled.
func (r *Relay) LastValueBucket() jetstream.KeyValue {
	return r.lvc
}

// Namespace returns the bus isolation namespace.
func (r *Relay) Namespace() string {
	return r.cfg.Namespace
}

// Config returns the bus configuration.
func (r *Relay) Config() *config.Config {
	return r.cfg
}

// Metrics returns the metrics registry, or nil when not attached.
func (r *Relay) Metrics() *metric.Registry {
	return r.metrics
}

// BusMetrics returns the channel metrics, or nil when not attached.
func (r *Relay) BusMetrics() *metric.BusMetrics {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.Bus()
}

// Logger returns the relay logger.
func (r *Relay) Logger() *slog.Logger {
	return r.logger
}

// Healthy reports whether the relay connection is up.
func (r *Relay) Healthy() bool {
	return r.started.Load() && !r.stopped.Load() && r.client.IsHealthy()
}
