// Package bus is the producer- and consumer-facing facade over the
// differentiated channels. It owns the relay lifecycle, builds one
// transport per channel, and dispatches each publish through a
// channel-to-transport strategy map.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/HomoYouDidnt/kloros-sub007/affect"
	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/deadletter"
	"github.com/HomoYouDidnt/kloros-sub007/dedup"
	"github.com/HomoYouDidnt/kloros-sub007/envelope"
	"github.com/HomoYouDidnt/kloros-sub007/errors"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
	"github.com/HomoYouDidnt/kloros-sub007/reflex"
	"github.com/HomoYouDidnt/kloros-sub007/relay"
	"github.com/HomoYouDidnt/kloros-sub007/trophic"
)

// Per-channel transport surfaces, held as interfaces so routing can be
// tested without a relay.
type ackPublisher interface {
	PublishAck(ctx context.Context, env envelope.Envelope) error
}

type broadcastPublisher interface {
	PublishBroadcast(ctx context.Context, env envelope.Envelope)
}

type enqueuePublisher interface {
	PublishEnqueue(ctx context.Context, env envelope.Envelope) error
}

// Bus hosts the three channel transports behind one Publish call.
// Create with New, wire with Start, release with Stop. A Bus is safe
// for concurrent use once started.
type Bus struct {
	cfg        *config.Config
	relay      *relay.Relay
	letters    *deadletter.Store
	classifier Classifier
	metrics    *metric.Registry
	logger     *slog.Logger

	reflexPub  ackPublisher
	affectPub  broadcastPublisher
	trophicPub enqueuePublisher

	dispatch map[envelope.Channel]func(context.Context, envelope.Envelope) error

	started atomic.Bool
	stopped atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger.With("component", "bus")
		}
	}
}

// WithMetrics attaches a metrics registry shared by all transports.
func WithMetrics(m *metric.Registry) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithClassifier installs a routing classifier applied to every
// publish before dispatch.
func WithClassifier(c Classifier) Option {
	return func(b *Bus) {
		b.classifier = c
	}
}

// WithRelay injects a pre-built relay, primarily for tests.
func WithRelay(r *relay.Relay) Option {
	return func(b *Bus) {
		b.relay = r
	}
}

// New creates a Bus from the configuration. The relay is created but
// not connected; call Start.
func New(cfg *config.Config, opts ...Option) (*Bus, error) {
	b := &Bus{
		cfg:    cfg,
		logger: slog.Default().With("component", "bus"),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.relay == nil {
		relayOpts := []relay.Option{relay.WithLogger(b.logger)}
		if b.metrics != nil {
			relayOpts = append(relayOpts, relay.WithMetrics(b.metrics))
		}
		r, err := relay.New(cfg, relayOpts...)
		if err != nil {
			return nil, err
		}
		b.relay = r
	}

	b.letters = deadletter.NewStore(cfg.DeadLetter.Capacity)
	return b, nil
}

// Start connects the relay and wires one transport per channel.
func (b *Bus) Start(ctx context.Context) error {
	if b.started.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "bus", "Start", "bus already started")
	}

	if err := b.relay.Start(ctx); err != nil {
		b.started.Store(false)
		return err
	}

	ns := b.relay.Namespace()
	busMetrics := b.relay.BusMetrics()
	client := b.relay.Client()

	b.reflexPub = reflex.NewPublisher(client, ns, b.cfg.Reflex, b.letters,
		reflex.WithPublisherLogger(b.logger),
		reflex.WithPublisherMetrics(busMetrics),
		reflex.WithDeadLetterNotify(client),
	)

	affectOpts := []affect.PublisherOption{
		affect.WithPublisherLogger(b.logger),
		affect.WithPublisherMetrics(busMetrics),
	}
	if lvc := b.relay.LastValueBucket(); lvc != nil {
		affectOpts = append(affectOpts, affect.WithLastValueCache(lvc))
	}
	b.affectPub = affect.NewPublisher(client, ns, affectOpts...)

	b.trophicPub = trophic.NewPublisher(client.JetStream(), ns, b.cfg.Trophic,
		trophic.WithPublisherLogger(b.logger),
		trophic.WithPublisherMetrics(busMetrics),
	)

	b.wireDispatch()

	b.logger.Info("bus started", "namespace", ns)
	return nil
}

// wireDispatch builds the channel-to-transport strategy map. The
// legacy channel rides the broadcast transport so unmigrated traffic
// keeps its prior undifferentiated behavior.
func (b *Bus) wireDispatch() {
	broadcast := func(ctx context.Context, env envelope.Envelope) error {
		b.affectPub.PublishBroadcast(ctx, env)
		return nil
	}
	b.dispatch = map[envelope.Channel]func(context.Context, envelope.Envelope) error{
		envelope.ChannelReflex:  b.reflexPub.PublishAck,
		envelope.ChannelAffect:  broadcast,
		envelope.ChannelLegacy:  broadcast,
		envelope.ChannelTrophic: b.trophicPub.PublishEnqueue,
	}
}

// Publish routes the envelope through its channel's transport. The
// classifier, when installed, may re-route first; the delivery
// contract the caller gets is the one for the channel the envelope
// ends up on.
func (b *Bus) Publish(ctx context.Context, env envelope.Envelope) error {
	if !b.started.Load() || b.stopped.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "bus", "Publish", "bus not running")
	}

	if b.classifier != nil {
		if ch := b.classifier(env); ch.Valid() && ch != env.Channel {
			b.logger.Debug("envelope re-routed",
				"signal", env.Signal, "from", env.Channel.String(), "to", ch.String())
			env = env.WithChannel(ch)
		}
	}

	fn, ok := b.dispatch[env.Channel]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("no transport for channel %s", env.Channel),
			"bus", "Publish", "dispatch "+env.Signal)
	}
	return fn(ctx, env)
}

// HandleReflex registers an acknowledged handler for the signal
// pattern. Each registration gets its own replay guard.
func (b *Bus) HandleReflex(ctx context.Context, signalPattern string, h reflex.Handler) (*reflex.Subscription, error) {
	if !b.started.Load() {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "bus", "HandleReflex", "bus not running")
	}
	cons := reflex.NewConsumer(b.relay.Client(), b.relay.Namespace(), b.cfg.Reflex,
		reflex.WithConsumerLogger(b.logger),
		reflex.WithConsumerMetrics(b.relay.BusMetrics()),
		reflex.WithReplayGuard(b.newGuard()),
	)
	return cons.Handle(ctx, signalPattern, h)
}

// SubscribeAffect attaches a bounded-queue broadcast subscription.
func (b *Bus) SubscribeAffect(ctx context.Context, consumer, signalPattern string, h affect.Handler) (*affect.Handle, error) {
	return b.subscribeBroadcast(ctx, envelope.ChannelAffect, consumer, signalPattern, h)
}

// SubscribeLegacy attaches a broadcast subscription on the legacy
// prefix, for consumers that have not migrated to a differentiated
// channel.
func (b *Bus) SubscribeLegacy(ctx context.Context, consumer, signalPattern string, h affect.Handler) (*affect.Handle, error) {
	return b.subscribeBroadcast(ctx, envelope.ChannelLegacy, consumer, signalPattern, h)
}

func (b *Bus) subscribeBroadcast(ctx context.Context, ch envelope.Channel, consumer, signalPattern string, h affect.Handler) (*affect.Handle, error) {
	if !b.started.Load() {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "bus", "SubscribeBroadcast", "bus not running")
	}
	subOpts := []affect.SubscriberOption{
		affect.WithSubscriberLogger(b.logger),
		affect.WithSubscriberMetrics(b.relay.BusMetrics()),
		affect.WithChannel(ch),
	}
	if lvc := b.relay.LastValueBucket(); lvc != nil && ch == envelope.ChannelAffect {
		subOpts = append(subOpts, affect.WithLastValueReplay(lvc))
	}
	sub := affect.NewSubscriber(b.relay.Client(), b.relay.Namespace(), b.cfg.Affect, subOpts...)
	return sub.Subscribe(ctx, consumer, signalPattern, h, b.newGuard())
}

// TrophicWorker creates a batch worker on the shared work queue. All
// workers compete for envelopes on one durable consumer.
func (b *Bus) TrophicWorker(ctx context.Context) (*trophic.Worker, error) {
	if !b.started.Load() {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "bus", "TrophicWorker", "bus not running")
	}
	cons, err := b.relay.TrophicConsumer(ctx)
	if err != nil {
		return nil, err
	}
	return trophic.NewWorker(cons, b.cfg.Trophic,
		trophic.WithWorkerLogger(b.logger),
		trophic.WithWorkerMetrics(b.relay.BusMetrics()),
		trophic.WithWorkerReplayGuard(b.newGuard()),
	), nil
}

// TrophicPool creates and starts a pool of batch workers competing on
// the shared queue. The pool runs until its Stop or the context ends.
func (b *Bus) TrophicPool(ctx context.Context, size int, h trophic.BatchHandler) (*trophic.Pool, error) {
	worker, err := b.TrophicWorker(ctx)
	if err != nil {
		return nil, err
	}
	pool := trophic.NewPool(worker, size, h)
	if err := pool.Start(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

// newGuard creates a per-consumer replay guard from the configuration.
func (b *Bus) newGuard() *dedup.Guard {
	return dedup.NewGuard(b.cfg.Dedup.MaxEntries, b.cfg.Dedup.RetentionWindow)
}

// DeadLetters exposes the dead-letter store for operator inspection.
func (b *Bus) DeadLetters() *deadletter.Store {
	return b.letters
}

// QueueDepth reports the shared TROPHIC queue depth.
func (b *Bus) QueueDepth(ctx context.Context) (uint64, error) {
	return b.relay.QueueDepth(ctx)
}

// Relay exposes the underlying relay.
func (b *Bus) Relay() *relay.Relay {
	return b.relay
}

// Healthy reports whether the bus can currently move envelopes.
func (b *Bus) Healthy() bool {
	return b.started.Load() && !b.stopped.Load() && b.relay.Healthy()
}

// Stop drains the relay connection. Queued AFFECT envelopes and
// memory-backed TROPHIC depth are lost; that is the documented
// restart contract.
func (b *Bus) Stop(timeout time.Duration) error {
	if !b.started.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "bus", "Stop", "bus not started")
	}
	if b.stopped.Swap(true) {
		return nil
	}
	err := b.relay.Stop(timeout)
	b.logger.Info("bus stopped")
	return err
}
