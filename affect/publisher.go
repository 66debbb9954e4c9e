// Package affect implements the broadcast channel: fan-out delivery to
// every subscriber with per-subscriber bounded queues. A slow consumer
// loses its own oldest envelopes; it never slows the publisher or its
// peers. The same transport carries the legacy shim, which is the
// broadcast contract on the legacy subject prefix.
package affect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HomoYouDidnt/kloros-sub007/envelope"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
	"github.com/HomoYouDidnt/kloros-sub007/relay"
)

// lvcPutTimeout bounds the last-value-cache write so a slow cache never
// turns a broadcast into a blocking call.
const lvcPutTimeout = 500 * time.Millisecond

// Broadcaster publishes fire-and-forget messages. *natsclient.Client
// satisfies this.
type Broadcaster interface {
	Publish(subject string, data []byte) error
}

// LastValueWriter stores the most recent envelope per topic.
// jetstream.KeyValue satisfies this.
type LastValueWriter interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// Publisher broadcasts envelopes. PublishBroadcast never blocks on
// subscribers and never raises to the caller; failures are logged and
// counted, matching the channel's fire-and-forget contract.
type Publisher struct {
	conn    Broadcaster
	lvc     LastValueWriter
	ns      string
	metrics *metric.BusMetrics
	logger  *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the structured logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger.With("component", "affect.publisher")
		}
	}
}

// WithPublisherMetrics attaches channel metrics.
func WithPublisherMetrics(m *metric.BusMetrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithLastValueCache stores each broadcast in the cache so late
// subscribers can replay the most recent envelope per topic.
func WithLastValueCache(lvc LastValueWriter) PublisherOption {
	return func(p *Publisher) {
		p.lvc = lvc
	}
}

// NewPublisher creates an AFFECT publisher bound to a namespace.
func NewPublisher(conn Broadcaster, namespace string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		conn:   conn,
		ns:     namespace,
		logger: slog.Default().With("component", "affect.publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishBroadcast fans the envelope out to current subscribers and
// returns immediately. There is no delivery feedback: zero subscribers,
// dropped queues, and transport hiccups all look the same to the
// publisher. The envelope must carry the affect or legacy channel.
func (p *Publisher) PublishBroadcast(ctx context.Context, env envelope.Envelope) {
	if env.Channel != envelope.ChannelAffect && env.Channel != envelope.ChannelLegacy {
		p.logger.Warn("dropping broadcast on wrong channel",
			"signal", env.Signal, "channel", env.Channel.String())
		return
	}

	data, err := envelope.Encode(env)
	if err != nil {
		p.metrics.RecordMalformed("affect.publisher")
		p.logger.Warn("broadcast encode failed", "signal", env.Signal, "error", err)
		return
	}

	subject := relay.Subject(p.ns, env.Channel, env.Signal)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("broadcast publish failed", "subject", subject, "error", err)
		return
	}

	if env.Channel == envelope.ChannelLegacy {
		p.metrics.RecordLegacyPublish()
	} else {
		p.metrics.RecordAffectPublish()
	}

	if p.lvc != nil {
		p.cacheLastValue(ctx, env, data)
	}
}

// cacheLastValue best-effort stores the envelope as the topic's most
// recent value.
func (p *Publisher) cacheLastValue(ctx context.Context, env envelope.Envelope, data []byte) {
	putCtx, cancel := context.WithTimeout(ctx, lvcPutTimeout)
	defer cancel()

	key := relay.LVCKey(env.Channel, env.Signal)
	if _, err := p.lvc.Put(putCtx, key, data); err != nil {
		p.logger.Warn("last-value cache write failed",
			"key", key, "error", fmt.Errorf("cache put: %w", err))
	}
}
