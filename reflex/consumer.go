package reflex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/dedup"
	"github.com/HomoYouDidnt/kloros-sub007/envelope"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
	"github.com/HomoYouDidnt/kloros-sub007/relay"
)

// defaultQueueGroup is used when the configuration names none. All
// registrants for a topic join one group, so the relay alternates
// between them.
const defaultQueueGroup = "reflex-handlers"

// Handler processes a delivered envelope. A nil return acknowledges;
// an error rejects with the error text as the nack reason. Rejection
// means "received and refused", which is distinct from a timeout.
type Handler func(ctx context.Context, env envelope.Envelope) error

// QueueSubscriber registers queue-group subscriptions.
// *natsclient.Client satisfies this.
type QueueSubscriber interface {
	QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// Consumer registers acknowledged handlers. Each delivery runs the
// handler inline and replies ack or nack on the request subject.
type Consumer struct {
	subs      QueueSubscriber
	namespace string
	niche     string
	cfg       config.ReflexConfig
	guard     *dedup.Guard
	metrics   *metric.BusMetrics
	logger    *slog.Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the structured logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger.With("component", "reflex.consumer")
		}
	}
}

// WithConsumerMetrics attaches channel metrics.
func WithConsumerMetrics(m *metric.BusMetrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// WithNiche tags this consumer's registrations with its ecological
// niche. The niche is carried as metadata on the Subscription and in
// logs; it plays no part in routing.
func WithNiche(niche string) ConsumerOption {
	return func(c *Consumer) {
		c.niche = niche
	}
}

// WithReplayGuard installs an incident replay guard. A guarded consumer
// acks duplicates without invoking the handler, so a publisher retry
// after a lost ack does not re-run the side effect.
func WithReplayGuard(g *dedup.Guard) ConsumerOption {
	return func(c *Consumer) {
		c.guard = g
	}
}

// NewConsumer creates a REFLEX consumer bound to a namespace.
func NewConsumer(subs QueueSubscriber, namespace string, cfg config.ReflexConfig, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		subs:      subs,
		namespace: namespace,
		cfg:       cfg,
		logger:    slog.Default().With("component", "reflex.consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle registers h for the given signal pattern ("" or "*" matches
// every signal on the channel). The returned Subscription stops
// delivery when no longer needed.
func (c *Consumer) Handle(ctx context.Context, signalPattern string, h Handler) (*Subscription, error) {
	queue := c.cfg.QueueGroup
	if queue == "" {
		queue = defaultQueueGroup
	}

	subject := relay.SubjectFilter(c.namespace, envelope.ChannelReflex, signalPattern)
	sub, err := c.subs.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		reply := c.process(ctx, msg.Data, h)
		if err := msg.Respond(reply); err != nil {
			c.logger.Warn("ack reply failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("reflex handler registered",
		"subject", subject, "queue", queue, "niche", c.niche)
	return &Subscription{sub: sub, niche: c.niche}, nil
}

// process decodes, deduplicates, and runs the handler, returning the
// encoded ack or nack reply.
func (c *Consumer) process(ctx context.Context, data []byte, h Handler) []byte {
	env, err := envelope.Decode(data)
	if err != nil {
		// A resend of the same bytes cannot succeed, so refuse rather
		// than let the publisher burn its retry ceiling.
		c.metrics.RecordMalformed("reflex.consumer")
		c.logger.Warn("malformed envelope", "error", err)
		return encodeNack("malformed envelope: " + err.Error())
	}

	if c.guard != nil && !c.guard.ShouldProcess(env.IncidentID) {
		// Already handled; ack again so the publisher stops resending.
		c.metrics.RecordDedupHit()
		c.logger.Debug("duplicate suppressed", "signal", env.Signal, "incident_id", env.IncidentID)
		return encodeAck()
	}

	if h == nil {
		return encodeAck()
	}

	if err := c.invoke(ctx, env, h); err != nil {
		c.logger.Warn("handler rejected envelope",
			"signal", env.Signal, "incident_id", env.IncidentID, "error", err)
		return encodeNack(err.Error())
	}
	return encodeAck()
}

// invoke runs the handler with panic containment. A panicking handler
// nacks instead of taking down the subscription goroutine.
func (c *Consumer) invoke(ctx context.Context, env envelope.Envelope, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			c.logger.Error("handler panicked", "signal", env.Signal, "panic", r)
		}
	}()
	return h(ctx, env)
}

// Subscription is an active handler registration.
type Subscription struct {
	sub   *nats.Subscription
	niche string
}

// Niche returns the consumer's ecological niche, or "" when untagged.
func (s *Subscription) Niche() string {
	if s == nil {
		return ""
	}
	return s.niche
}

// Stop unregisters the handler. Safe to call on a nil receiver and
// idempotent.
func (s *Subscription) Stop() error {
	if s == nil || s.sub == nil {
		return nil
	}
	sub := s.sub
	s.sub = nil
	return sub.Unsubscribe()
}
