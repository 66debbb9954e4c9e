package trophic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/envelope"
	"github.com/HomoYouDidnt/kloros-sub007/errors"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
	"github.com/HomoYouDidnt/kloros-sub007/relay"
)

// maxMsgsExceededCode is the relay's refusal when the shared queue sits
// at its high-water mark with a discard-new policy.
const maxMsgsExceededCode jetstream.ErrorCode = 10077

// StreamPublisher persists messages into the shared queue.
// jetstream.JetStream satisfies this.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher enqueues envelopes into the shared work queue. At the
// high-water mark the publisher blocks and retries rather than dropping
// work, which is the channel's backpressure contract.
type Publisher struct {
	js      StreamPublisher
	ns      string
	cfg     config.TrophicConfig
	metrics *metric.BusMetrics
	logger  *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the structured logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger.With("component", "trophic.publisher")
		}
	}
}

// WithPublisherMetrics attaches channel metrics.
func WithPublisherMetrics(m *metric.BusMetrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// NewPublisher creates a TROPHIC publisher bound to a namespace.
func NewPublisher(js StreamPublisher, namespace string, cfg config.TrophicConfig, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		js:     js,
		ns:     namespace,
		cfg:    cfg,
		logger: slog.Default().With("component", "trophic.publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishEnqueue appends the envelope to the shared queue. When the
// queue is at its high-water mark the call blocks, retrying every
// saturation interval until space opens or the context expires; an
// expired context surfaces errors.ErrQueueSaturated so the caller can
// shed load deliberately instead of losing work silently.
func (p *Publisher) PublishEnqueue(ctx context.Context, env envelope.Envelope) error {
	if env.Channel != envelope.ChannelTrophic {
		return errors.WrapInvalid(
			fmt.Errorf("envelope channel %s on trophic transport", env.Channel),
			"trophic", "PublishEnqueue", "check channel")
	}

	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	subject := relay.Subject(p.ns, envelope.ChannelTrophic, env.Signal)

	for {
		_, err := p.js.Publish(ctx, subject, data)
		if err == nil {
			p.metrics.RecordTrophicEnqueue()
			return nil
		}
		if !isSaturated(err) {
			return errors.WrapTransient(err, "trophic", "PublishEnqueue", "enqueue "+env.Signal)
		}

		p.metrics.RecordTrophicSaturation()
		p.logger.Debug("queue at high-water mark, waiting",
			"signal", env.Signal, "retry_in", p.cfg.SaturationRetry)

		timer := time.NewTimer(p.cfg.SaturationRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.WrapTransient(
				fmt.Errorf("%w: %v", errors.ErrQueueSaturated, ctx.Err()),
				"trophic", "PublishEnqueue", "enqueue "+env.Signal)
		case <-timer.C:
		}
	}
}

// isSaturated reports whether the publish was refused because the
// shared queue is full.
func isSaturated(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == maxMsgsExceededCode {
		return true
	}
	return strings.Contains(err.Error(), "maximum messages exceeded")
}
