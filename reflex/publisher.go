package reflex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/deadletter"
	"github.com/HomoYouDidnt/kloros-sub007/envelope"
	"github.com/HomoYouDidnt/kloros-sub007/errors"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
	"github.com/HomoYouDidnt/kloros-sub007/pkg/retry"
	"github.com/HomoYouDidnt/kloros-sub007/relay"
)

// Requester sends a request and waits for the addressed consumer's
// reply. *natsclient.Client satisfies this.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Notifier publishes fire-and-forget notifications. Used to announce
// dead letters to operator tooling; optional.
type Notifier interface {
	Publish(subject string, data []byte) error
}

// Publisher delivers envelopes with acknowledgment. PublishAck blocks
// the caller until the outcome is known; that blocking is the
// channel's intentional backpressure. Concurrent publishers never
// block each other; only one publisher's own attempts are sequential.
type Publisher struct {
	req       Requester
	namespace string
	cfg       config.ReflexConfig
	letters   *deadletter.Store
	notify    Notifier
	metrics   *metric.BusMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the structured logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger.With("component", "reflex.publisher")
		}
	}
}

// WithPublisherMetrics attaches channel metrics.
func WithPublisherMetrics(m *metric.BusMetrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithDeadLetterNotify announces dead letters on the namespace's
// dead-letter subject, best effort.
func WithDeadLetterNotify(n Notifier) PublisherOption {
	return func(p *Publisher) {
		p.notify = n
	}
}

// NewPublisher creates a REFLEX publisher. The dead-letter store holds
// envelopes that exhaust the retry ceiling for operator inspection.
func NewPublisher(req Requester, namespace string, cfg config.ReflexConfig, letters *deadletter.Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		req:       req,
		namespace: namespace,
		cfg:       cfg,
		letters:   letters,
		logger:    slog.Default().With("component", "reflex.publisher"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishAck delivers the envelope to one consumer and blocks until it
// is acknowledged, rejected, or the retry ceiling is exhausted.
//
// Outcomes:
//   - nil: the consumer acknowledged.
//   - errors.ErrNacked: the consumer rejected the envelope. Never
//     retried here; only the caller knows whether the side effect is
//     safe to repeat.
//   - errors.ErrAckTimeout: every attempt timed out. The envelope and
//     its attempt history are in the dead-letter store by the time
//     this returns; never silently swallowed.
//
// The caller's context cancels a pending publish: the in-flight
// attempt finalizes as timed out and the envelope is dead-lettered.
func (p *Publisher) PublishAck(ctx context.Context, env envelope.Envelope) error {
	if env.Channel != envelope.ChannelReflex {
		return errors.WrapInvalid(
			fmt.Errorf("envelope channel %s on reflex transport", env.Channel),
			"reflex", "PublishAck", "check channel")
	}

	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	subject := relay.Subject(p.namespace, envelope.ChannelReflex, env.Signal)
	backoff := retry.Config{
		InitialDelay: p.cfg.BackoffBase,
		MaxDelay:     p.cfg.BackoffMax,
		Multiplier:   2.0,
	}

	p.metrics.RecordReflexPublish()
	start := p.now()

	var attempts []deadletter.Attempt
	for n := 1; n <= p.cfg.RetryCeiling; n++ {
		if n > 1 {
			p.metrics.RecordReflexRetry()
		}

		sentAt := p.now()
		attempt := deadletter.Attempt{
			Number:   n,
			SentAt:   sentAt,
			Deadline: sentAt.Add(p.cfg.AckTimeout),
			Status:   deadletter.AttemptPending,
		}

		rctx, cancel := context.WithTimeout(ctx, p.cfg.AckTimeout)
		respData, reqErr := p.req.Request(rctx, subject, data)
		cancel()

		if reqErr == nil {
			resp, parseErr := parseAckResponse(respData)
			if parseErr == nil {
				switch resp.Status {
				case statusAck:
					attempt.Status = deadletter.AttemptAcked
					p.metrics.RecordReflexOutcome(metric.StatusAck, p.now().Sub(start))
					return nil
				case statusNack:
					attempt.Status = deadletter.AttemptNacked
					p.metrics.RecordReflexOutcome(metric.StatusNack, p.now().Sub(start))
					p.logger.Warn("envelope nacked",
						"signal", env.Signal, "incident_id", env.IncidentID, "reason", resp.Reason)
					return errors.WrapInvalid(
						fmt.Errorf("%w: %s", errors.ErrNacked, resp.Reason),
						"reflex", "PublishAck", "consumer rejected envelope")
				}
			}
			// A reply we can't parse is indistinguishable from no
			// reply for correctness purposes: treat as a timed-out
			// attempt and retry.
			p.logger.Warn("unparseable ack response", "signal", env.Signal, "error", parseErr)
		}

		attempt.Status = deadletter.AttemptTimedOut
		attempts = append(attempts, attempt)

		if ctx.Err() != nil {
			return p.deadLetter(env, attempts, "cancelled by caller: "+ctx.Err().Error(), start)
		}

		if n < p.cfg.RetryCeiling {
			timer := time.NewTimer(backoff.DelayFor(n))
			select {
			case <-ctx.Done():
				timer.Stop()
				return p.deadLetter(env, attempts, "cancelled by caller: "+ctx.Err().Error(), start)
			case <-timer.C:
			}
		}
	}

	return p.deadLetter(env, attempts,
		fmt.Sprintf("no acknowledgment after %d attempts", p.cfg.RetryCeiling), start)
}

// deadLetter records the exhausted envelope and raises the timeout to
// the caller.
func (p *Publisher) deadLetter(env envelope.Envelope, attempts []deadletter.Attempt, reason string, start time.Time) error {
	rec := deadletter.Record{
		Envelope:   env,
		Reason:     reason,
		Attempts:   attempts,
		RecordedAt: p.now(),
	}
	if p.letters != nil {
		p.letters.Add(rec)
	}
	p.metrics.RecordDeadLetter()
	p.metrics.RecordReflexOutcome(metric.StatusTimeout, p.now().Sub(start))

	p.logger.Error("envelope dead-lettered",
		"signal", env.Signal,
		"incident_id", env.IncidentID,
		"attempts", len(attempts),
		"reason", reason,
	)

	if p.notify != nil {
		if data, err := envelope.Encode(env); err == nil {
			if nerr := p.notify.Publish(relay.DeadLetterSubject(p.namespace), data); nerr != nil {
				p.logger.Warn("dead-letter notify failed", "error", nerr)
			}
		}
	}

	return errors.WrapTransient(
		fmt.Errorf("%w: %s", errors.ErrAckTimeout, reason),
		"reflex", "PublishAck", "deliver "+env.Signal)
}
