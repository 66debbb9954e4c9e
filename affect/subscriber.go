package affect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/dedup"
	"github.com/HomoYouDidnt/kloros-sub007/envelope"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
	"github.com/HomoYouDidnt/kloros-sub007/pkg/buffer"
	"github.com/HomoYouDidnt/kloros-sub007/relay"
)

// lvcReplayTimeout bounds the cache scan on subscribe.
const lvcReplayTimeout = 2 * time.Second

// Handler receives a broadcast envelope. Broadcast delivery carries no
// acknowledgment, so there is nothing for the handler to return.
type Handler func(ctx context.Context, env envelope.Envelope)

// SubscriberConn registers plain subscriptions. *natsclient.Client
// satisfies this.
type SubscriberConn interface {
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// LastValueReader reads the per-topic most recent envelopes.
// jetstream.KeyValue satisfies this.
type LastValueReader interface {
	ListKeys(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyLister, error)
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
}

// Subscriber attaches bounded-queue consumers to the broadcast channel.
// Each subscription gets its own queue sized by the configuration;
// overflow drops that subscriber's oldest envelope and touches no one
// else.
type Subscriber struct {
	conn    SubscriberConn
	lvc     LastValueReader
	ns      string
	channel envelope.Channel
	niche   string
	cfg     config.AffectConfig
	metrics *metric.BusMetrics
	logger  *slog.Logger
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the structured logger.
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if logger != nil {
			s.logger = logger.With("component", "affect.subscriber")
		}
	}
}

// WithSubscriberMetrics attaches channel metrics.
func WithSubscriberMetrics(m *metric.BusMetrics) SubscriberOption {
	return func(s *Subscriber) {
		s.metrics = m
	}
}

// WithLastValueReplay replays the most recent cached envelope per
// matching topic when a subscription starts, so a late subscriber
// learns the current state instead of waiting for the next broadcast.
func WithLastValueReplay(lvc LastValueReader) SubscriberOption {
	return func(s *Subscriber) {
		s.lvc = lvc
	}
}

// WithNiche tags this subscriber's subscriptions with the consumer's
// ecological niche. The niche is carried as metadata on the Handle and
// in logs; it plays no part in routing.
func WithNiche(niche string) SubscriberOption {
	return func(s *Subscriber) {
		s.niche = niche
	}
}

// WithChannel switches the subscriber to another broadcast-contract
// channel. The legacy shim uses this to listen on the legacy prefix.
func WithChannel(ch envelope.Channel) SubscriberOption {
	return func(s *Subscriber) {
		s.channel = ch
	}
}

// NewSubscriber creates an AFFECT subscriber bound to a namespace.
func NewSubscriber(conn SubscriberConn, namespace string, cfg config.AffectConfig, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		conn:    conn,
		ns:      namespace,
		channel: envelope.ChannelAffect,
		cfg:     cfg,
		logger:  slog.Default().With("component", "affect.subscriber"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers handler for the signal pattern ("" or "*" matches
// every topic on the channel). consumer names the subscription in
// metrics and logs. The optional guard suppresses replayed duplicates.
func (s *Subscriber) Subscribe(ctx context.Context, consumer, signalPattern string, handler Handler, guard *dedup.Guard) (*Handle, error) {
	ring := buffer.NewRing[envelope.Envelope](s.cfg.QueueCapacity,
		buffer.WithDropCallback(func(dropped envelope.Envelope) {
			s.metrics.RecordAffectDrop(consumer)
			s.logger.Debug("queue overflow, dropped oldest",
				"consumer", consumer, "signal", dropped.Signal)
		}))

	subject := relay.SubjectFilter(s.ns, s.channel, signalPattern)
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		s.enqueue(ring, consumer, msg.Data)
	})
	if err != nil {
		ring.Close()
		return nil, err
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		sub:    sub,
		ring:   ring,
		niche:  s.niche,
		cancel: cancel,
	}

	// Live subscription is in place before the replay so nothing
	// published in between is missed; the guard absorbs the overlap.
	if s.lvc != nil {
		s.replayLastValues(ctx, ring, consumer, signalPattern)
	}

	h.wg.Add(1)
	go s.drain(drainCtx, &h.wg, ring, consumer, handler, guard)

	s.logger.Info("broadcast subscription started",
		"consumer", consumer, "subject", subject,
		"niche", s.niche, "queue_capacity", s.cfg.QueueCapacity)
	return h, nil
}

// enqueue decodes and queues one delivery.
func (s *Subscriber) enqueue(ring *buffer.Ring[envelope.Envelope], consumer string, data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		s.metrics.RecordMalformed("affect.subscriber")
		s.logger.Warn("malformed broadcast dropped", "consumer", consumer, "error", err)
		return
	}
	if err := ring.Push(env); err != nil {
		s.logger.Debug("delivery after stop discarded", "consumer", consumer, "signal", env.Signal)
	}
}

// replayLastValues pushes the cached most-recent envelope of every
// matching topic into the queue.
func (s *Subscriber) replayLastValues(ctx context.Context, ring *buffer.Ring[envelope.Envelope], consumer, signalPattern string) {
	rctx, cancel := context.WithTimeout(ctx, lvcReplayTimeout)
	defer cancel()

	lister, err := s.lvc.ListKeys(rctx)
	if err != nil {
		s.logger.Warn("last-value replay unavailable", "consumer", consumer, "error", err)
		return
	}
	defer lister.Stop()

	prefix := s.channel.String() + "."
	for key := range lister.Keys() {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		signal := key[len(prefix):]
		if !relay.MatchSignal(signalPattern, signal) {
			continue
		}

		entry, err := s.lvc.Get(rctx, key)
		if err != nil {
			s.logger.Warn("last-value read failed", "key", key, "error", err)
			continue
		}
		env, err := envelope.Decode(entry.Value())
		if err != nil {
			s.metrics.RecordMalformed("affect.replay")
			continue
		}
		if ring.Push(env) == nil {
			s.metrics.RecordAffectReplay()
		}
	}
}

// drain pops queued envelopes and runs the handler until the handle is
// stopped. Handler time is the subscriber's own; a slow handler fills
// this queue and sheds this subscriber's oldest envelopes only.
func (s *Subscriber) drain(ctx context.Context, wg *sync.WaitGroup, ring *buffer.Ring[envelope.Envelope], consumer string, handler Handler, guard *dedup.Guard) {
	defer wg.Done()

	for {
		env, err := ring.Pop(ctx)
		if err != nil {
			return
		}
		s.metrics.SetAffectQueueDepth(consumer, ring.Len())

		if guard != nil && !guard.ShouldProcess(env.IncidentID) {
			s.metrics.RecordDedupHit()
			continue
		}
		if handler != nil {
			handler(ctx, env)
		}
		s.metrics.RecordAffectDelivery(consumer)
	}
}

// Handle is an active broadcast subscription.
type Handle struct {
	sub    *nats.Subscription
	ring   *buffer.Ring[envelope.Envelope]
	niche  string
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// Niche returns the consumer's ecological niche, or "" when untagged.
func (h *Handle) Niche() string {
	if h == nil {
		return ""
	}
	return h.niche
}

// Queue exposes the subscription's ring statistics.
func (h *Handle) Queue() *buffer.Statistics {
	if h == nil || h.ring == nil {
		return nil
	}
	return h.ring.Stats()
}

// Stop unsubscribes and waits for the drain goroutine. Envelopes
// already queued are still handed to the handler before Stop returns;
// deliveries arriving after stop are discarded. Safe to call on a nil
// receiver and idempotent.
func (h *Handle) Stop() error {
	if h == nil {
		return nil
	}
	var err error
	h.stopOnce.Do(func() {
		if h.sub != nil {
			err = h.sub.Unsubscribe()
		}
		if h.ring != nil {
			h.ring.Close()
		}
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()
	})
	return err
}
