package trophic

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/dedup"
	"github.com/HomoYouDidnt/kloros-sub007/envelope"
	"github.com/HomoYouDidnt/kloros-sub007/errors"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
)

// BatchHandler processes one closed batch. The envelopes are already
// removed from the shared queue; a handler error is the handler's to
// deal with, the queue will not redeliver.
type BatchHandler func(ctx context.Context, batch *Batch) error

// Fetcher pulls queued messages. jetstream.Consumer satisfies this.
type Fetcher interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// Worker drains the shared queue in batches. Multiple workers on one
// queue compete for envelopes; each envelope lands in exactly one
// worker's batch.
type Worker struct {
	fetcher Fetcher
	cfg     config.TrophicConfig
	guard   *dedup.Guard
	metrics *metric.BusMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the structured logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger.With("component", "trophic.worker")
		}
	}
}

// WithWorkerMetrics attaches channel metrics.
func WithWorkerMetrics(m *metric.BusMetrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithWorkerReplayGuard filters envelopes whose incident was already
// processed within the retention window.
func WithWorkerReplayGuard(g *dedup.Guard) WorkerOption {
	return func(w *Worker) {
		w.guard = g
	}
}

// NewWorker creates a batch worker on the given queue consumer.
func NewWorker(fetcher Fetcher, cfg config.TrophicConfig, opts ...WorkerOption) *Worker {
	w := &Worker{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  slog.Default().With("component", "trophic.worker"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ConsumeBatch blocks until a batch closes: it fills to maxSize
// (size-bound) or maxWait expires with whatever accumulated, possibly
// nothing (time-bound). Non-positive arguments take the configured
// defaults. The returned batch is immutable and its envelopes are gone
// from the queue.
func (w *Worker) ConsumeBatch(ctx context.Context, maxSize int, maxWait time.Duration) (*Batch, error) {
	if maxSize <= 0 {
		maxSize = w.cfg.BatchSize
	}
	if maxWait <= 0 {
		maxWait = w.cfg.BatchWait
	}

	opened := w.now()
	msgs, err := w.fetcher.Fetch(maxSize, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		return nil, errors.WrapTransient(err, "trophic", "ConsumeBatch", "fetch batch")
	}

	batch := &Batch{OpenedAt: opened}
	received := 0
	for msg := range msgs.Messages() {
		received++
		env, decErr := envelope.Decode(msg.Data())
		if decErr != nil {
			// Terminate so the queue never redelivers bytes that can
			// never decode.
			w.metrics.RecordMalformed("trophic.worker")
			w.logger.Warn("malformed envelope terminated", "error", decErr)
			if termErr := msg.Term(); termErr != nil {
				w.logger.Warn("terminate failed", "error", termErr)
			}
			continue
		}

		if ackErr := msg.Ack(); ackErr != nil {
			w.logger.Warn("ack failed", "signal", env.Signal, "error", ackErr)
		}

		if w.guard != nil && !w.guard.ShouldProcess(env.IncidentID) {
			w.metrics.RecordDedupHit()
			continue
		}
		batch.Envelopes = append(batch.Envelopes, env)
	}
	if fetchErr := msgs.Error(); fetchErr != nil {
		return nil, errors.WrapTransient(fetchErr, "trophic", "ConsumeBatch", "drain batch")
	}

	batch.ClosedAt = w.now()
	batch.Reason = TimeBound
	if received == maxSize {
		batch.Reason = SizeBound
	}

	if batch.Len() > 0 {
		w.metrics.RecordTrophicBatch(string(batch.Reason), batch.Len())
		w.logger.Debug("batch closed",
			"size", batch.Len(), "reason", batch.Reason,
			"elapsed", batch.ClosedAt.Sub(batch.OpenedAt))
	}
	return batch, nil
}

// Run consumes batches with the configured size and wait until the
// context is cancelled, invoking handler for every non-empty batch.
// Fetch errors are logged and retried after the saturation interval.
func (w *Worker) Run(ctx context.Context, handler BatchHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := w.ConsumeBatch(ctx, w.cfg.BatchSize, w.cfg.BatchWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("batch fetch failed", "error", err)
			timer := time.NewTimer(w.cfg.SaturationRetry)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		if batch.Len() == 0 {
			continue
		}
		if handler != nil {
			if err := handler(ctx, batch); err != nil {
				w.logger.Error("batch handler failed",
					"size", batch.Len(), "error", err)
			}
		}
	}
}
