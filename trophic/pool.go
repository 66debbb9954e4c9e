package trophic

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
)

// Pool runs several batch loops against the shared queue consumer.
// Members compete for envelopes on the same durable, so pool size is
// the horizontal scale-out knob: more members, more concurrent
// batches, no redelivery between them.
type Pool struct {
	worker  *Worker
	size    int
	handler BatchHandler
	logger  *slog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool

	batches   atomic.Int64
	envelopes atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool of size members over one worker. Size is
// clamped to at least 1.
func NewPool(worker *Worker, size int, handler BatchHandler) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		worker:  worker,
		size:    size,
		handler: handler,
		logger:  worker.logger.With("component", "trophic.pool"),
	}
}

// Start launches the pool members. They run until Stop or until the
// given context is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	if p.started.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "trophic", "Start", "pool already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(member int) {
			defer p.wg.Done()
			err := p.worker.Run(runCtx, p.observe)
			if err != nil && runCtx.Err() == nil {
				p.logger.Error("pool member exited", "member", member, "error", err)
			}
		}(i)
	}

	p.logger.Info("worker pool started", "size", p.size)
	return nil
}

// observe wraps the handler with pool accounting.
func (p *Pool) observe(ctx context.Context, batch *Batch) error {
	p.batches.Add(1)
	p.envelopes.Add(int64(batch.Len()))
	if p.handler == nil {
		return nil
	}
	if err := p.handler(ctx, batch); err != nil {
		p.failed.Add(1)
		return err
	}
	return nil
}

// Stop cancels the members and waits for them to finish their current
// batch. Idempotent.
func (p *Pool) Stop() error {
	if !p.started.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "trophic", "Stop", "pool not started")
	}
	if p.stopped.Swap(true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped",
		"batches", p.batches.Load(),
		"envelopes", p.envelopes.Load(),
		"failed", p.failed.Load(),
	)
	return nil
}

// Batches returns how many batches the pool has processed.
func (p *Pool) Batches() int64 { return p.batches.Load() }

// Envelopes returns how many envelopes the pool has processed.
func (p *Pool) Envelopes() int64 { return p.envelopes.Load() }

// Failed returns how many batches the handler rejected.
func (p *Pool) Failed() int64 { return p.failed.Load() }
