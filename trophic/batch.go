// Package trophic implements the batched work queue: envelopes
// accumulate in a shared durable queue and workers drain them in
// batches closed by size or by time. Workers compete for envelopes, so
// adding workers scales throughput without redelivery.
package trophic

import (
	"time"

	"github.com/HomoYouDidnt/kloros-sub007/envelope"
)

// CloseReason states why a batch was handed to the worker.
type CloseReason string

// Batch close reasons.
const (
	// SizeBound: the batch reached the requested maximum.
	SizeBound CloseReason = "size_bound"
	// TimeBound: the wait expired before the batch filled.
	TimeBound CloseReason = "time_bound"
)

// Batch is one immutable unit of work handed to a worker. Envelopes
// appear in queue order.
type Batch struct {
	Envelopes []envelope.Envelope
	OpenedAt  time.Time
	ClosedAt  time.Time
	Reason    CloseReason
}

// Len returns the number of envelopes in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Envelopes)
}
