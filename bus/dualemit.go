package bus

import (
	"context"

	"github.com/HomoYouDidnt/kloros-sub007/envelope"
)

// Emitter is the publish surface DualEmitter wraps. *Bus satisfies it.
type Emitter interface {
	Publish(ctx context.Context, env envelope.Envelope) error
}

// DualEmitter mirrors every publish onto the legacy channel while a
// migration is in flight, so unmigrated subscribers keep receiving
// traffic that has already moved to a differentiated channel. Remove
// the wrapper when the migration completes; nothing else depends on it.
type DualEmitter struct {
	inner Emitter
}

// NewDualEmitter wraps an emitter with legacy mirroring.
func NewDualEmitter(inner Emitter) *DualEmitter {
	return &DualEmitter{inner: inner}
}

// Publish forwards to the wrapped emitter and then emits a legacy copy.
// The mirror is broadcast semantics: its outcome never affects the
// primary publish's result. Envelopes already on the legacy channel are
// not mirrored onto themselves.
func (d *DualEmitter) Publish(ctx context.Context, env envelope.Envelope) error {
	err := d.inner.Publish(ctx, env)

	if env.Channel != envelope.ChannelLegacy {
		// Mirror failure is invisible by the legacy contract.
		_ = d.inner.Publish(ctx, env.WithChannel(envelope.ChannelLegacy))
	}
	return err
}
