package envelope

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
)

// SchemaVersion is the current wire schema version. Version 1 envelopes
// predate trace propagation and decode with an empty trace ID.
const SchemaVersion = 2

// Envelope is the canonical unit of communication on the bus. It is a
// value object: transports receive copies and never mutate the original.
// Signal and Channel are required; IncidentID, when present, identifies
// one logical occurrence across repeated deliveries and is reused by
// resends of the same occurrence.
type Envelope struct {
	Version         int       `json:"schema_version"`
	Signal          string    `json:"signal"`
	Channel         Channel   `json:"channel"`
	SourceEcosystem string    `json:"source_ecosystem,omitempty"`
	Intensity       float64   `json:"intensity"`
	Facts           *Facts    `json:"facts,omitempty"`
	IncidentID      string    `json:"incident_id,omitempty"`
	TraceID         string    `json:"trace_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Option is a functional option for configuring envelope construction.
type Option func(*Envelope)

// WithIntensity sets the modulatory intensity in [0,1].
func WithIntensity(intensity float64) Option {
	return func(e *Envelope) {
		e.Intensity = intensity
	}
}

// WithFacts attaches the payload facts. The map is cloned so later
// mutation by the caller does not leak into the published envelope.
func WithFacts(facts *Facts) Option {
	return func(e *Envelope) {
		e.Facts = facts.Clone()
	}
}

// WithIncidentID sets the deduplication key for this logical occurrence.
func WithIncidentID(id string) Option {
	return func(e *Envelope) {
		e.IncidentID = id
	}
}

// WithNewIncidentID mints a fresh globally-unique incident ID.
func WithNewIncidentID() Option {
	return func(e *Envelope) {
		e.IncidentID = uuid.New().String()
	}
}

// WithTraceID sets the distributed trace correlation ID.
func WithTraceID(id string) Option {
	return func(e *Envelope) {
		e.TraceID = id
	}
}

// WithTime sets a specific timestamp instead of time.Now. Useful for
// historical replay and testing.
func WithTime(ts time.Time) Option {
	return func(e *Envelope) {
		e.Timestamp = ts
	}
}

// New creates a validated envelope for the given signal and channel.
func New(signal string, channel Channel, sourceEcosystem string, opts ...Option) (Envelope, error) {
	e := Envelope{
		Version:         SchemaVersion,
		Signal:          signal,
		Channel:         channel,
		SourceEcosystem: sourceEcosystem,
		Timestamp:       time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(&e)
	}

	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Validate checks the envelope invariants: required signal and channel,
// a signal name usable as a subject token, intensity within [0,1], and
// a schema version the codec supports.
func (e Envelope) Validate() error {
	if e.Signal == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: signal is required", errors.ErrMalformedEnvelope),
			"envelope", "Validate", "check signal")
	}
	if !isValidSignal(e.Signal) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: signal %q contains subject-reserved characters", errors.ErrMalformedEnvelope, e.Signal),
			"envelope", "Validate", "check signal")
	}
	if !e.Channel.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: channel is required", errors.ErrMalformedEnvelope),
			"envelope", "Validate", "check channel")
	}
	if e.Intensity < 0 || e.Intensity > 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: intensity %v outside [0,1]", errors.ErrMalformedEnvelope, e.Intensity),
			"envelope", "Validate", "check intensity")
	}
	if e.Version < 1 || e.Version > SchemaVersion {
		return errors.WrapInvalid(
			fmt.Errorf("%w: schema_version %d unsupported (max %d)", errors.ErrMalformedEnvelope, e.Version, SchemaVersion),
			"envelope", "Validate", "check schema version")
	}
	if e.Timestamp.IsZero() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: timestamp is required", errors.ErrMalformedEnvelope),
			"envelope", "Validate", "check timestamp")
	}
	return nil
}

// WithChannel returns a copy of the envelope routed to a different
// channel. Used by the producer-boundary classifier and the legacy
// dual-emit wrapper; the original envelope is untouched.
func (e Envelope) WithChannel(channel Channel) Envelope {
	e.Channel = channel
	return e
}

// isValidSignal rejects names that would break subject addressing.
// Signals become one NATS subject token, so whitespace and the subject
// metacharacters '.', '*', '>' are forbidden.
func isValidSignal(signal string) bool {
	for _, r := range signal {
		switch {
		case r == '.', r == '*', r == '>', r == ' ', r == '\t', r == '\n', r == '\r':
			return false
		case r < 0x21 || r > 0x7e:
			return false
		}
	}
	return true
}
