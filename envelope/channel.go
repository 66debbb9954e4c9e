package envelope

import (
	"fmt"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
)

// Channel identifies the delivery contract an envelope travels under.
// Each channel is a distinct contract: REFLEX is acknowledged and
// addressed, AFFECT is broadcast with drop-oldest overflow, TROPHIC is
// a batched work queue, and LEGACY preserves the undifferentiated
// broadcast behavior for unmigrated daemons.
type Channel uint8

const (
	// ChannelUnknown is the zero value; envelopes must carry an explicit channel.
	ChannelUnknown Channel = iota
	// ChannelLegacy routes through broadcast semantics for unmigrated consumers.
	ChannelLegacy
	// ChannelReflex is addressed, acknowledged delivery for safety-critical interrupts.
	ChannelReflex
	// ChannelAffect is broadcast-with-drop delivery for modulatory state.
	ChannelAffect
	// ChannelTrophic is the batched work queue for telemetry and background work.
	ChannelTrophic
)

// String returns the lowercase channel name, which is also the subject
// segment used for transport-level filtering.
func (c Channel) String() string {
	switch c {
	case ChannelLegacy:
		return "legacy"
	case ChannelReflex:
		return "reflex"
	case ChannelAffect:
		return "affect"
	case ChannelTrophic:
		return "trophic"
	default:
		return "unknown"
	}
}

// Valid reports whether the channel is one of the defined contracts.
func (c Channel) Valid() bool {
	switch c {
	case ChannelLegacy, ChannelReflex, ChannelAffect, ChannelTrophic:
		return true
	default:
		return false
	}
}

// ParseChannel converts a wire name into a Channel.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "legacy":
		return ChannelLegacy, nil
	case "reflex":
		return ChannelReflex, nil
	case "affect":
		return ChannelAffect, nil
	case "trophic":
		return ChannelTrophic, nil
	default:
		return ChannelUnknown, errors.WrapInvalid(
			fmt.Errorf("unknown channel %q", s), "envelope", "ParseChannel", "parse channel name")
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Channel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("cannot marshal unknown channel %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(text []byte) error {
	parsed, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
