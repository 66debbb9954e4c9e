// Package envelope defines the canonical message carried on the signal
// bus and its versioned wire codec.
//
// An Envelope is an immutable value object: a signal name, the channel
// contract it travels under (LEGACY, REFLEX, AFFECT, or TROPHIC), the
// publishing ecosystem, a modulatory intensity in [0,1], an ordered
// facts payload, and optional incident/trace correlation IDs.
//
// The wire form is self-describing JSON with schema_version as the
// first field. The codec is total and pure for valid envelopes:
// Decode(Encode(e)) == e. Older schema versions decode with their
// newly-added optional fields defaulted; newer versions are rejected
// as malformed so relays can log and drop rather than misinterpret.
package envelope
