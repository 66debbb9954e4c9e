package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
)

// Encode serializes a valid envelope to its self-describing wire form.
// The output is a JSON object whose first field is schema_version, so
// consumers can branch on the version before reading anything else.
// Encode is pure: equal envelopes produce equal bytes.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "envelope", "Encode", "marshal envelope")
	}
	return data, nil
}

// Decode parses wire bytes into an Envelope. It fails with an error
// matching errors.ErrMalformedEnvelope if required fields are missing,
// the channel is unknown, or schema_version exceeds what this codec
// supports. Envelopes from older schema versions decode with their
// newly-added optional fields defaulted.
func Decode(data []byte) (Envelope, error) {
	// Peek at the version first so an envelope from a future schema is
	// rejected for that reason rather than a field-level parse error.
	var header struct {
		Version int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Envelope{}, malformed("Decode", "parse wire payload: %v", err)
	}
	if header.Version < 1 {
		return Envelope{}, malformed("Decode", "schema_version is required")
	}
	if header.Version > SchemaVersion {
		return Envelope{}, malformed("Decode", "schema_version %d exceeds supported %d", header.Version, SchemaVersion)
	}

	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, malformed("Decode", "parse envelope fields: %v", err)
	}

	// Timestamps are wall-clock on the wire; normalize to UTC so
	// decode(encode(e)) compares equal for UTC-stamped envelopes.
	e.Timestamp = e.Timestamp.UTC()

	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// malformed builds a decode error carrying the ErrMalformedEnvelope
// sentinel so relay-side handling can log and drop without crashing.
func malformed(op, format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrMalformedEnvelope, reason),
		"envelope", op, "decode envelope")
}
