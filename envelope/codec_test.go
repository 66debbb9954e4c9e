package envelope

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
)

func fixedTime() time.Time {
	return time.Date(2025, 6, 14, 9, 30, 0, 0, time.UTC)
}

func TestCodec_RoundTrip(t *testing.T) {
	facts := NewFacts().
		Set("temperature", 41.5).
		Set("unit", "celsius").
		Set("critical", true)

	env, err := New("THERMAL_SPIKE", ChannelReflex, "homeostasis",
		WithIntensity(0.9),
		WithFacts(facts),
		WithIncidentID("inc-7740"),
		WithTraceID("trace-0001"),
		WithTime(fixedTime()),
	)
	require.NoError(t, err)

	data, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestCodec_SchemaVersionIsFirstField(t *testing.T) {
	env, err := New("PING", ChannelAffect, "probe", WithTime(fixedTime()))
	require.NoError(t, err)

	data, err := Encode(env)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(data), `{"schema_version":`),
		"consumers branch on schema_version before anything else: %s", data)
}

func TestEncode_RejectsInvalidEnvelope(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"missing signal", Envelope{Version: SchemaVersion, Channel: ChannelAffect, Timestamp: fixedTime()}},
		{"missing channel", Envelope{Version: SchemaVersion, Signal: "PING", Timestamp: fixedTime()}},
		{"intensity above one", Envelope{Version: SchemaVersion, Signal: "PING", Channel: ChannelAffect, Intensity: 1.2, Timestamp: fixedTime()}},
		{"negative intensity", Envelope{Version: SchemaVersion, Signal: "PING", Channel: ChannelAffect, Intensity: -0.1, Timestamp: fixedTime()}},
		{"signal with subject metacharacters", Envelope{Version: SchemaVersion, Signal: "a.b", Channel: ChannelAffect, Timestamp: fixedTime()}},
		{"zero timestamp", Envelope{Version: SchemaVersion, Signal: "PING", Channel: ChannelAffect}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.env)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrMalformedEnvelope)
		})
	}
}

func TestDecode_MalformedInputs(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "this is not json"},
		{"missing schema version", `{"signal":"PING","channel":"affect","timestamp":"2025-06-14T09:30:00Z"}`},
		{"missing signal", `{"schema_version":2,"channel":"affect","timestamp":"2025-06-14T09:30:00Z"}`},
		{"unknown channel", `{"schema_version":2,"signal":"PING","channel":"psychic","timestamp":"2025-06-14T09:30:00Z"}`},
		{"missing channel", `{"schema_version":2,"signal":"PING","timestamp":"2025-06-14T09:30:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrMalformedEnvelope)
			assert.True(t, errors.IsInvalid(err), "decode failures are non-retryable")
		})
	}
}

func TestDecode_FutureSchemaVersionRejected(t *testing.T) {
	data := `{"schema_version":99,"signal":"PING","channel":"affect","timestamp":"2025-06-14T09:30:00Z"}`
	_, err := Decode([]byte(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedEnvelope)
	assert.Contains(t, err.Error(), "schema_version 99")
}

func TestDecode_OlderSchemaDefaultsNewFields(t *testing.T) {
	// Version 1 predates trace propagation: trace_id must default empty
	// instead of failing the decode.
	data := `{"schema_version":1,"signal":"MOOD_SHIFT","channel":"affect","source_ecosystem":"limbic","intensity":0.4,"timestamp":"2025-06-14T09:30:00Z"}`

	env, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, "MOOD_SHIFT", env.Signal)
	assert.Equal(t, ChannelAffect, env.Channel)
	assert.Empty(t, env.TraceID)
	assert.Empty(t, env.IncidentID)
}

func TestDecode_PreservesFactOrder(t *testing.T) {
	data := `{"schema_version":2,"signal":"TELEMETRY","channel":"trophic","intensity":0,"timestamp":"2025-06-14T09:30:00Z","facts":{"zeta":1,"alpha":2,"mid":3}}`

	env, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, env.Facts.Keys())

	// Re-encoding keeps the same order.
	out, err := Encode(env)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"facts":{"zeta":1,"alpha":2,"mid":3}`)
}

func TestEncode_OmitsEmptyOptionalFields(t *testing.T) {
	env, err := New("PING", ChannelAffect, "", WithTime(fixedTime()))
	require.NoError(t, err)

	data, err := Encode(env)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "incident_id")
	assert.NotContains(t, raw, "trace_id")
	assert.NotContains(t, raw, "facts")
	assert.NotContains(t, raw, "source_ecosystem")
}
