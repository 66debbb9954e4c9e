package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifiedError_Wrapping(t *testing.T) {
	base := New("stream unavailable")
	wrapped := WrapTransient(base, "trophic", "PublishEnqueue", "publish to stream")

	assert.True(t, Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "trophic.PublishEnqueue")
	assert.Contains(t, wrapped.Error(), "publish to stream")

	var ce *ClassifiedError
	assert.True(t, As(wrapped, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"ack timeout sentinel", ErrAckTimeout, true},
		{"queue saturated sentinel", ErrQueueSaturated, true},
		{"wrapped connection lost", fmt.Errorf("relay: %w", ErrConnectionLost), true},
		{"context deadline", context.DeadlineExceeded, true},
		{"classified invalid", WrapInvalid(New("bad"), "c", "m", "a"), false},
		{"message pattern", New("i/o timeout"), true},
		{"plain error", New("handler rejected"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrMalformedEnvelope))
	assert.True(t, IsInvalid(fmt.Errorf("decode: %w", ErrMalformedEnvelope)))
	assert.True(t, IsInvalid(WrapInvalid(New("bad intensity"), "envelope", "Decode", "validate")))
	assert.False(t, IsInvalid(ErrAckTimeout))
	assert.False(t, IsInvalid(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrMalformedEnvelope))
	assert.Equal(t, ErrorFatal, Classify(WrapFatal(New("boom"), "c", "m", "a")))
	assert.Equal(t, ErrorTransient, Classify(New("unknown failure")))
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}
