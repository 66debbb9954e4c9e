package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_ParseAndString(t *testing.T) {
	for _, ch := range []Channel{ChannelLegacy, ChannelReflex, ChannelAffect, ChannelTrophic} {
		parsed, err := ParseChannel(ch.String())
		require.NoError(t, err)
		assert.Equal(t, ch, parsed)
		assert.True(t, ch.Valid())
	}
}

func TestChannel_ParseUnknown(t *testing.T) {
	_, err := ParseChannel("cortical")
	assert.Error(t, err)

	assert.False(t, ChannelUnknown.Valid())
	assert.Equal(t, "unknown", ChannelUnknown.String())
}

func TestChannel_MarshalText(t *testing.T) {
	data, err := ChannelTrophic.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "trophic", string(data))

	_, err = ChannelUnknown.MarshalText()
	assert.Error(t, err)

	var ch Channel
	require.NoError(t, ch.UnmarshalText([]byte("reflex")))
	assert.Equal(t, ChannelReflex, ch)
}
