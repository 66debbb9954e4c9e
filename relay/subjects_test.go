package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/HomoYouDidnt/kloros-sub007/envelope"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "kloros.reflex.PING", Subject("kloros", envelope.ChannelReflex, "PING"))
	assert.Equal(t, "kloros.affect.MOOD_SHIFT", Subject("kloros", envelope.ChannelAffect, "MOOD_SHIFT"))
	assert.Equal(t, "kloros.trophic.TELEMETRY", Subject("kloros", envelope.ChannelTrophic, "TELEMETRY"))
	assert.Equal(t, "kloros.legacy.PING", Subject("kloros", envelope.ChannelLegacy, "PING"))
}

func TestSubjectFilter(t *testing.T) {
	assert.Equal(t, "kloros.affect.*", SubjectFilter("kloros", envelope.ChannelAffect, "*"))
	assert.Equal(t, "kloros.affect.*", SubjectFilter("kloros", envelope.ChannelAffect, ""))
	assert.Equal(t, "kloros.reflex.PING", SubjectFilter("kloros", envelope.ChannelReflex, "PING"))
	assert.Equal(t, "kloros.trophic.>", SubjectFilter("kloros", envelope.ChannelTrophic, ">"))
}

func TestSignalFromSubject(t *testing.T) {
	assert.Equal(t, "PING", SignalFromSubject("kloros.reflex.PING"))
	assert.Equal(t, "", SignalFromSubject("kloros.reflex"))
	assert.Equal(t, "", SignalFromSubject("malformed"))
}

func TestMatchSignal(t *testing.T) {
	assert.True(t, MatchSignal("*", "PING"))
	assert.True(t, MatchSignal(">", "PING"))
	assert.True(t, MatchSignal("", "PING"))
	assert.True(t, MatchSignal("PING", "PING"))
	assert.False(t, MatchSignal("PONG", "PING"))
}

func TestStreamAndBucketNames(t *testing.T) {
	assert.Equal(t, "KLOROS_TROPHIC", streamName("kloros"))
	assert.Equal(t, "KLOROS_PROD_TROPHIC", streamName("kloros-prod"))
	assert.Equal(t, "kloros-lvc", lvcBucket("kloros"))
	assert.Equal(t, "affect.MOOD_SHIFT", LVCKey(envelope.ChannelAffect, "MOOD_SHIFT"))
}

func TestDeadLetterSubject(t *testing.T) {
	assert.Equal(t, "kloros.deadletter", DeadLetterSubject("kloros"))
}

func TestRelay_NewValidatesConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestRelay_StopBeforeStart(t *testing.T) {
	cfg := testConfig()
	r, err := New(cfg)
	assert.NoError(t, err)
	assert.Error(t, r.Stop(0))
	assert.False(t, r.Healthy())
}
