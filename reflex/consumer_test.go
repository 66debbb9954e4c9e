package reflex

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/dedup"
	"github.com/HomoYouDidnt/kloros-sub007/envelope"
)

// fakeQueueSubscriber records the registration without a live relay.
type fakeQueueSubscriber struct {
	subject string
	queue   string
}

func (f *fakeQueueSubscriber) QueueSubscribe(subject, queue string, _ nats.MsgHandler) (*nats.Subscription, error) {
	f.subject = subject
	f.queue = queue
	return nil, nil
}

func newTestConsumer(t *testing.T, opts ...ConsumerOption) *Consumer {
	t.Helper()
	return NewConsumer(nil, "testbus", testReflexConfig(), opts...)
}

func decodeReply(t *testing.T, data []byte) ackResponse {
	t.Helper()
	var resp ackResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func encodedEnvelope(t *testing.T, opts ...envelope.Option) []byte {
	t.Helper()
	env, err := envelope.New("EMERGENCY_STOP", envelope.ChannelReflex, "motor", opts...)
	require.NoError(t, err)
	data, err := envelope.Encode(env)
	require.NoError(t, err)
	return data
}

func TestProcess_AcksOnHandlerSuccess(t *testing.T) {
	c := newTestConsumer(t)
	var got envelope.Envelope
	reply := c.process(context.Background(), encodedEnvelope(t), func(_ context.Context, env envelope.Envelope) error {
		got = env
		return nil
	})

	resp := decodeReply(t, reply)
	assert.Equal(t, statusAck, resp.Status)
	assert.Equal(t, "EMERGENCY_STOP", got.Signal)
	assert.Equal(t, "motor", got.SourceEcosystem)
}

func TestProcess_NacksOnHandlerError(t *testing.T) {
	c := newTestConsumer(t)
	reply := c.process(context.Background(), encodedEnvelope(t), func(context.Context, envelope.Envelope) error {
		return errors.New("actuator busy")
	})

	resp := decodeReply(t, reply)
	assert.Equal(t, statusNack, resp.Status)
	assert.Equal(t, "actuator busy", resp.Reason)
}

func TestProcess_NacksMalformedEnvelope(t *testing.T) {
	c := newTestConsumer(t)
	called := false
	reply := c.process(context.Background(), []byte(`{"schema_version":`), func(context.Context, envelope.Envelope) error {
		called = true
		return nil
	})

	resp := decodeReply(t, reply)
	assert.Equal(t, statusNack, resp.Status)
	assert.Contains(t, resp.Reason, "malformed envelope")
	assert.False(t, called, "handler must not see undecodable payloads")
}

func TestProcess_DuplicateAcksWithoutHandler(t *testing.T) {
	guard := dedup.NewGuard(16, time.Minute)
	c := newTestConsumer(t, WithReplayGuard(guard))

	data := encodedEnvelope(t, envelope.WithIncidentID("incident-1"))

	invocations := 0
	h := func(context.Context, envelope.Envelope) error {
		invocations++
		return nil
	}

	first := decodeReply(t, c.process(context.Background(), data, h))
	second := decodeReply(t, c.process(context.Background(), data, h))

	assert.Equal(t, statusAck, first.Status)
	assert.Equal(t, statusAck, second.Status, "retry after lost ack still acks")
	assert.Equal(t, 1, invocations, "side effect runs once")
	assert.Equal(t, int64(1), guard.Hits())
}

func TestProcess_NoIncidentIDBypassesGuard(t *testing.T) {
	guard := dedup.NewGuard(16, time.Minute)
	c := newTestConsumer(t, WithReplayGuard(guard))

	data := encodedEnvelope(t)

	invocations := 0
	h := func(context.Context, envelope.Envelope) error {
		invocations++
		return nil
	}
	c.process(context.Background(), data, h)
	c.process(context.Background(), data, h)

	assert.Equal(t, 2, invocations)
	assert.Zero(t, guard.Hits())
}

func TestProcess_PanickingHandlerNacks(t *testing.T) {
	c := newTestConsumer(t)
	reply := c.process(context.Background(), encodedEnvelope(t), func(context.Context, envelope.Envelope) error {
		panic("boom")
	})

	resp := decodeReply(t, reply)
	assert.Equal(t, statusNack, resp.Status)
	assert.Contains(t, resp.Reason, "handler panic")
}

func TestProcess_NilHandlerAcks(t *testing.T) {
	c := newTestConsumer(t)
	resp := decodeReply(t, c.process(context.Background(), encodedEnvelope(t), nil))
	assert.Equal(t, statusAck, resp.Status)
}

func TestHandle_CarriesNiche(t *testing.T) {
	subs := &fakeQueueSubscriber{}
	c := NewConsumer(subs, "testbus", testReflexConfig(), WithNiche("apex-interrupt"))

	sub, err := c.Handle(context.Background(), "EMERGENCY_STOP", nil)
	require.NoError(t, err)
	defer sub.Stop()

	assert.Equal(t, "testbus.reflex.EMERGENCY_STOP", subs.subject)
	assert.Equal(t, defaultQueueGroup, subs.queue)
	assert.Equal(t, "apex-interrupt", sub.Niche())

	var untagged *Subscription
	assert.Empty(t, untagged.Niche())
}

func TestSubscription_StopNilSafe(t *testing.T) {
	var s *Subscription
	assert.NoError(t, s.Stop())
	assert.NoError(t, (&Subscription{}).Stop())
}

func TestParseAckResponse(t *testing.T) {
	resp, err := parseAckResponse(encodeAck())
	require.NoError(t, err)
	assert.Equal(t, statusAck, resp.Status)

	resp, err = parseAckResponse(encodeNack("reason"))
	require.NoError(t, err)
	assert.Equal(t, statusNack, resp.Status)
	assert.Equal(t, "reason", resp.Reason)

	_, err = parseAckResponse([]byte(`{"status":"later"}`))
	assert.Error(t, err)

	_, err = parseAckResponse([]byte("not json"))
	assert.Error(t, err)
}

func TestConsumerConfigQueueGroup(t *testing.T) {
	cfg := config.ReflexConfig{QueueGroup: ""}
	c := NewConsumer(nil, "testbus", cfg)
	assert.Equal(t, "", c.cfg.QueueGroup)
}
