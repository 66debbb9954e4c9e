package natsclient

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
	"github.com/HomoYouDidnt/kloros-sub007/pkg/retry"
)

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Nil(t, c.Conn())
	assert.Nil(t, c.JetStream())
}

func TestNewClient_OptionValidation(t *testing.T) {
	_, err := NewClient("nats://h:4222", WithLogger(nil))
	assert.Error(t, err)

	_, err = NewClient("nats://h:4222", WithName(""))
	assert.Error(t, err)

	_, err = NewClient("nats://h:4222", WithTLS("cert.pem", "", ""))
	assert.Error(t, err)

	_, err = NewClient("nats://h:4222", WithConnectTimeout(0))
	assert.Error(t, err)

	_, err = NewClient("nats://h:4222", WithDrainTimeout(-time.Second))
	assert.Error(t, err)
}

func TestNewClient_OptionsApplied(t *testing.T) {
	c, err := NewClient("nats://h:4222",
		WithLogger(slog.Default()),
		WithName("test-daemon"),
		WithCredentials("user", "pass"),
		WithReconnectWait(time.Second),
		WithMaxReconnects(5),
	)
	require.NoError(t, err)
	assert.Equal(t, "test-daemon", c.clientName)
	assert.Equal(t, "user", c.username)
	assert.Equal(t, 5, c.maxReconnects)
}

func TestClient_OperationsWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:4222")
	require.NoError(t, err)

	assert.Error(t, c.Publish("subject", nil))

	_, rerr := c.Request(context.Background(), "subject", nil)
	assert.Error(t, rerr)
	assert.True(t, errors.IsTransient(rerr))

	_, serr := c.Subscribe("subject", nil)
	assert.Error(t, serr)

	_, qerr := c.QueueSubscribe("subject", "group", nil)
	assert.Error(t, qerr)

	_, rtterr := c.RTT()
	assert.Error(t, rtterr)
}

func TestClient_ConnectFailsFastWithBudget(t *testing.T) {
	// Nothing listens on this port; a one-attempt budget should fail
	// quickly with a transient error.
	c, err := NewClient("nats://127.0.0.1:65000",
		WithConnectTimeout(100*time.Millisecond),
		WithConnectRetry(retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_CloseIdempotent(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:4222")
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StatusClosed, c.Status())

	// Connect after close is rejected.
	assert.Error(t, c.Connect(context.Background()))
}
