// Package natsclient manages the relay connection: connect with retry,
// status tracking, reconnect callbacks, and thin publish/request/
// subscribe wrappers that return classified errors.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
	"github.com/HomoYouDidnt/kloros-sub007/pkg/retry"
)

// ConnectionStatus represents the state of the relay connection.
type ConnectionStatus int

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client manages one NATS connection and its JetStream context.
type Client struct {
	url    string
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	status     atomic.Value // ConnectionStatus
	reconnects atomic.Int32
	closed     atomic.Bool

	// Connection options
	clientName     string
	username       string
	password       string
	token          string
	connectTimeout time.Duration
	reconnectWait  time.Duration
	maxReconnects  int
	drainTimeout   time.Duration
	connectRetry   retry.Config

	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	// Callbacks
	onDisconnect func(error)
	onReconnect  func()

	mu      sync.RWMutex
	closeMu sync.Mutex
}

// NewClient creates a client for the given relay URL with optional
// configuration. The connection is not opened until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:            url,
		logger:         slog.Default().With("component", "natsclient"),
		clientName:     "kloros-bus",
		connectTimeout: 5 * time.Second,
		reconnectWait:  2 * time.Second,
		maxReconnects:  -1,
		drainTimeout:   30 * time.Second,
		connectRetry:   retry.Quick(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the relay URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Reconnects returns the number of reconnections since Connect.
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

// Connect opens the relay connection, retrying transient failures
// until the context is cancelled or the retry budget is exhausted.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Client", "Connect", "client closed")
	}

	c.status.Store(StatusConnecting)

	natsOpts := []nats.Option{
		nats.Name(c.clientName),
		nats.Timeout(c.connectTimeout),
		nats.ReconnectWait(c.reconnectWait),
		nats.MaxReconnects(c.maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(StatusReconnecting)
			c.logger.Warn("relay connection lost", "error", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.reconnects.Add(1)
			c.status.Store(StatusConnected)
			c.logger.Info("relay reconnected", "url", nc.ConnectedUrl(), "reconnects", c.reconnects.Load())
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(StatusClosed)
		}),
	}

	if c.username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		natsOpts = append(natsOpts, nats.Token(c.token))
	}
	if c.tlsCertFile != "" && c.tlsKeyFile != "" {
		natsOpts = append(natsOpts, nats.ClientCert(c.tlsCertFile, c.tlsKeyFile))
	}
	if c.tlsCAFile != "" {
		natsOpts = append(natsOpts, nats.RootCAs(c.tlsCAFile))
	}

	conn, err := retry.DoWithResult(ctx, c.connectRetry, func() (*nats.Conn, error) {
		return nats.Connect(c.url, natsOpts...)
	})
	if err != nil {
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "connect to relay")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.status.Store(StatusDisconnected)
		return errors.WrapFatal(err, "Client", "Connect", "create jetstream context")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.status.Store(StatusConnected)
	c.logger.Info("connected to relay", "url", conn.ConnectedUrl())
	return nil
}

// Close drains the connection, waiting up to the drain timeout for
// in-flight messages. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Swap(true) {
		return nil
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		c.status.Store(StatusClosed)
		return nil
	}

	drained := make(chan error, 1)
	go func() {
		drained <- conn.Drain()
	}()

	timeout := time.NewTimer(c.drainTimeout)
	defer timeout.Stop()

	select {
	case err := <-drained:
		if err != nil {
			c.logger.Warn("drain failed, closing hard", "error", err)
			conn.Close()
		}
	case <-timeout.C:
		c.logger.Warn("drain timeout, closing hard", "timeout", c.drainTimeout)
		conn.Close()
	case <-ctx.Done():
		conn.Close()
	}

	c.status.Store(StatusClosed)

	// Credentials are not needed past this point.
	c.password = ""
	c.token = ""
	return nil
}

// Conn returns the underlying connection, or nil before Connect.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// JetStream returns the JetStream context, or nil before Connect.
func (c *Client) JetStream() jetstream.JetStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.js
}

// RTT returns the round-trip time to the relay.
func (c *Client) RTT() (time.Duration, error) {
	conn := c.Conn()
	if conn == nil || !conn.IsConnected() {
		return 0, errors.WrapTransient(errors.ErrNoConnection, "Client", "RTT", "measure round trip")
	}
	rtt, err := conn.RTT()
	if err != nil {
		return 0, errors.WrapTransient(err, "Client", "RTT", "measure round trip")
	}
	return rtt, nil
}

// Publish sends data to a subject with at-most-once semantics.
func (c *Client) Publish(subject string, data []byte) error {
	conn := c.Conn()
	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "publish "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// Request sends data and waits for a reply until the context deadline.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "Request", "request "+subject)
	}
	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Request", "request "+subject)
	}
	return msg.Data, nil
}

// Subscribe registers a handler for all messages on a subject.
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "Subscribe", "subscribe "+subject)
	}
	sub, err := conn.Subscribe(subject, handler)
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrSubscriptionFailed, "Client", "Subscribe", subject+": "+err.Error())
	}
	return sub, nil
}

// QueueSubscribe registers a handler in a queue group; the relay picks
// one member per message, round-robin among registrants.
func (c *Client) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "QueueSubscribe", "subscribe "+subject)
	}
	sub, err := conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrSubscriptionFailed, "Client", "QueueSubscribe", subject+": "+err.Error())
	}
	return sub, nil
}
