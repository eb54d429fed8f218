package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Options configures a Client.
type Options struct {
	// Host is the daemon URL: unix://, npipe://, tcp://, http:// or https://.
	Host       string
	APIVersion string
	TLS        TLSOptions
	// MaxConnections bounds the pooled connection. Zero means DefaultMaxConnections.
	MaxConnections int
	Logger         logrus.FieldLogger
	// Registerer receives the engine metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Client owns the pooled Connection to one daemon. Streaming log follows get
// their own single Connections so they never occupy a pool slot.
type Client struct {
	transport Transport
	pool      *Connection
	executor  *Executor
	logger    logrus.FieldLogger
	metrics   *Metrics

	shutdown sync.Once
}

// NewClient resolves the transport for opts.Host and builds the pooled
// connection. Endpoint and TLS problems surface here as *ConfigurationError.
func NewClient(opts Options) (*Client, error) {
	endpoint, err := ParseEndpoint(opts.Host, opts.APIVersion)
	if err != nil {
		return nil, err
	}

	transport, err := ResolveTransport(endpoint, opts.TLS)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("daemon", endpoint.String())

	pool := NewPooledConnection(transport, opts.MaxConnections)

	return &Client{
		transport: transport,
		pool:      pool,
		executor:  NewExecutor(pool, logger, metrics),
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Endpoint returns the parsed daemon endpoint.
func (c *Client) Endpoint() Endpoint {
	return c.transport.Endpoint
}

// Transport returns the resolved transport.
func (c *Client) Transport() Transport {
	return c.transport
}

// Metrics returns the client's collectors.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Execute runs req on the pooled connection.
func (c *Client) Execute(ctx context.Context, req Request, handle HandleFunc) error {
	return c.executor.Execute(ctx, req, handle)
}

// WithRetry returns a Requester that runs on the pooled connection under policy.
func (c *Client) WithRetry(policy RetryPolicy) Requester {
	return NewRetryingExecutor(c.executor, policy, c.logger, c.metrics)
}

// FollowLogs streams a log endpoint on a fresh single connection and blocks
// until the stream ends, fn returns Stop or Fail, or ctx is cancelled.
func (c *Client) FollowLogs(ctx context.Context, req Request, fn LineFunc) error {
	conn := NewSingleConnection(c.transport)
	defer conn.Close()

	c.metrics.followStarted()
	defer c.metrics.followEnded()

	executor := NewExecutor(conn, c.logger, c.metrics)
	return executor.Execute(ctx, req, func(resp *http.Response) error {
		return followResponse(resp, fn)
	})
}

// NewLogHandle prepares an asynchronous follow of req. Nothing is sent until
// Start is called.
func (c *Client) NewLogHandle(req Request, fn LineFunc, opts ...LogOption) *LogHandle {
	return newLogHandle(c.transport, req, fn, c.logger, c.metrics, opts...)
}

// Shutdown releases the pooled connection. Later requests fail with
// ErrConnectionClosed.
func (c *Client) Shutdown() error {
	var err error
	c.shutdown.Do(func() {
		err = c.pool.Close()
	})
	return err
}
