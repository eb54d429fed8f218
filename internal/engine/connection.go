package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ConnectionKind distinguishes the steady-state pool from one-off stream connections.
type ConnectionKind int

const (
	// Pooled connections reuse up to MaxConnections sockets and are shared by
	// every non-streaming call of a Client.
	Pooled ConnectionKind = iota
	// Single connections own exactly one socket, never reused, so a long-lived
	// stream cannot hold a pool slot.
	Single
)

func (k ConnectionKind) String() string {
	if k == Single {
		return "single"
	}
	return "pooled"
}

// DefaultMaxConnections bounds the pooled connection when no limit is configured.
const DefaultMaxConnections = 100

var ErrConnectionClosed = errors.New("connection closed")

// Connection is an HTTP client bound to one Transport. It lives until Close.
type Connection struct {
	kind      ConnectionKind
	transport Transport
	base      *http.Transport
	client    *http.Client

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewPooledConnection builds a connection that keeps up to maxConns concurrent
// sockets open. It is safe for concurrent use.
func NewPooledConnection(transport Transport, maxConns int) *Connection {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}

	c := &Connection{kind: Pooled, transport: transport}
	c.base = &http.Transport{
		DialContext:           transport.DialContext,
		TLSClientConfig:       transport.TLS,
		MaxConnsPerHost:       maxConns,
		MaxIdleConns:          maxConns,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    transport.Endpoint.IsSocket(),
	}
	c.client = &http.Client{Transport: otelhttp.NewTransport(c.base)}

	return c
}

// NewSingleConnection builds a connection restricted to exactly one socket with
// keep-alive disabled. Close interrupts any read blocked on that socket.
func NewSingleConnection(transport Transport) *Connection {
	c := &Connection{
		kind:      Single,
		transport: transport,
		conns:     make(map[net.Conn]struct{}),
	}
	c.base = &http.Transport{
		DialContext:         c.dialTracked,
		TLSClientConfig:     transport.TLS,
		MaxConnsPerHost:     1,
		MaxIdleConnsPerHost: 1,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true,
	}
	c.client = &http.Client{Transport: otelhttp.NewTransport(c.base)}

	return c
}

// Kind reports whether the connection is pooled or single.
func (c *Connection) Kind() ConnectionKind {
	return c.kind
}

// Transport returns the transport the connection dials through.
func (c *Connection) Transport() Transport {
	return c.transport
}

// Do sends req. It fails with ErrConnectionClosed once Close has been called.
func (c *Connection) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConnectionClosed
	}

	return c.client.Do(req)
}

// Close releases idle sockets and, for single connections, closes the active
// socket too. It is safe to call more than once and concurrently with Do.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	conns := c.conns
	c.conns = nil
	c.mu.Unlock()

	var errs []error
	for conn := range conns {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	c.base.CloseIdleConnections()

	return errors.Join(errs...)
}

func (c *Connection) dialTracked(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := c.transport.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return nil, ErrConnectionClosed
	}
	c.conns[conn] = struct{}{}

	return conn, nil
}
