package engine

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Transport is the OS-level channel to the daemon chosen from an endpoint's scheme.
type Transport struct {
	Endpoint Endpoint
	// TLS is non-nil when requests use HTTPS.
	TLS *tls.Config

	dialTimeout time.Duration
}

const defaultDialTimeout = 30 * time.Second

// ResolveTransport selects the transport for endpoint. TLS material is loaded for
// TCP endpoints when the scheme is https, a certificate directory was supplied,
// or tlsOpts.Enabled is set.
func ResolveTransport(endpoint Endpoint, tlsOpts TLSOptions) (Transport, error) {
	transport := Transport{
		Endpoint:    endpoint,
		dialTimeout: defaultDialTimeout,
	}

	switch endpoint.Scheme {
	case SchemeUnix, SchemeNamedPipe:
		return transport, nil
	case SchemeTCP, SchemeHTTP, SchemeHTTPS:
		if endpoint.Scheme != SchemeHTTPS && tlsOpts.CertPath == "" && !tlsOpts.Enabled {
			return transport, nil
		}

		config, err := loadTLSConfig(tlsOpts)
		if err != nil {
			return Transport{}, err
		}
		transport.TLS = config

		return transport, nil
	}

	return Transport{}, &ConfigurationError{Setting: "daemon host", Value: endpoint.String(), Err: errUnsupportedScheme(endpoint.Scheme)}
}

type errUnsupportedScheme Scheme

func (e errUnsupportedScheme) Error() string {
	return "unsupported scheme " + string(e)
}

// Secure reports whether requests over this transport use TLS.
func (t Transport) Secure() bool {
	return t.TLS != nil
}

// DialContext opens a raw connection to the daemon. The network and address
// arguments net/http passes are ignored: the endpoint carries the addressing.
func (t Transport) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	switch t.Endpoint.Scheme {
	case SchemeUnix:
		dialer := net.Dialer{Timeout: t.dialTimeout}
		return dialer.DialContext(ctx, "unix", t.Endpoint.Address)
	case SchemeNamedPipe:
		ctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
		defer cancel()
		return dialPipe(ctx, t.Endpoint.Address)
	default:
		dialer := net.Dialer{Timeout: t.dialTimeout, KeepAlive: 30 * time.Second}
		return dialer.DialContext(ctx, "tcp", t.Endpoint.Address)
	}
}
