package engine

import (
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/docker/cli/opts"
	"github.com/moby/moby/client"
)

// Scheme identifies how the daemon is reached.
type Scheme string

const (
	SchemeUnix      Scheme = "unix"
	SchemeNamedPipe Scheme = "npipe"
	SchemeTCP       Scheme = "tcp"
	SchemeHTTP      Scheme = "http"
	SchemeHTTPS     Scheme = "https"
)

const (
	// placeholderHost is put in request URLs for socket and pipe transports,
	// where the dialer carries the addressing.
	placeholderHost = "api.moby.localhost"

	// defaultPlainHost and defaultTLSHost fill in whatever part of a TCP host
	// is missing.
	defaultPlainHost = "tcp://localhost:2375"
	defaultTLSHost   = "tcp://localhost:2376"
)

// Endpoint is a parsed daemon address. It is immutable once parsed.
type Endpoint struct {
	Scheme Scheme
	// Address is the socket path for unix, the pipe path for npipe, and
	// host:port for the TCP schemes.
	Address string
	// BasePath is an optional path prefix for TCP endpoints behind a proxy.
	BasePath   string
	APIVersion string
}

// ParseEndpoint parses a daemon URL such as unix:///var/run/docker.sock,
// npipe:////./pipe/docker_engine or tcp://10.0.0.2:2376. TCP hosts without a
// port get 2375, or 2376 for https, and an empty host means localhost.
func ParseEndpoint(host, apiVersion string) (Endpoint, error) {
	u, err := client.ParseHostURL(host)
	if err != nil {
		return Endpoint{}, &ConfigurationError{Setting: "daemon host", Value: host, Err: err}
	}

	endpoint := Endpoint{
		Scheme:     Scheme(strings.ToLower(u.Scheme)),
		APIVersion: strings.TrimPrefix(apiVersion, "v"),
	}

	switch endpoint.Scheme {
	case SchemeUnix, SchemeNamedPipe:
		endpoint.Address = u.Host
	case SchemeTCP, SchemeHTTP, SchemeHTTPS:
		defaultAddr := defaultPlainHost
		if endpoint.Scheme == SchemeHTTPS {
			defaultAddr = defaultTLSHost
		}

		_, addr, _ := strings.Cut(host, "://")
		normalized, err := opts.ParseTCPAddr("tcp://"+addr, defaultAddr)
		if err != nil {
			return Endpoint{}, &ConfigurationError{Setting: "daemon host", Value: host, Err: err}
		}

		parsed, err := client.ParseHostURL(normalized)
		if err != nil {
			return Endpoint{}, &ConfigurationError{Setting: "daemon host", Value: host, Err: err}
		}
		endpoint.Address = parsed.Host
		endpoint.BasePath = strings.TrimSuffix(parsed.Path, "/")
	case "":
		return Endpoint{}, &ConfigurationError{Setting: "daemon host", Value: host, Err: errors.New("missing scheme, expected unix://, npipe://, tcp:// or http(s)://")}
	default:
		return Endpoint{}, &ConfigurationError{Setting: "daemon host", Value: host, Err: errors.New("unsupported scheme " + u.Scheme)}
	}

	return endpoint, nil
}

// IsSocket reports whether the endpoint is addressed by a local socket or pipe.
func (e Endpoint) IsSocket() bool {
	return e.Scheme == SchemeUnix || e.Scheme == SchemeNamedPipe
}

// String returns the endpoint in URL form.
func (e Endpoint) String() string {
	return string(e.Scheme) + "://" + e.Address + e.BasePath
}

// URL builds the request URL for an API path such as /images/json.
func (e Endpoint) URL(apiPath string, query url.Values, secure bool) *url.URL {
	u := &url.URL{
		Scheme: "http",
		Host:   placeholderHost,
	}
	if !e.IsSocket() {
		u.Host = e.Address
		if secure {
			u.Scheme = "https"
		}
	}

	versioned := apiPath
	if e.APIVersion != "" {
		versioned = "/v" + e.APIVersion + apiPath
	}
	u.Path = path.Join("/", e.BasePath, versioned)
	if strings.HasSuffix(apiPath, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}
