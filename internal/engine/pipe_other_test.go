//go:build !windows

package engine_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/dockwire/internal/engine"
)

func TestNamedPipeOutsideWindows(t *testing.T) {
	endpoint, err := engine.ParseEndpoint("npipe:////./pipe/docker_engine", "")
	require.NoError(t, err)

	transport, err := engine.ResolveTransport(endpoint, engine.TLSOptions{})
	require.NoError(t, err)

	_, err = transport.DialContext(context.Background(), "tcp", "api.moby.localhost:80")
	require.Error(t, err)

	var opErr *net.OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "npipe", opErr.Net)
	assert.Equal(t, "//./pipe/docker_engine", opErr.Addr.String())
}
