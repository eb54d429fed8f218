//go:build !windows

package engine

import (
	"context"
	"errors"
	"net"
)

var errPipeUnsupported = errors.New("named pipes are only available on windows")

func dialPipe(_ context.Context, path string) (net.Conn, error) {
	return nil, &net.OpError{Op: "dial", Net: "npipe", Addr: pipeAddr(path), Err: errPipeUnsupported}
}

type pipeAddr string

func (a pipeAddr) Network() string { return "npipe" }
func (a pipeAddr) String() string  { return string(a) }
