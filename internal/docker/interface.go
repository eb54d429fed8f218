package docker

import (
	"context"

	"github.com/ryanmoran/dockwire/internal/engine"
)

// Engine is the part of the daemon client the operations need.
//
// *engine.Client implements this interface. Tests inject a fake that answers
// requests from memory.
//
// Usage:
//
//	core, err := engine.NewClient(engine.Options{Host: "unix:///var/run/docker.sock"})
//	if err != nil {
//	    return err
//	}
//	c := docker.NewClient(core)
//
//	// Or build the engine from configuration:
//	c, err := docker.NewDefaultClient(config, logger, prometheus.NewRegistry())
type Engine interface {
	Execute(ctx context.Context, req engine.Request, handle engine.HandleFunc) error
	WithRetry(policy engine.RetryPolicy) engine.Requester
	FollowLogs(ctx context.Context, req engine.Request, fn engine.LineFunc) error
	NewLogHandle(req engine.Request, fn engine.LineFunc, opts ...engine.LogOption) *engine.LogHandle
	Shutdown() error
}

var _ Engine = (*engine.Client)(nil)
