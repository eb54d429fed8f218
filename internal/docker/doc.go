// Package docker provides image and container operations for dockwire.
//
// It builds, pulls, tags, removes and pushes images, and creates, starts,
// waits for, removes and follows the logs of containers. Requests run through
// the engine package; this package owns the API paths, expected statuses and
// the mapping of responses onto moby API types. The Client type is the main
// entry point for all operations.
package docker
