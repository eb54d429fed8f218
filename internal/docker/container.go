package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"

	"github.com/ryanmoran/dockwire/internal"
	"github.com/ryanmoran/dockwire/internal/engine"
)

// stopGrace is how long Wait keeps waiting past the stop timeout after it asked
// the daemon to stop the container.
const stopGrace = 5 * time.Second

type Container struct {
	engine Engine

	ID          string
	Name        string
	StopTimeout int
	Warnings    []string
}

// createRequest is the body of POST /containers/create.
type createRequest struct {
	*container.Config
	HostConfig *container.HostConfig `json:"HostConfig,omitempty"`
}

// CreateContainer creates a new container named name from image, running args
// with the given environment, volume binds and network. Output is not attached
// to a TTY, so logs are multiplexed into stdout and stderr. Returns a Container
// handle or an error if creation fails.
func (c Client) CreateContainer(ctx context.Context, name internal.ContainerName, image Image, args internal.Command, env internal.Environment, volumes []string, network string, stopTimeout int) (Container, error) {
	body, err := json.Marshal(createRequest{
		Config: &container.Config{
			Image:        image.Name,
			Cmd:          []string(args),
			Env:          []string(env),
			AttachStdout: true,
			AttachStderr: true,
			StopTimeout:  &stopTimeout,
		},
		HostConfig: &container.HostConfig{
			Binds:       volumes,
			NetworkMode: container.NetworkMode(network),
		},
	})
	if err != nil {
		return Container{}, fmt.Errorf("failed to encode container config: %w", err)
	}

	query := url.Values{}
	if name != "" {
		query.Set("name", string(name))
	}

	response, err := engine.Post(ctx, c.engine, "/containers/create?"+query.Encode(), engine.TextBody(string(body)), nil,
		engine.JSON[container.CreateResponse](), http.StatusCreated)
	if err != nil {
		return Container{}, fmt.Errorf("failed to create container %q from image %q: %w\nEnsure image exists and container config is valid", name, image.Name, err)
	}

	return Container{
		engine:      c.engine,
		ID:          response.ID,
		Name:        string(name),
		StopTimeout: stopTimeout,
		Warnings:    response.Warnings,
	}, nil
}

// Start starts the container. Starting a running container is not an error.
func (c Container) Start(ctx context.Context) error {
	_, err := engine.Post(ctx, c.engine, "/containers/"+c.ID+"/start", engine.NoBody(), nil,
		engine.StatusOnly(), http.StatusNoContent, http.StatusNotModified)
	if err != nil {
		return fmt.Errorf("failed to start container %q: %w\nContainer may be misconfigured or Docker daemon may be unhealthy", c.Name, err)
	}

	return nil
}

// Stop asks the daemon to stop the container, killing it after StopTimeout
// seconds. Stopping a stopped container is not an error.
func (c Container) Stop(ctx context.Context) error {
	_, err := engine.Post(ctx, c.engine, "/containers/"+c.ID+"/stop?t="+strconv.Itoa(c.StopTimeout), engine.NoBody(), nil,
		engine.StatusOnly(), http.StatusNoContent, http.StatusNotModified)
	if err != nil {
		return fmt.Errorf("failed to stop container %q: %w", c.Name, err)
	}

	return nil
}

// Wait waits for the container to exit and returns its exit code. If ctx is
// cancelled first, typically by SIGINT or SIGTERM, the container is stopped
// with the configured timeout and Wait returns once it has exited.
func (c Container) Wait(ctx context.Context, w internal.Writer) (int64, error) {
	type outcome struct {
		response container.WaitResponse
		err      error
	}

	// The wait request must outlive ctx so the exit code of a stopped container is still reported.
	background := context.WithoutCancel(ctx)
	done := make(chan outcome, 1)
	go func() {
		response, err := engine.Post(background, c.engine, "/containers/"+c.ID+"/wait?condition="+string(container.WaitConditionNotRunning),
			engine.NoBody(), nil, engine.JSON[container.WaitResponse](), http.StatusOK)
		done <- outcome{response: response, err: err}
	}()

	var result outcome
	select {
	case result = <-done:
	case <-ctx.Done():
		w.Println("\nReceived signal, stopping container...")
		if err := c.Stop(background); err != nil {
			w.Warningf("failed to stop container: %v", err)
		}

		select {
		case result = <-done:
		case <-time.After(time.Duration(c.StopTimeout)*time.Second + stopGrace):
			return 0, fmt.Errorf("failed to wait for container %q: %w\nThe container did not stop in time", c.Name, ctx.Err())
		}
	}

	if result.err != nil {
		return 0, fmt.Errorf("failed to wait for container %q: %w\nDocker daemon may have encountered an error", c.Name, result.err)
	}
	if result.response.Error != nil && result.response.Error.Message != "" {
		return result.response.StatusCode, fmt.Errorf("failed to wait for container %q: %s", c.Name, result.response.Error.Message)
	}

	w.Printf("\nContainer exited with status: %d\n", result.response.StatusCode)
	return result.response.StatusCode, nil
}

// Remove removes the container from the Docker daemon.
// Returns an error if the container is still running or cannot be removed.
// Use ForceRemove to remove a running container.
func (c Container) Remove(ctx context.Context) error {
	_, err := engine.Delete(ctx, c.engine, "/containers/"+c.ID, engine.StatusOnly(), http.StatusNoContent)
	if err != nil {
		return fmt.Errorf("failed to remove container %q: %w\nContainer may still be running - use ForceRemove if needed", c.Name, err)
	}

	return nil
}

// ForceRemove forcibly removes the container from the Docker daemon, even if it is still running.
// A container that is already gone is not an error.
func (c Container) ForceRemove(ctx context.Context) error {
	_, err := engine.Delete(ctx, c.engine, "/containers/"+c.ID+"?force=1", engine.StatusOnly(), http.StatusNoContent)
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to force remove container %q: %w\nContainer may be in an inconsistent state", c.Name, err)
	}

	return nil
}

// Logs reads the container output produced so far and returns when it ends or
// fn stops it.
func (c Container) Logs(ctx context.Context, fn engine.LineFunc) error {
	err := c.engine.FollowLogs(ctx, c.logsRequest(false), fn)
	if err != nil {
		return fmt.Errorf("failed to read logs of container %q: %w", c.Name, err)
	}

	return nil
}

// FollowLogs starts following the container output in the background. The
// returned handle is already started; Stop it to end the follow early.
func (c Container) FollowLogs(fn engine.LineFunc, opts ...engine.LogOption) (*engine.LogHandle, error) {
	handle := c.engine.NewLogHandle(c.logsRequest(true), fn, opts...)
	if err := handle.Start(); err != nil {
		return nil, fmt.Errorf("failed to follow logs of container %q: %w", c.Name, err)
	}

	return handle, nil
}

// ContainerByID returns a handle for an existing container.
func (c Client) ContainerByID(id string) Container {
	return Container{
		engine:      c.engine,
		ID:          id,
		Name:        id,
		StopTimeout: internal.DefaultStopTimeout,
	}
}

func (c Container) logsRequest(follow bool) engine.Request {
	query := url.Values{}
	query.Set("stdout", "1")
	query.Set("stderr", "1")
	query.Set("timestamps", "1")
	if follow {
		query.Set("follow", "1")
	}

	return engine.Request{
		Method:   http.MethodGet,
		Path:     "/containers/" + c.ID + "/logs",
		Query:    query,
		Expected: []int{http.StatusOK},
	}
}
