package docker_test

import (
	"context"
	"encoding/binary"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/dockwire/internal/docker"
	"github.com/ryanmoran/dockwire/internal/engine"
)

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestPushAgainstDaemon(t *testing.T) {
	t.Run("retries a push that failed with 500", func(t *testing.T) {
		var attempts atomic.Int32
		daemon := newDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1.43/images/myapp/push", r.URL.Path)
			assert.Equal(t, "e30=", r.Header.Get(docker.RegistryAuthHeader))

			if attempts.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"message":"registry hiccup"}`))
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"Pushed","id":"abc"}` + "\n" + `{"status":"latest: digest: sha256:1234"}`))
		}))

		writer := newMockWriter()
		c := docker.NewClient(daemon, docker.WithPushRetries(2))
		require.NoError(t, c.PushImage(context.Background(), "myapp", "", writer))

		assert.Equal(t, int32(3), attempts.Load())
		assert.Contains(t, writer.String(), "abc: Pushed")
		assert.Contains(t, writer.String(), "latest: digest: sha256:1234")
	})

	t.Run("gives up once the retries are spent", func(t *testing.T) {
		var attempts atomic.Int32
		daemon := newDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))

		c := docker.NewClient(daemon, docker.WithPushRetries(1))
		err := c.PushImage(context.Background(), "myapp", "", newMockWriter())
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, engine.StatusCode(err))
		assert.Equal(t, int32(2), attempts.Load())
	})

	t.Run("does not retry other failures", func(t *testing.T) {
		var attempts atomic.Int32
		daemon := newDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))

		c := docker.NewClient(daemon, docker.WithPushRetries(5))
		err := c.PushImage(context.Background(), "myapp", "", newMockWriter())
		require.Error(t, err)
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("reports an error inside the progress stream", func(t *testing.T) {
		daemon := newDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"Preparing"}{"errorDetail":{"message":"denied"},"error":"denied"}`))
		}))

		err := docker.NewClient(daemon).PushImage(context.Background(), "myapp", "", newMockWriter())
		require.Error(t, err)

		var streamErr *docker.StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, "denied", streamErr.Message)
	})
}

func TestContainerAgainstDaemon(t *testing.T) {
	t.Run("runs a container and follows its output", func(t *testing.T) {
		release := make(chan struct{})
		var (
			mu    sync.Mutex
			calls []string
		)
		daemon := newDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls = append(calls, r.Method+" "+r.URL.Path)
			mu.Unlock()

			switch r.URL.Path {
			case "/v1.43/containers/create":
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte(`{"Id":"c1","Warnings":[]}`))
			case "/v1.43/containers/c1/start":
				w.WriteHeader(http.StatusNoContent)
			case "/v1.43/containers/c1/logs":
				assert.Equal(t, "1", r.URL.Query().Get("follow"))
				w.Header().Set("Content-Type", engine.MultiplexedStreamContentType)
				w.Write(frame(1, "2024-05-01T10:00:00Z hello\n"))
				w.Write(frame(2, "2024-05-01T10:00:01Z oops\n"))
				w.(http.Flusher).Flush()
				select {
				case <-release:
				case <-r.Context().Done():
				}
			case "/v1.43/containers/c1/wait":
				<-release
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"StatusCode":0}`))
			case "/v1.43/containers/c1":
				assert.Equal(t, "1", r.URL.Query().Get("force"))
				w.WriteHeader(http.StatusNoContent)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		ctx := context.Background()
		c := docker.NewClient(daemon)

		container, err := c.CreateContainer(ctx, "dockwire-1", docker.Image{Name: "alpine"}, []string{"echo"}, nil, nil, "default", 1)
		require.NoError(t, err)
		require.NoError(t, container.Start(ctx))

		var (
			linesMu sync.Mutex
			lines   []engine.LogLine
		)
		received := make(chan struct{})
		handle, err := container.FollowLogs(func(line engine.LogLine) engine.Outcome {
			linesMu.Lock()
			defer linesMu.Unlock()
			lines = append(lines, line)
			if len(lines) == 2 {
				close(received)
			}
			return engine.Continue()
		})
		require.NoError(t, err)

		select {
		case <-received:
		case <-time.After(5 * time.Second):
			t.Fatal("log lines were not delivered")
		}

		close(release)
		writer := newMockWriter()
		status, err := container.Wait(ctx, writer)
		require.NoError(t, err)
		assert.Equal(t, int64(0), status)

		handle.Stop()
		select {
		case <-handle.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("log follow did not stop")
		}
		assert.NoError(t, handle.Wait())
		assert.True(t, handle.State().Terminal())

		require.NoError(t, container.ForceRemove(ctx))

		linesMu.Lock()
		defer linesMu.Unlock()
		require.Len(t, lines, 2)
		assert.Equal(t, "hello", lines[0].Text)
		assert.Equal(t, engine.StreamStdout, lines[0].Stream)
		assert.Equal(t, "oops", lines[1].Text)
		assert.Equal(t, engine.StreamStderr, lines[1].Stream)

		mu.Lock()
		defer mu.Unlock()
		assert.Contains(t, calls, "POST /v1.43/containers/create")
		assert.Contains(t, calls, "DELETE /v1.43/containers/c1")
	})

	t.Run("stops a follow that is blocked on a silent container", func(t *testing.T) {
		daemon := newDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", engine.RawStreamContentType)
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}))

		var doneCalls atomic.Int32
		handle, err := docker.NewClient(daemon).ContainerByID("quiet").FollowLogs(
			func(engine.LogLine) engine.Outcome { return engine.Continue() },
			engine.WithOnDone(func(state engine.State, err error) {
				doneCalls.Add(1)
				assert.Equal(t, engine.StateStopped, state)
				assert.NoError(t, err)
			}),
		)
		require.NoError(t, err)
		assert.Equal(t, engine.StateStarted, handle.State())

		time.Sleep(50 * time.Millisecond)
		handle.Stop()

		select {
		case <-handle.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("log follow did not stop")
		}
		assert.Equal(t, engine.StateStopped, handle.State())
		assert.Equal(t, int32(1), doneCalls.Load())
	})
}
