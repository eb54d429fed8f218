package docker_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/dockwire/internal/engine"
)

type mockWriter struct {
	mu       sync.Mutex
	buf      *bytes.Buffer
	terminal bool
}

func newMockWriter() *mockWriter {
	return &mockWriter{buf: &bytes.Buffer{}}
}

func (m *mockWriter) write(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.WriteString(s)
}

func (m *mockWriter) Print(v ...interface{})                 { m.write(fmt.Sprint(v...)) }
func (m *mockWriter) Printf(format string, v ...interface{}) { m.write(fmt.Sprintf(format, v...)) }
func (m *mockWriter) Println(v ...interface{})               { m.write(fmt.Sprintln(v...)) }
func (m *mockWriter) Warning(v ...interface{})               { m.write("Warning: " + fmt.Sprintln(v...)) }
func (m *mockWriter) Warningf(format string, v ...interface{}) {
	m.write("Warning: " + fmt.Sprintf(format, v...) + "\n")
}
func (m *mockWriter) Fatal(v ...interface{}) { m.write("Fatal: " + fmt.Sprintln(v...)) }
func (m *mockWriter) Fatalf(format string, v ...interface{}) {
	m.write("Fatal: " + fmt.Sprintf(format, v...) + "\n")
}
func (m *mockWriter) GetWriter() io.Writer { return m.buf }
func (m *mockWriter) IsTerminal() bool     { return m.terminal }

func (m *mockWriter) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.String()
}

// mockEngine is a mock implementation of docker.Engine for testing. Requests
// are answered by executeFunc; respond builds the response it hands to the
// operation.
type mockEngine struct {
	executeFunc    func(ctx context.Context, req engine.Request, handle engine.HandleFunc) error
	followLogsFunc func(ctx context.Context, req engine.Request, fn engine.LineFunc) error
	shutdownFunc   func() error

	mu       sync.Mutex
	requests []engine.Request
	policies []engine.RetryPolicy
}

func (m *mockEngine) Execute(ctx context.Context, req engine.Request, handle engine.HandleFunc) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.executeFunc != nil {
		return m.executeFunc(ctx, req, handle)
	}
	return errors.New("not implemented")
}

func (m *mockEngine) WithRetry(policy engine.RetryPolicy) engine.Requester {
	m.mu.Lock()
	m.policies = append(m.policies, policy)
	m.mu.Unlock()

	return m
}

func (m *mockEngine) FollowLogs(ctx context.Context, req engine.Request, fn engine.LineFunc) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.followLogsFunc != nil {
		return m.followLogsFunc(ctx, req, fn)
	}
	return errors.New("not implemented")
}

func (m *mockEngine) NewLogHandle(req engine.Request, fn engine.LineFunc, opts ...engine.LogOption) *engine.LogHandle {
	panic("not implemented: use a stub daemon for asynchronous log follows")
}

func (m *mockEngine) Shutdown() error {
	if m.shutdownFunc != nil {
		return m.shutdownFunc()
	}
	return nil
}

func (m *mockEngine) recorded() []engine.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Request(nil), m.requests...)
}

// respond hands handle a response with status and body. JSON bodies are
// labelled application/json.
func respond(handle engine.HandleFunc, status int, body string) error {
	header := http.Header{}
	if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
		header.Set("Content-Type", "application/json")
	}
	return handle(&http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	})
}

// newDaemon serves handler on a unix socket and returns an engine client for it.
func newDaemon(t *testing.T, handler http.Handler) *engine.Client {
	t.Helper()

	dir, err := os.MkdirTemp("", "dw")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	listener, err := net.Listen("unix", filepath.Join(dir, "d.sock"))
	require.NoError(t, err)

	server := httptest.NewUnstartedServer(handler)
	server.Listener.Close()
	server.Listener = listener
	server.Start()
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, err := engine.NewClient(engine.Options{
		Host:       "unix://" + listener.Addr().String(),
		APIVersion: "1.43",
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Shutdown() })

	return client
}

func writeDockerfile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "Dockerfile")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
