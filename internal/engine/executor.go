package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// maxErrorBody caps how much of an unexpected response is kept in a ProtocolError.
	maxErrorBody = 1 << 20
	// maxDrain caps how much of an unread body is discarded before closing.
	maxDrain = 64 << 10
)

// Requester executes a request and hands the validated response to handle.
// Executor and RetryingExecutor implement it.
type Requester interface {
	Execute(ctx context.Context, req Request, handle HandleFunc) error
}

// Executor sends requests over one Connection. It is safe for concurrent use
// when the connection is pooled.
type Executor struct {
	conn     *Connection
	endpoint Endpoint
	logger   logrus.FieldLogger
	metrics  *Metrics
}

// NewExecutor returns an executor bound to conn. A nil logger falls back to the
// logrus standard logger.
func NewExecutor(conn *Connection, logger logrus.FieldLogger, metrics *Metrics) *Executor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{
		conn:     conn,
		endpoint: conn.Transport().Endpoint,
		logger:   logger,
		metrics:  metrics,
	}
}

// Execute sends req, validates the response status against req.Expected and
// calls handle with the response. The response body is always closed.
func (e *Executor) Execute(ctx context.Context, req Request, handle HandleFunc) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	body, size, err := req.Body.open()
	if err != nil {
		return fmt.Errorf("%s: %w", req, err)
	}

	target := e.endpoint.URL(req.Path, req.Query, e.conn.Transport().Secure())
	var reader io.Reader
	if body != nil {
		reader = body
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), reader)
	if err != nil {
		if body != nil {
			body.Close()
		}
		return fmt.Errorf("%s: failed to build request: %w", req, err)
	}
	if body != nil {
		httpReq.ContentLength = size
	}
	httpReq.Header = req.headers()

	log := e.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"path":   req.Path,
	})

	resp, err := e.conn.Do(httpReq)
	if err != nil {
		e.metrics.transportError()
		log.WithError(err).Debug("daemon request failed")
		return fmt.Errorf("%s: %w", req, err)
	}
	drain := true
	defer func() {
		if drain {
			_, _ = io.CopyN(io.Discard, resp.Body, maxDrain)
		}
		_ = resp.Body.Close()
	}()

	e.metrics.request(req.Method, resp.StatusCode)
	log.WithField("status", resp.StatusCode).Debug("daemon request")

	if !req.Expects(resp.StatusCode) {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProtocolError{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
			Status:     strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "),
			Body:       payload,
		}
	}

	if handle == nil {
		return nil
	}
	if err := handle(resp); err != nil {
		// The rest of a failed stream may never arrive; closing drops the socket.
		drain = false
		return err
	}
	return nil
}

// Execute runs req through r and converts the response with h.
func Execute[T any](ctx context.Context, r Requester, req Request, h ResponseHandler[T]) (T, error) {
	var out T
	err := r.Execute(ctx, req, func(resp *http.Response) error {
		var err error
		out, err = h.handle(resp)
		return err
	})
	return out, err
}

// Get issues a GET for target, which may carry a query string.
func Get[T any](ctx context.Context, r Requester, target string, h ResponseHandler[T], expected ...int) (T, error) {
	return Execute(ctx, r, NewRequest(http.MethodGet, target, NoBody(), nil, expected...), h)
}

// Post issues a POST for target with body and extra headers.
func Post[T any](ctx context.Context, r Requester, target string, body Body, header http.Header, h ResponseHandler[T], expected ...int) (T, error) {
	return Execute(ctx, r, NewRequest(http.MethodPost, target, body, header, expected...), h)
}

// Put issues a PUT for target with body and extra headers.
func Put[T any](ctx context.Context, r Requester, target string, body Body, header http.Header, h ResponseHandler[T], expected ...int) (T, error) {
	return Execute(ctx, r, NewRequest(http.MethodPut, target, body, header, expected...), h)
}

// Delete issues a DELETE for target.
func Delete[T any](ctx context.Context, r Requester, target string, h ResponseHandler[T], expected ...int) (T, error) {
	return Execute(ctx, r, NewRequest(http.MethodDelete, target, NoBody(), nil, expected...), h)
}

// NewRequest builds a Request from a target of the form /path?query.
func NewRequest(method, target string, body Body, header http.Header, expected ...int) Request {
	path, rawQuery, _ := strings.Cut(target, "?")
	query, _ := url.ParseQuery(rawQuery)

	return Request{
		Method:   method,
		Path:     path,
		Query:    query,
		Body:     body,
		Header:   header,
		Expected: expected,
	}
}
