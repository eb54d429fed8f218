package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/containerd/errdefs/pkg/errhttp"
)

var (
	// ErrTransientServer matches a ProtocolError whose status is eligible for a push retry.
	ErrTransientServer = errors.New("transient server error")

	// ErrStreamTruncated is wrapped by a StreamFormatError when the stream ended mid-document.
	ErrStreamTruncated = errors.New("stream ended mid-document")
)

// ConfigurationError reports an endpoint or TLS setting that cannot be used.
// It is only returned while a Client or Connection is being constructed.
type ConfigurationError struct {
	Setting string
	Value   string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %v", e.Setting, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when the daemon answers with a status outside the
// expected set for a request.
type ProtocolError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       []byte
}

func (e *ProtocolError) Error() string {
	reason := e.Status
	if reason == "" {
		reason = http.StatusText(e.StatusCode)
	}

	msg := e.Message()
	if msg == "" {
		return fmt.Sprintf("%s %s: unexpected status %d (%s)", e.Method, e.Path, e.StatusCode, reason)
	}
	return fmt.Sprintf("%s %s: unexpected status %d (%s): %s", e.Method, e.Path, e.StatusCode, reason, msg)
}

// Message returns the daemon's error message. The daemon reports errors as
// {"message": "..."}; any other body is returned trimmed.
func (e *ProtocolError) Message() string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(e.Body))
}

// Is reports whether the error is a transient server failure.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrTransientServer && e.StatusCode == http.StatusInternalServerError
}

// Unwrap exposes the errdefs class of the status code, so errdefs.IsNotFound and
// friends work on protocol errors.
func (e *ProtocolError) Unwrap() error {
	return errhttp.ToNative(e.StatusCode)
}

// StreamFormatError is returned when a chunked JSON stream cannot be decoded.
// Documents dispatched before the failure are not rolled back.
type StreamFormatError struct {
	// Index is the arrival index the failing document would have had.
	Index int
	// Offset is the number of stream bytes consumed before the failing document.
	Offset int64
	Err    error
}

func (e *StreamFormatError) Error() string {
	return fmt.Sprintf("malformed json stream at document %d (offset %d): %v", e.Index, e.Offset, e.Err)
}

func (e *StreamFormatError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not a ProtocolError.
func StatusCode(err error) int {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.StatusCode
	}
	return 0
}
