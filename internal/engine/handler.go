package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// HandleFunc consumes a response whose status was already validated. The
// executor drains and closes the body after it returns.
type HandleFunc func(resp *http.Response) error

// ResponseHandler is one of the response strategies of this package:
// StringBody, StatusOnly, StatusAndBody, JSON and Stream.
type ResponseHandler[T any] interface {
	handle(resp *http.Response) (T, error)
}

// Reply is a status code together with the raw response body.
type Reply struct {
	StatusCode int
	Body       []byte
}

type stringBody struct{}

// StringBody returns the response body as a string.
func StringBody() ResponseHandler[string] {
	return stringBody{}
}

func (stringBody) handle(resp *http.Response) (string, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(body), nil
}

type statusOnly struct{}

// StatusOnly returns the status code and discards the body.
func StatusOnly() ResponseHandler[int] {
	return statusOnly{}
}

func (statusOnly) handle(resp *http.Response) (int, error) {
	return resp.StatusCode, nil
}

type statusAndBody struct{}

// StatusAndBody returns the status code and the full body.
func StatusAndBody() ResponseHandler[Reply] {
	return statusAndBody{}
}

func (statusAndBody) handle(resp *http.Response) (Reply, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return Reply{StatusCode: resp.StatusCode, Body: body}, nil
}

type jsonBody[T any] struct{}

// JSON decodes the body as a single JSON value of type T.
func JSON[T any]() ResponseHandler[T] {
	return jsonBody[T]{}
}

func (jsonBody[T]) handle(resp *http.Response) (T, error) {
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("failed to decode response body: %w", err)
	}
	return v, nil
}

// StreamResult summarizes a consumed stream.
type StreamResult struct {
	// Events is the number of documents dispatched. It stays 0 for passthrough bodies.
	Events int
	// Passthrough is set when the body was not JSON and was copied unparsed.
	Passthrough bool
}

type streamBody struct {
	fn          EventFunc
	passthrough io.Writer
}

// Stream decodes a chunked JSON body and calls fn once per document. Bodies with
// a non-JSON content type are copied to passthrough, or discarded if it is nil.
func Stream(fn EventFunc, passthrough io.Writer) ResponseHandler[StreamResult] {
	return streamBody{fn: fn, passthrough: passthrough}
}

func (s streamBody) handle(resp *http.Response) (StreamResult, error) {
	if !IsJSONContent(resp.Header.Get("Content-Type")) {
		w := s.passthrough
		if w == nil {
			w = io.Discard
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return StreamResult{Passthrough: true}, fmt.Errorf("failed to copy raw stream: %w", err)
		}
		return StreamResult{Passthrough: true}, nil
	}

	var result StreamResult
	err := DecodeStream(resp.Body, func(event Event) error {
		result.Events++
		return s.fn(event)
	})

	return result, err
}

// IsJSONContent reports whether a Content-Type header value declares JSON.
func IsJSONContent(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
