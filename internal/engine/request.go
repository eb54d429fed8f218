package engine

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
)

// Default header values attached to every request.
const (
	DefaultAccept      = "*/*"
	DefaultContentType = "application/json"
	BinaryContentType  = "application/octet-stream"
)

type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyText
	bodyFile
)

// Body is a request entity: none, text, or the contents of a file. Bodies are
// reopened on every attempt, so a retried request resends the full entity.
type Body struct {
	kind bodyKind
	text string
	path string
}

// NoBody sends the request without an entity.
func NoBody() Body {
	return Body{}
}

// TextBody sends s, typically a JSON document.
func TextBody(s string) Body {
	return Body{kind: bodyText, text: s}
}

// FileBody streams the file at path as a binary entity.
func FileBody(path string) Body {
	return Body{kind: bodyFile, path: path}
}

func (b Body) open() (io.ReadCloser, int64, error) {
	switch b.kind {
	case bodyText:
		return io.NopCloser(strings.NewReader(b.text)), int64(len(b.text)), nil
	case bodyFile:
		f, err := os.Open(b.path)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open request body %q: %w", b.path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("failed to stat request body %q: %w", b.path, err)
		}
		return f, info.Size(), nil
	}
	return nil, 0, nil
}

// Request describes one call against the daemon API. Path is unescaped and
// relative to the API version prefix, for example /images/json.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   Body
	Header http.Header
	// Expected lists the status codes treated as success. An empty set accepts
	// only 200.
	Expected []int
}

// Expects reports whether status is a success for r.
func (r Request) Expects(status int) bool {
	if len(r.Expected) == 0 {
		return status == http.StatusOK
	}
	return slices.Contains(r.Expected, status)
}

func (r Request) String() string {
	return r.Method + " " + r.Path
}

// headers merges the defaults, the body's content type and the caller's headers,
// in that order.
func (r Request) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", DefaultAccept)
	h.Set("Content-Type", DefaultContentType)
	if r.Body.kind == bodyFile {
		h.Set("Content-Type", BinaryContentType)
	}
	for key, values := range r.Header {
		h.Del(key)
		for _, v := range values {
			h.Add(key, v)
		}
	}
	return h
}
