package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const defaultReadSize = 4096

// Event is one complete JSON document taken from a chunked stream.
type Event struct {
	// Index is the arrival order of the document, starting at 0.
	Index int
	Raw   json.RawMessage
}

// Decode unmarshals the document into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// EventFunc receives stream documents in arrival order. A non-nil error stops
// decoding and is returned to the caller unchanged.
type EventFunc func(Event) error

// StreamDecoder splits a byte stream of concatenated JSON documents into
// individual documents. Document boundaries need not line up with reads.
type StreamDecoder struct {
	r   io.Reader
	buf []byte
	// consumed counts stream bytes already handed out or skipped.
	consumed int64
	index    int
	eof      bool

	// scanner state for buf[start:], carried across reads so bytes are
	// scanned once.
	start    int
	pos      int
	depth    int
	inString bool
	escaped  bool
}

// NewStreamDecoder returns a decoder reading from r.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{
		r:     r,
		buf:   make([]byte, 0, defaultReadSize),
		start: -1,
	}
}

// Next returns the next complete document. It returns io.EOF once the stream is
// exhausted cleanly and a *StreamFormatError when the stream holds a malformed
// or truncated document.
func (d *StreamDecoder) Next() (Event, error) {
	for {
		end, err := d.scan()
		if err != nil {
			return Event{}, err
		}
		if end >= 0 {
			return d.emit(end)
		}

		if d.eof {
			return Event{}, d.finish()
		}
		if err := d.fill(); err != nil {
			return Event{}, err
		}
	}
}

// scan advances the scanner over buffered bytes and returns the index just past
// a complete document, or -1 when more input is needed.
func (d *StreamDecoder) scan() (int, error) {
	for ; d.pos < len(d.buf); d.pos++ {
		c := d.buf[d.pos]

		if d.start < 0 {
			switch c {
			case ' ', '\t', '\r', '\n':
				continue
			case '{', '[':
				d.start = d.pos
				d.depth = 1
				continue
			default:
				return -1, d.formatError(fmt.Errorf("invalid character %q at start of document", c))
			}
		}

		if d.inString {
			switch {
			case d.escaped:
				d.escaped = false
			case c == '\\':
				d.escaped = true
			case c == '"':
				d.inString = false
			}
			continue
		}

		switch c {
		case '"':
			d.inString = true
		case '{', '[':
			d.depth++
		case '}', ']':
			d.depth--
			if d.depth == 0 {
				d.pos++
				return d.pos, nil
			}
		}
	}

	return -1, nil
}

func (d *StreamDecoder) emit(end int) (Event, error) {
	doc := d.buf[d.start:end]
	if !json.Valid(doc) {
		return Event{}, d.formatError(errors.New("invalid json document"))
	}

	event := Event{
		Index: d.index,
		Raw:   append(json.RawMessage(nil), doc...),
	}
	d.index++
	d.consumed += int64(end)

	n := copy(d.buf, d.buf[end:])
	d.buf = d.buf[:n]
	d.start = -1
	d.pos = 0
	d.depth = 0

	return event, nil
}

// fill appends at least one more read to the buffer, growing it as needed.
func (d *StreamDecoder) fill() error {
	if d.start < 0 {
		// Nothing but whitespace is buffered.
		d.consumed += int64(len(d.buf))
		d.buf = d.buf[:0]
		d.pos = 0
	}
	if cap(d.buf)-len(d.buf) < defaultReadSize/2 {
		grown := make([]byte, len(d.buf), 2*cap(d.buf)+defaultReadSize)
		copy(grown, d.buf)
		d.buf = grown
	}

	n, err := d.r.Read(d.buf[len(d.buf):cap(d.buf)])
	d.buf = d.buf[:len(d.buf)+n]
	if errors.Is(err, io.EOF) {
		d.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read json stream: %w", err)
	}

	return nil
}

// finish reports leftover bytes at the end of the stream.
func (d *StreamDecoder) finish() error {
	if d.start < 0 {
		// Only whitespace can remain when no document is open.
		return io.EOF
	}
	return d.formatError(ErrStreamTruncated)
}

func (d *StreamDecoder) formatError(err error) error {
	offset := d.consumed + int64(d.pos)
	if d.start >= 0 {
		offset = d.consumed + int64(d.start)
	}
	return &StreamFormatError{Index: d.index, Offset: offset, Err: err}
}

// DecodeStream dispatches every document in r to fn in arrival order. It stops at
// the first error from fn or the decoder.
func DecodeStream(r io.Reader, fn EventFunc) error {
	decoder := NewStreamDecoder(r)
	for {
		event, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := fn(event); err != nil {
			return err
		}
	}
}
