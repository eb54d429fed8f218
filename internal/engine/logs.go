package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Content types the daemon uses for container output.
const (
	RawStreamContentType         = "application/vnd.docker.raw-stream"
	MultiplexedStreamContentType = "application/vnd.docker.multiplexed-stream"
)

// StreamKind tells which container stream a log line came from.
type StreamKind int

const (
	// StreamRaw marks lines from a TTY container, where stdout and stderr are merged.
	StreamRaw StreamKind = iota
	StreamStdout
	StreamStderr
)

func (k StreamKind) String() string {
	switch k {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	}
	return "raw"
}

// LogLine is one line of container output.
type LogLine struct {
	Index     int
	Timestamp time.Time
	Stream    StreamKind
	Text      string
}

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeStop
	outcomeFail
)

// Outcome is what a LineFunc wants the read loop to do next.
type Outcome struct {
	kind outcomeKind
	err  error
}

// Continue keeps reading.
func Continue() Outcome { return Outcome{} }

// Stop ends the follow successfully.
func Stop() Outcome { return Outcome{kind: outcomeStop} }

// Fail ends the follow with err.
func Fail(err error) Outcome { return Outcome{kind: outcomeFail, err: err} }

// LineFunc receives log lines in order.
type LineFunc func(LogLine) Outcome

var errStopReading = errors.New("stop reading")

// followResponse feeds lines from resp to fn until the stream ends or fn asks
// to stop. A Stop outcome closes the body early and returns nil.
func followResponse(resp *http.Response, fn LineFunc) error {
	err := readLogLines(resp.Body, resp.Header.Get("Content-Type"), fn)
	if errors.Is(err, errStopReading) {
		resp.Body.Close()
		return nil
	}
	return err
}

func readLogLines(body io.Reader, contentType string, fn LineFunc) error {
	lines := lineEmitter{fn: fn}

	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType == RawStreamContentType {
		return lines.readRaw(body)
	}
	return lines.readMultiplexed(body)
}

type lineEmitter struct {
	fn    LineFunc
	index int
}

func (l *lineEmitter) emit(stream StreamKind, text string) error {
	line := LogLine{
		Index:  l.index,
		Stream: stream,
		Text:   strings.TrimRight(text, "\r\n"),
	}
	l.index++

	if stamp, rest, ok := strings.Cut(line.Text, " "); ok {
		if ts, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
			line.Timestamp = ts
			line.Text = rest
		}
	}

	outcome := l.fn(line)
	switch outcome.kind {
	case outcomeStop:
		return errStopReading
	case outcomeFail:
		if outcome.err == nil {
			return errors.New("log callback failed")
		}
		return outcome.err
	}
	return nil
}

func (l *lineEmitter) readRaw(body io.Reader) error {
	reader := bufio.NewReader(body)
	for {
		text, err := reader.ReadString('\n')
		if text != "" {
			if emitErr := l.emit(StreamRaw, text); emitErr != nil {
				return emitErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read log stream: %w", err)
		}
	}
}

// readMultiplexed parses the daemon's framed output: an 8 byte header holding
// the stream id and a big-endian payload size, followed by the payload.
func (l *lineEmitter) readMultiplexed(body io.Reader) error {
	var (
		header  [8]byte
		pending = map[StreamKind]*bytes.Buffer{}
	)

	for {
		if _, err := io.ReadFull(body, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return l.flush(pending)
			}
			return fmt.Errorf("failed to read log frame header: %w", err)
		}

		var stream StreamKind
		switch header[0] {
		case 0, 1:
			stream = StreamStdout
		case 2:
			stream = StreamStderr
		default:
			return fmt.Errorf("failed to read log frame: unknown stream id %d", header[0])
		}

		size := binary.BigEndian.Uint32(header[4:])
		buf, ok := pending[stream]
		if !ok {
			buf = &bytes.Buffer{}
			pending[stream] = buf
		}
		if _, err := io.CopyN(buf, body, int64(size)); err != nil {
			return fmt.Errorf("failed to read log frame payload: %w", err)
		}

		for {
			i := bytes.IndexByte(buf.Bytes(), '\n')
			if i < 0 {
				break
			}
			text := string(buf.Next(i + 1))
			if err := l.emit(stream, text); err != nil {
				return err
			}
		}
	}
}

func (l *lineEmitter) flush(pending map[StreamKind]*bytes.Buffer) error {
	for _, stream := range []StreamKind{StreamStdout, StreamStderr} {
		if buf, ok := pending[stream]; ok && buf.Len() > 0 {
			if err := l.emit(stream, buf.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

// State is the lifecycle position of a LogHandle. STOPPED, COMPLETED and FAILED
// are terminal.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopped
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarted:
		return "STARTED"
	case StateStopped:
		return "STOPPED"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateStopped
}

// LogOption configures a LogHandle.
type LogOption func(*LogHandle)

// WithOnDone registers a callback invoked once when a started handle reaches a
// terminal state. err is nil unless the state is StateFailed.
func WithOnDone(fn func(State, error)) LogOption {
	return func(h *LogHandle) {
		h.onDone = fn
	}
}

// LogHandle follows a log stream on its own goroutine and single Connection.
type LogHandle struct {
	id        string
	transport Transport
	req       Request
	fn        LineFunc
	onDone    func(State, error)
	logger    logrus.FieldLogger
	metrics   *Metrics

	state atomic.Int32
	done  chan struct{}
	err   error

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   *Connection
}

func newLogHandle(transport Transport, req Request, fn LineFunc, logger logrus.FieldLogger, metrics *Metrics, opts ...LogOption) *LogHandle {
	h := &LogHandle{
		id:        uuid.NewString(),
		transport: transport,
		req:       req,
		fn:        fn,
		metrics:   metrics,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logger.WithFields(logrus.Fields{"handle": h.id, "path": req.Path})

	return h
}

// ID identifies the handle in log output.
func (h *LogHandle) ID() string {
	return h.id
}

// State returns the current lifecycle state.
func (h *LogHandle) State() State {
	return State(h.state.Load())
}

// Start begins following on a background goroutine. It fails unless the handle
// is in StateCreated.
func (h *LogHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.state.CompareAndSwap(int32(StateCreated), int32(StateStarted)) {
		return fmt.Errorf("failed to start log follow %s: handle is %s", h.id, h.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.conn = NewSingleConnection(h.transport)

	go h.run(ctx, h.conn)

	return nil
}

// Stop cancels the follow and closes its connection, unblocking a pending read.
// It is idempotent and safe to call from any goroutine. Stopping a handle that
// was never started moves it straight to StateStopped.
func (h *LogHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		close(h.done)
		return
	}
	if !h.state.CompareAndSwap(int32(StateStarted), int32(StateStopped)) {
		return
	}

	h.logger.Debug("stopping log follow")
	h.cancel()
	if err := h.conn.Close(); err != nil {
		h.logger.WithError(err).Debug("failed to close log connection")
	}
}

// Done is closed once the handle is terminal and the worker has exited.
func (h *LogHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle is terminal and returns the failure, if any.
func (h *LogHandle) Wait() error {
	<-h.done
	return h.err
}

func (h *LogHandle) run(ctx context.Context, conn *Connection) {
	h.metrics.followStarted()
	defer h.metrics.followEnded()

	executor := NewExecutor(conn, h.logger, h.metrics)
	err := executor.Execute(ctx, h.req, func(resp *http.Response) error {
		return followResponse(resp, h.fn)
	})

	conn.Close()

	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()

	final := StateCompleted
	if err != nil {
		final = StateFailed
	}
	if !h.state.CompareAndSwap(int32(StateStarted), int32(final)) {
		// Stop won the race; the read error it caused is not a failure.
		final = h.State()
		err = nil
	}

	h.err = err
	if err != nil {
		h.logger.WithError(err).Warn("log follow failed")
	}
	if h.onDone != nil {
		h.onDone(final, err)
	}
	close(h.done)
}
