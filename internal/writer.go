package internal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/docker/cli/cli/streams"
	"github.com/moby/term"
)

// Writer provides methods for output operations that library code needs.
// This allows callers to control where and how output is written, rather than
// forcing library code to use global state like fmt.Print or log.Fatal.
type Writer interface {
	// Print writes a message to the output stream.
	Print(v ...interface{})

	// Printf writes a formatted message to the output stream.
	Printf(format string, v ...interface{})

	// Println writes a message with a newline to the output stream.
	Println(v ...interface{})

	// Warning writes a warning message to the output stream.
	Warning(v ...interface{})

	// Warningf writes a formatted warning message to the output stream.
	Warningf(format string, v ...interface{})

	// Fatal writes an error message and signals a fatal error.
	// Implementation should handle cleanup and termination appropriately.
	Fatal(v ...interface{})

	// Fatalf writes a formatted error message and signals a fatal error.
	// Implementation should handle cleanup and termination appropriately.
	Fatalf(format string, v ...interface{})

	// GetWriter returns the underlying io.Writer for direct writing.
	GetWriter() io.Writer
}

// StandardWriter implements Writer using standard output/error streams.
type StandardWriter struct {
	out      io.Writer
	err      io.Writer
	terminal bool
}

// NewStandardWriter creates a Writer that outputs to stdout and stderr. The
// streams come from term.StdStreams so ANSI progress output also renders on
// Windows consoles.
func NewStandardWriter() *StandardWriter {
	_, stdout, stderr := term.StdStreams()
	out := streams.NewOut(stdout)

	return &StandardWriter{
		out:      out,
		err:      stderr,
		terminal: out.IsTerminal(),
	}
}

// NewCustomWriter creates a Writer with custom output streams.
// The out stream is used for normal output, while err is used for warnings and fatal errors.
func NewCustomWriter(out, err io.Writer) *StandardWriter {
	return &StandardWriter{
		out: out,
		err: err,
	}
}

// IsTerminal reports whether normal output goes to a terminal. Progress bars
// are only worth printing when it does.
func (w *StandardWriter) IsTerminal() bool {
	return w.terminal
}

// Print writes a message to the output stream without adding a newline.
func (w *StandardWriter) Print(v ...interface{}) {
	fmt.Fprint(w.out, v...)
}

// Printf writes a formatted message to the output stream.
func (w *StandardWriter) Printf(format string, v ...interface{}) {
	fmt.Fprintf(w.out, format, v...)
}

// Println writes a message with a newline to the output stream.
func (w *StandardWriter) Println(v ...interface{}) {
	fmt.Fprintln(w.out, v...)
}

// Warning writes a warning message to the error stream with a "Warning: " prefix.
func (w *StandardWriter) Warning(v ...interface{}) {
	fmt.Fprint(w.err, "Warning: ")
	fmt.Fprintln(w.err, v...)
}

// Warningf writes a formatted warning message to the error stream with a "Warning: " prefix.
func (w *StandardWriter) Warningf(format string, v ...interface{}) {
	fmt.Fprintf(w.err, "Warning: "+format+"\n", v...)
}

// Fatal writes an error message to the error stream and exits the program with status 1.
func (w *StandardWriter) Fatal(v ...interface{}) {
	fmt.Fprintln(w.err, v...)
	os.Exit(1)
}

// Fatalf writes a formatted error message to the error stream and exits the program with status 1.
func (w *StandardWriter) Fatalf(format string, v ...interface{}) {
	fmt.Fprintf(w.err, format+"\n", v...)
	os.Exit(1)
}

// GetWriter returns the underlying io.Writer for direct writing to the output stream.
func (w *StandardWriter) GetWriter() io.Writer {
	return w.out
}

// SyncWriter serializes calls to a Writer shared by concurrent operations.
type SyncWriter struct {
	mu sync.Mutex
	w  Writer
}

// NewSyncWriter wraps w so it can be used from several goroutines.
func NewSyncWriter(w Writer) *SyncWriter {
	if sw, ok := w.(*SyncWriter); ok {
		return sw
	}
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Print(v ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Print(v...)
}

func (s *SyncWriter) Printf(format string, v ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Printf(format, v...)
}

func (s *SyncWriter) Println(v ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Println(v...)
}

func (s *SyncWriter) Warning(v ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Warning(v...)
}

func (s *SyncWriter) Warningf(format string, v ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Warningf(format, v...)
}

func (s *SyncWriter) Fatal(v ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Fatal(v...)
}

func (s *SyncWriter) Fatalf(format string, v ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Fatalf(format, v...)
}

// GetWriter returns the wrapped writer's stream. Writes to it are not serialized.
func (s *SyncWriter) GetWriter() io.Writer {
	return s.w.GetWriter()
}

// IsTerminal reports whether the wrapped writer prints to a terminal.
func (s *SyncWriter) IsTerminal() bool {
	t, ok := s.w.(interface{ IsTerminal() bool })
	return ok && t.IsTerminal()
}
