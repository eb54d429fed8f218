package docker

import (
	"fmt"
	"strings"

	"github.com/ryanmoran/dockwire/internal"
	"github.com/ryanmoran/dockwire/internal/engine"
)

// StreamError is a failure the daemon reported inside a progress stream after
// it had already answered 200.
type StreamError struct {
	Code    int
	Message string
}

func (e *StreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

// progressMessage is one document of a build, pull or push stream.
type progressMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	ID          string `json:"id"`
	Progress    string `json:"progress"`
	Error       string `json:"error"`
	ErrorDetail *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux *struct {
		ID string `json:"ID"`
	} `json:"aux"`
}

func (m progressMessage) err() error {
	if m.ErrorDetail != nil && m.ErrorDetail.Message != "" {
		return &StreamError{Code: m.ErrorDetail.Code, Message: m.ErrorDetail.Message}
	}
	if m.Error != "" {
		return &StreamError{Message: m.Error}
	}
	return nil
}

// printProgress renders stream documents to w and stops at the first reported
// error. Progress bars are only printed when w is a terminal. onAux receives
// image IDs from aux documents and may be nil.
func printProgress(w internal.Writer, onAux func(id string)) engine.EventFunc {
	terminal := false
	if t, ok := w.(interface{ IsTerminal() bool }); ok {
		terminal = t.IsTerminal()
	}

	return func(event engine.Event) error {
		var message progressMessage
		if err := event.Decode(&message); err != nil {
			return fmt.Errorf("failed to decode progress message %d: %w\nDocker may have returned malformed JSON", event.Index, err)
		}

		if err := message.err(); err != nil {
			return err
		}

		if message.Aux != nil && message.Aux.ID != "" && onAux != nil {
			onAux(message.Aux.ID)
		}

		switch {
		case message.Stream != "":
			w.Print(message.Stream)
		case message.Status != "":
			var line strings.Builder
			if message.ID != "" {
				line.WriteString(message.ID + ": ")
			}
			line.WriteString(message.Status)
			if terminal && message.Progress != "" {
				line.WriteString(" " + message.Progress)
			}
			w.Println(line.String())
		}

		return nil
	}
}
