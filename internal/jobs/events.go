package jobs

import (
	"encoding/json"

	"github.com/alecthomas/errors"
)

// Event is the tagged union appended to a job's ring and streamed to
// subscribers. Consumers type-switch on the concrete variant; on the wire
// each variant carries a "type" tag.
type Event interface {
	eventType() string
}

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LogEvent is one complete output line from the job's child process,
// without its trailing newline.
type LogEvent struct {
	Stream Stream `json:"stream"`
	Line   string `json:"line"`
}

// ProgressEvent reports coarse progress from a known tool.
type ProgressEvent struct {
	Kind    string   `json:"kind"`
	Percent *float64 `json:"percent,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

// StateEvent records a state transition. Once a job is terminal, its last
// ring event is always the matching StateEvent.
type StateEvent struct {
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
}

func (LogEvent) eventType() string      { return "log" }
func (ProgressEvent) eventType() string { return "progress" }
func (StateEvent) eventType() string    { return "state" }

// MarshalEvent encodes an event with its type tag, e.g.
// {"type":"log","stream":"stdout","line":"..."}.
func MarshalEvent(event Event) ([]byte, error) {
	var payload any
	switch e := event.(type) {
	case LogEvent:
		payload = struct {
			Type string `json:"type"`
			LogEvent
		}{e.eventType(), e}
	case ProgressEvent:
		payload = struct {
			Type string `json:"type"`
			ProgressEvent
		}{e.eventType(), e}
	case StateEvent:
		payload = struct {
			Type string `json:"type"`
			StateEvent
		}{e.eventType(), e}
	default:
		return nil, errors.Errorf("unknown event type %T", event)
	}
	data, err := json.Marshal(payload)
	return data, errors.Wrap(err, "encode event")
}

// terminalEvent reports whether the event closes a subscription.
func terminalEvent(event Event) bool {
	state, ok := event.(StateEvent)
	return ok && state.State.Terminal()
}
