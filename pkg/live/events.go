package live

import (
	"errors"

	"callguard/pkg/analysis"
)

// ErrSessionClosed is returned when sending on a closed session
var ErrSessionClosed = errors.New("live session closed")

// EventKind tags an inbound event
type EventKind int

const (
	EventOpened EventKind = iota
	EventToolCall
	EventTranscriptDelta
	EventTurnComplete
	EventStreamError
	EventStreamClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventToolCall:
		return "tool_call"
	case EventTranscriptDelta:
		return "transcript_delta"
	case EventTurnComplete:
		return "turn_complete"
	case EventStreamError:
		return "stream_error"
	case EventStreamClosed:
		return "stream_closed"
	default:
		return "unknown"
	}
}

// Event is one inbound occurrence on a live session. Calls is set for
// EventToolCall, Text for EventTranscriptDelta, Err for EventStreamError and
// optionally EventStreamClosed.
type Event struct {
	Kind  EventKind
	Calls []FunctionCall
	Text  string
	Err   error
}

// Acknowledge builds the response the model expects for a report call
func Acknowledge(call FunctionCall) FunctionResponse {
	return FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: map[string]interface{}{"result": analysis.ReportAcknowledgement},
	}
}
