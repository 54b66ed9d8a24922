package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the Event union.
type Kind string

const (
	KindStart         Kind = "start"
	KindProgress      Kind = "progress"
	KindChunk         Kind = "chunk"
	KindStageComplete Kind = "stage_complete"
	KindError         Kind = "error"
	KindDone          Kind = "done"
	KindArtifact      Kind = "artifact"
)

// Event is one decoded frame. Only the fields relevant to Kind are set.
//
// Err is never produced by a decoder. ReadEvents sets it on the final
// event it delivers when the transport failed mid-stream.
type Event struct {
	Kind         Kind
	Stage        int     // 0 when the frame names no stage
	Progress     float64 // fraction in [0, 1]
	Text         string  // chunk text, or the finished markdown of a stage
	Message      string
	Action       string
	Instructions string
	Err          error
}

// IsTerminal reports whether the event ends a generation.
func (e Event) IsTerminal() bool {
	switch e.Kind {
	case KindStageComplete, KindError, KindDone:
		return true
	}
	return false
}

// Decoder turns one frame payload into an Event.
type Decoder func(payload []byte) (Event, error)

// ErrUnknownEvent is returned by the decoders for a well-formed frame whose
// discriminator is not recognised.
var ErrUnknownEvent = errors.New("stream: unknown event")

// ---------------------------------------------------------------------------
// Wire frames
// ---------------------------------------------------------------------------

// WorkflowFrame is the wire shape of a staged-generation frame.
type WorkflowFrame struct {
	Event string       `json:"event"`
	Data  WorkflowData `json:"data"`
}

// WorkflowData carries the per-event payload of a WorkflowFrame.
type WorkflowData struct {
	Stage    int     `json:"stage,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Markdown string  `json:"markdown,omitempty"`
	Content  string  `json:"content,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// ChatFrame is the wire shape of a conversational frame.
type ChatFrame struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	Message      string `json:"message,omitempty"`
	Action       string `json:"action,omitempty"`
	Stage        int    `json:"stage,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// ---------------------------------------------------------------------------
// Decoders
// ---------------------------------------------------------------------------

// DecodeWorkflow decodes a staged-generation frame. The backend reports
// progress either as a fraction or as a percentage; both are normalised to
// a fraction.
func DecodeWorkflow(payload []byte) (Event, error) {
	var f WorkflowFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Event{}, fmt.Errorf("stream: decode workflow frame: %w", err)
	}
	ev := Event{Stage: f.Data.Stage, Message: f.Data.Message}
	switch f.Event {
	case "start":
		ev.Kind = KindStart
	case "progress":
		ev.Kind = KindProgress
		ev.Progress = NormalizeProgress(f.Data.Progress)
	case "chunk":
		ev.Kind = KindChunk
		ev.Text = f.Data.Content
	case "stage_complete":
		ev.Kind = KindStageComplete
		ev.Text = f.Data.Markdown
	case "error":
		ev.Kind = KindError
	case "complete", "done":
		ev.Kind = KindDone
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	return ev, nil
}

// DecodeChat decodes a conversational frame.
func DecodeChat(payload []byte) (Event, error) {
	var f ChatFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Event{}, fmt.Errorf("stream: decode chat frame: %w", err)
	}
	ev := Event{Message: f.Message}
	switch f.Type {
	case "start":
		ev.Kind = KindStart
	case "chunk":
		ev.Kind = KindChunk
		ev.Text = f.Content
	case "done":
		ev.Kind = KindDone
	case "error":
		ev.Kind = KindError
	case "artifact":
		ev.Kind = KindArtifact
		ev.Action = f.Action
		ev.Stage = f.Stage
		ev.Instructions = f.Instructions
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}
	return ev, nil
}

// NormalizeProgress maps a percentage or fraction to a fraction clamped to
// [0, 1]. Values above 1 are read as percentages.
func NormalizeProgress(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
