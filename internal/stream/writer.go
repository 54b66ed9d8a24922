package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Writer emits SSE frames in the grammar Scan consumes.
// Call Init once before the first frame when writing to an HTTP response.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w. If w is an http.Flusher every frame is flushed
// immediately so the peer sees it without buffering.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Init sets the event-stream headers when the underlying writer is an
// http.ResponseWriter and flushes them.
func (sw *Writer) Init() {
	if rw, ok := sw.w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// WriteFrame marshals v and writes it as "data: <json>\n\n".
func (sw *Writer) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("stream: write frame: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Workflow writes a staged-generation frame.
func (sw *Writer) Workflow(event string, data WorkflowData) error {
	return sw.WriteFrame(WorkflowFrame{Event: event, Data: data})
}

// Chat writes a conversational frame.
func (sw *Writer) Chat(f ChatFrame) error {
	return sw.WriteFrame(f)
}
