package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_HeadersAndFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	w.Init()

	require.NoError(t, w.Workflow("progress", WorkflowData{Stage: 1, Progress: 50}))
	require.NoError(t, w.Workflow("stage_complete", WorkflowData{Stage: 1, Markdown: "line one\n\nline two"}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "data: {"))

	// Blank lines inside the markdown are escaped by JSON, so framing holds.
	var got []Event
	err := Scan(context.Background(), strings.NewReader(rec.Body.String()), DecodeWorkflow, func(ev Event) bool {
		got = append(got, ev)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.5, got[0].Progress, 1e-9)
	assert.Equal(t, "line one\n\nline two", got[1].Text)
}

func TestWriter_Chat(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb)
	require.NoError(t, w.Chat(ChatFrame{Type: "chunk", Content: "hi"}))
	assert.Equal(t, "data: {\"type\":\"chunk\",\"content\":\"hi\"}\n\n", sb.String())
}
