package orchestrator

import (
	"fmt"
	"sync"

	"github.com/dusk-indust/coursegen/internal/course"
)

// ProgressEvent is emitted whenever a stage record changes.
type ProgressEvent struct {
	Stage    course.StageID
	Status   Status
	Progress int
	Message  string
}

// ProgressReporter emits progress events through a buffered channel.
type ProgressReporter struct {
	mu     sync.RWMutex
	ch     chan ProgressEvent
	closed bool
}

// NewProgressReporter creates a ProgressReporter with a buffered channel of size 64.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		ch: make(chan ProgressEvent, 64),
	}
}

// Emit sends a progress event in a non-blocking fashion.
// If the channel is full or closed, the event is silently dropped.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	if pr.closed {
		return
	}
	select {
	case pr.ch <- event:
	default:
	}
}

// Subscribe returns a read-only channel for consuming progress events.
func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent {
	return pr.ch
}

// Close closes the progress event channel. Later calls are no-ops.
func (pr *ProgressReporter) Close() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if !pr.closed {
		pr.closed = true
		close(pr.ch)
	}
}

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	switch event.Status {
	case StatusPending:
		return fmt.Sprintf("  ○ %s (pending)", event.Stage)
	case StatusGenerating:
		return fmt.Sprintf("  ● %s... %d%%", event.Stage, event.Progress)
	case StatusCompleted:
		return fmt.Sprintf("  ✓ %s complete", event.Stage)
	case StatusEditing:
		return fmt.Sprintf("  ✎ %s (editing)", event.Stage)
	case StatusError:
		return fmt.Sprintf("  ✗ %s failed: %s", event.Stage, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", event.Stage)
	}
}

// FormatStageHeader formats a stage header for display.
// Returns: "[{title}] Stage {N}: {stage.String()}"
func FormatStageHeader(title string, stage course.StageID) string {
	return fmt.Sprintf("[%s] Stage %d: %s", title, int(stage), stage.String())
}
