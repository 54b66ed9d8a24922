package course

import (
	"context"
	"io"
)

// Store is the CRUD contract of the system of record. Implementations must
// be safe for concurrent use.
type Store interface {
	// Create stores a new course and returns it with its assigned ID.
	Create(ctx context.Context, info Info) (*Course, error)

	// Get returns the course with the given ID, or an error wrapping
	// ErrNotFound.
	Get(ctx context.Context, id string) (*Course, error)

	// List returns courses in creation order. limit <= 0 means no limit.
	List(ctx context.Context, skip, limit int) ([]Course, error)

	// UpdateStage replaces the content of one stage.
	UpdateStage(ctx context.Context, id string, stage StageID, content string) error

	// Delete removes a course and its conversation.
	Delete(ctx context.Context, id string) error
}

// Conversations persists the chat log of a course.
type Conversations interface {
	AppendMessages(ctx context.Context, courseID string, msgs ...Message) error
	Messages(ctx context.Context, courseID string) ([]Message, error)
	ClearMessages(ctx context.Context, courseID string) error
}

// Generator opens generation streams. The returned body carries SSE frames
// and must be closed by the caller; canceling ctx aborts the request.
type Generator interface {
	StreamWorkflow(ctx context.Context, req WorkflowRequest) (io.ReadCloser, error)
	StreamChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
}
