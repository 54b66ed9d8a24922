// Package store provides implementations of the course CRUD and
// conversation contracts.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/coursegen/internal/course"
)

// Compile-time interface checks.
var (
	_ course.Store         = (*MemStore)(nil)
	_ course.Conversations = (*MemStore)(nil)
)

// MemStore is a concurrency-safe in-memory course store. Courses are kept in
// a map keyed by ID with a separate slice maintaining insertion order for
// deterministic listing.
type MemStore struct {
	mu       sync.RWMutex
	courses  map[string]*course.Course
	messages map[string][]course.Message
	orderIDs []string

	now func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		courses:  make(map[string]*course.Course),
		messages: make(map[string][]course.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new course under a fresh UUID.
func (s *MemStore) Create(_ context.Context, info course.Info) (*course.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	c := &course.Course{ID: uuid.NewString(), Info: info, CreatedAt: ts, UpdatedAt: ts}
	s.courses[c.ID] = c
	s.orderIDs = append(s.orderIDs, c.ID)
	cp := *c
	return &cp, nil
}

// Get returns a copy of the course. The copy is safe to mutate.
func (s *MemStore) Get(_ context.Context, id string) (*course.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *c
	return &cp, nil
}

// List returns courses in insertion order.
func (s *MemStore) List(_ context.Context, skip, limit int) ([]course.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if skip < 0 {
		skip = 0
	}
	out := make([]course.Course, 0)
	for i := skip; i < len(s.orderIDs); i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, *s.courses[s.orderIDs[i]])
	}
	return out, nil
}

// UpdateStage replaces one stage's content and bumps UpdatedAt.
func (s *MemStore) UpdateStage(_ context.Context, id string, stage course.StageID, content string) error {
	if !stage.Valid() {
		return fmt.Errorf("store: invalid stage %d", int(stage))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.courses[id]
	if !ok {
		return notFound(id)
	}
	c.SetContent(stage, content)
	c.UpdatedAt = s.now()
	return nil
}

// Delete removes a course and its conversation.
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.courses[id]; !ok {
		return notFound(id)
	}
	delete(s.courses, id)
	delete(s.messages, id)
	for i, oid := range s.orderIDs {
		if oid == id {
			s.orderIDs = append(s.orderIDs[:i], s.orderIDs[i+1:]...)
			break
		}
	}
	return nil
}

// AppendMessages adds messages to a course conversation.
func (s *MemStore) AppendMessages(_ context.Context, courseID string, msgs ...course.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.courses[courseID]; !ok {
		return notFound(courseID)
	}
	s.messages[courseID] = append(s.messages[courseID], msgs...)
	return nil
}

// Messages returns a copy of the conversation.
func (s *MemStore) Messages(_ context.Context, courseID string) ([]course.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.courses[courseID]; !ok {
		return nil, notFound(courseID)
	}
	out := make([]course.Message, len(s.messages[courseID]))
	copy(out, s.messages[courseID])
	return out, nil
}

// ClearMessages deletes the conversation of a course.
func (s *MemStore) ClearMessages(_ context.Context, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.courses[courseID]; !ok {
		return notFound(courseID)
	}
	delete(s.messages, courseID)
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %q", course.ErrNotFound, id)
}
