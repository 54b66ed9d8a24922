package orchestrator

import (
	"sync"
	"time"

	"github.com/dusk-indust/coursegen/internal/course"
)

// Status is the lifecycle state of one stage.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusEditing    Status = "editing"
	StatusError      Status = "error"
)

// Record is the observable state of one stage.
type Record struct {
	Stage        course.StageID `json:"stage"`
	Status       Status         `json:"status"`
	Content      string         `json:"content,omitempty"`
	Progress     int            `json:"progress"` // 0-100
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Version      time.Time      `json:"version"`
}

// Repository holds the three stage records. It is passed explicitly to the
// components that need it; each Controller is the only mutator of its own
// stage's record, everything else reads.
type Repository struct {
	mu       sync.RWMutex
	records  [course.NumStages + 1]Record
	reporter *ProgressReporter
	now      func() time.Time
}

// NewRepository returns a repository with every stage pending. reporter may
// be nil.
func NewRepository(reporter *ProgressReporter) *Repository {
	r := &Repository{reporter: reporter, now: time.Now}
	for _, s := range course.Stages {
		r.records[s] = Record{Stage: s, Status: StatusPending}
	}
	return r
}

// Get returns a copy of the record for stage.
func (r *Repository) Get(stage course.StageID) Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[stage]
}

// Content returns the committed content of stage.
func (r *Repository) Content(stage course.StageID) string {
	return r.Get(stage).Content
}

// All returns copies of every record in stage order.
func (r *Repository) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(course.Stages))
	for _, s := range course.Stages {
		out = append(out, r.records[s])
	}
	return out
}

// Update applies fn to the record of stage under the write lock. When bump
// is true the version is advanced after fn runs. The resulting record is
// published to the progress reporter and returned.
func (r *Repository) Update(stage course.StageID, bump bool, fn func(*Record)) Record {
	r.mu.Lock()
	rec := &r.records[stage]
	fn(rec)
	if bump {
		rec.Version = r.nextVersion(rec.Version)
	}
	out := *rec
	r.mu.Unlock()

	if r.reporter != nil {
		r.reporter.Emit(ProgressEvent{
			Stage:    out.Stage,
			Status:   out.Status,
			Progress: out.Progress,
			Message:  out.ErrorMessage,
		})
	}
	return out
}

// Hydrate replaces the records with content loaded from the store. Stages
// with content become completed; the rest become pending.
func (r *Repository) Hydrate(c *course.Course) {
	r.mu.Lock()
	for _, s := range course.Stages {
		content := c.Content(s)
		rec := Record{Stage: s, Status: StatusPending}
		if content != "" {
			rec.Status = StatusCompleted
			rec.Content = content
			rec.Progress = 100
			rec.Version = c.UpdatedAt
		}
		r.records[s] = rec
	}
	r.mu.Unlock()
}

// nextVersion returns a timestamp strictly after prev.
func (r *Repository) nextVersion(prev time.Time) time.Time {
	v := r.now()
	if !v.After(prev) {
		v = prev.Add(time.Nanosecond)
	}
	return v
}
