package export

import (
	"time"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/orchestrator"
	"github.com/dusk-indust/coursegen/internal/status"
)

// CourseExport is the top-level JSON export structure.
type CourseExport struct {
	CourseID     string                     `json:"courseId"`
	Title        string                     `json:"title"`
	ExportedAt   string                     `json:"exportedAt"`
	Stages       []StageExport              `json:"stages"`
	ChangeNotice *orchestrator.ChangeNotice `json:"changeNotice,omitempty"`
	Messages     []course.Message           `json:"messages,omitempty"`
}

// StageExport describes one stage.
type StageExport struct {
	Stage    int    `json:"stage"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Dirty    bool   `json:"isDirty,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

// ExportSnapshot builds a CourseExport from a live session snapshot.
func ExportSnapshot(snap orchestrator.Snapshot, messages []course.Message, now time.Time) *CourseExport {
	out := &CourseExport{
		CourseID:     snap.CourseID,
		Title:        snap.Title,
		ExportedAt:   now.UTC().Format(time.RFC3339),
		ChangeNotice: snap.Notice,
		Messages:     messages,
	}
	for _, v := range snap.Stages {
		se := StageExport{
			Stage:    int(v.Stage),
			Name:     status.Label(v.Stage),
			Slug:     v.Stage.Slug(),
			Status:   string(v.Status),
			Dirty:    v.Dirty,
			Markdown: v.Content,
		}
		if !v.Version.IsZero() {
			se.Version = v.Version.UTC().Format(time.RFC3339Nano)
		}
		out.Stages = append(out.Stages, se)
	}
	return out
}

// ExportCourse builds a CourseExport from a stored course.
func ExportCourse(c *course.Course, messages []course.Message, now time.Time) *CourseExport {
	out := &CourseExport{
		CourseID:   c.ID,
		Title:      c.Title,
		ExportedAt: now.UTC().Format(time.RFC3339),
		Messages:   messages,
	}
	for _, s := range status.FromCourse(c).Stages {
		out.Stages = append(out.Stages, StageExport{
			Stage:    int(s.Stage),
			Name:     s.Name,
			Slug:     s.Slug,
			Status:   string(s.Status),
			Markdown: c.Content(s.Stage),
		})
	}
	return out
}
