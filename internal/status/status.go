package status

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/orchestrator"
)

// StageInfo describes the state of a single stage.
type StageInfo struct {
	Stage        course.StageID
	Name         string // human-readable name (e.g. "Desired Results")
	Slug         string // route slug (e.g. "stage-one")
	Status       orchestrator.Status
	Progress     int
	HasContent   bool
	Dirty        bool
	Saving       bool
	ErrorMessage string
}

// CourseStatus holds the status of one course.
type CourseStatus struct {
	CourseID  string
	Title     string
	Stages    []StageInfo
	Notice    *orchestrator.ChangeNotice
	NextStage course.StageID // 0 if nothing can be generated next
}

var stageLabels = [course.NumStages + 1]string{
	"",
	"Desired Results",
	"Assessment Evidence",
	"Learning Plan",
}

// Label returns the human-readable name of stage.
func Label(stage course.StageID) string {
	if !stage.Valid() {
		return fmt.Sprintf("Stage %d", int(stage))
	}
	return stageLabels[stage]
}

// FromCourse derives the status of a stored course. Stages with content
// are completed, the rest pending.
func FromCourse(c *course.Course) CourseStatus {
	cs := CourseStatus{CourseID: c.ID, Title: c.Title}
	for _, s := range course.Stages {
		info := StageInfo{
			Stage:  s,
			Name:   Label(s),
			Slug:   s.Slug(),
			Status: orchestrator.StatusPending,
		}
		if c.Content(s) != "" {
			info.Status = orchestrator.StatusCompleted
			info.Progress = 100
			info.HasContent = true
		}
		cs.Stages = append(cs.Stages, info)
	}
	cs.NextStage = NextStage(cs.Stages)
	return cs
}

// FromSnapshot derives the status of a live session.
func FromSnapshot(snap orchestrator.Snapshot) CourseStatus {
	cs := CourseStatus{CourseID: snap.CourseID, Title: snap.Title, Notice: snap.Notice}
	for _, v := range snap.Stages {
		cs.Stages = append(cs.Stages, StageInfo{
			Stage:        v.Stage,
			Name:         Label(v.Stage),
			Slug:         v.Stage.Slug(),
			Status:       v.Status,
			Progress:     v.Progress,
			HasContent:   v.Content != "",
			Dirty:        v.Dirty,
			Saving:       v.Saving,
			ErrorMessage: v.ErrorMessage,
		})
	}
	cs.NextStage = NextStage(cs.Stages)
	return cs
}

// NextStage returns the first stage without content whose upstream stage
// has content, or 0 if every stage has content.
func NextStage(stages []StageInfo) course.StageID {
	has := make(map[course.StageID]bool, len(stages))
	for _, s := range stages {
		has[s.Stage] = s.HasContent
	}
	for _, s := range course.Stages {
		if has[s] {
			continue
		}
		if u, ok := orchestrator.Upstream(s); ok && !has[u] {
			return 0
		}
		return s
	}
	return 0
}

var statusMarks = map[orchestrator.Status]string{
	orchestrator.StatusPending:    "○",
	orchestrator.StatusGenerating: "●",
	orchestrator.StatusCompleted:  "✓",
	orchestrator.StatusEditing:    "✎",
	orchestrator.StatusError:      "✗",
}

// Render formats cs as display lines.
func Render(cs CourseStatus) []string {
	title := cs.Title
	if title == "" {
		title = "(untitled)"
	}
	lines := []string{fmt.Sprintf("%s [%s]", title, cs.CourseID)}

	for _, s := range cs.Stages {
		mark, ok := statusMarks[s.Status]
		if !ok {
			mark = "?"
		}
		line := fmt.Sprintf("  %s Stage %d: %-20s %-10s", mark, int(s.Stage), s.Name, s.Status)
		if s.Status == orchestrator.StatusGenerating {
			line += fmt.Sprintf(" %3d%%", s.Progress)
		}
		var badges []string
		if s.Saving {
			badges = append(badges, "saving")
		} else if s.Dirty {
			badges = append(badges, "unsaved")
		}
		if s.ErrorMessage != "" && s.Status == orchestrator.StatusError {
			badges = append(badges, s.ErrorMessage)
		}
		if len(badges) > 0 {
			line += " (" + strings.Join(badges, ", ") + ")"
		}
		lines = append(lines, strings.TrimRight(line, " "))
	}

	if n := cs.Notice; n != nil {
		affected := make([]string, len(n.AffectedStages))
		for i, s := range n.AffectedStages {
			affected[i] = fmt.Sprintf("%d", int(s))
		}
		lines = append(lines, fmt.Sprintf("  ! stage %d changed; stages %s may be stale",
			int(n.ChangedStage), strings.Join(affected, ", ")))
	}
	if cs.NextStage != 0 {
		lines = append(lines, fmt.Sprintf("  next: stage %d (%s)", int(cs.NextStage), Label(cs.NextStage)))
	} else if allComplete(cs.Stages) {
		lines = append(lines, "  all stages complete")
	}
	return lines
}

func allComplete(stages []StageInfo) bool {
	for _, s := range stages {
		if !s.HasContent {
			return false
		}
	}
	return len(stages) > 0
}
