package export

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/status"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// FileName returns the export file name for a course title, e.g.
// "Intro to Biology" → "intro-to-biology-ubd.md".
func FileName(title string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		slug = "course"
	}
	return slug + "-ubd.md"
}

// Markdown renders a course as a single Understanding by Design document:
// a title block followed by one section per stage. Stages without content
// are marked as not yet generated.
func Markdown(c *course.Course) string {
	var sb strings.Builder
	title := c.Title
	if title == "" {
		title = "Untitled course"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)

	meta := [][2]string{
		{"Subject", c.Subject},
		{"Grade level", c.GradeLevel},
		{"Schedule", c.ScheduleDescription},
	}
	if c.DurationWeeks > 0 {
		meta = append(meta, [2]string{"Duration", fmt.Sprintf("%d weeks", c.DurationWeeks)})
	}
	if c.TotalClassHours > 0 {
		meta = append(meta, [2]string{"Class hours", fmt.Sprintf("%g", c.TotalClassHours)})
	}
	wrote := false
	for _, m := range meta {
		if m[1] == "" {
			continue
		}
		fmt.Fprintf(&sb, "- **%s:** %s\n", m[0], m[1])
		wrote = true
	}
	if wrote {
		sb.WriteString("\n")
	}
	if c.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", strings.TrimSpace(c.Description))
	}

	for _, s := range course.Stages {
		fmt.Fprintf(&sb, "---\n\n## Stage %d: %s\n\n", int(s), status.Label(s))
		content := strings.TrimSpace(c.Content(s))
		if content == "" {
			sb.WriteString("_Not generated yet._\n\n")
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}
