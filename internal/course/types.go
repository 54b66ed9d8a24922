// Package course defines the course domain types and the contracts of the
// remote collaborator: the CRUD store, the conversation log and the
// streaming generator.
package course

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StageID identifies one of the three ordered generation stages.
type StageID int

const (
	StageOne   StageID = 1
	StageTwo   StageID = 2
	StageThree StageID = 3
)

// NumStages is the number of generation stages.
const NumStages = 3

// Stages lists every stage in dependency order.
var Stages = []StageID{StageOne, StageTwo, StageThree}

var stageNames = [...]string{
	"",
	"desired-results",
	"assessment-evidence",
	"learning-plan",
}

var stageSlugs = [...]string{"", "stage-one", "stage-two", "stage-three"}

// String returns the human-readable name of the stage.
func (s StageID) String() string {
	if s.Valid() {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Slug returns the URL path segment the REST surface uses for the stage.
func (s StageID) Slug() string {
	if s.Valid() {
		return stageSlugs[s]
	}
	return ""
}

// Valid reports whether s is one of the three known stages.
func (s StageID) Valid() bool { return s >= StageOne && s <= StageThree }

// ParseStage converts an integer to a StageID.
func ParseStage(n int) (StageID, error) {
	s := StageID(n)
	if !s.Valid() {
		return 0, fmt.Errorf("course: invalid stage %d", n)
	}
	return s, nil
}

// Info is the descriptive metadata of a course.
type Info struct {
	Title               string  `json:"title" yaml:"title"`
	Subject             string  `json:"subject,omitempty" yaml:"subject,omitempty"`
	GradeLevel          string  `json:"grade_level,omitempty" yaml:"gradeLevel,omitempty"`
	TotalClassHours     float64 `json:"total_class_hours,omitempty" yaml:"totalClassHours,omitempty"`
	ScheduleDescription string  `json:"schedule_description,omitempty" yaml:"scheduleDescription,omitempty"`
	DurationWeeks       int     `json:"duration_weeks,omitempty" yaml:"durationWeeks,omitempty"`
	Description         string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Course is the system-of-record view of a course and its stage contents.
type Course struct {
	ID string `json:"id"`
	Info
	StageOne   string    `json:"stage_one_data,omitempty"`
	StageTwo   string    `json:"stage_two_data,omitempty"`
	StageThree string    `json:"stage_three_data,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Content returns the stored markdown of stage s.
func (c *Course) Content(s StageID) string {
	switch s {
	case StageOne:
		return c.StageOne
	case StageTwo:
		return c.StageTwo
	case StageThree:
		return c.StageThree
	}
	return ""
}

// SetContent replaces the stored markdown of stage s.
func (c *Course) SetContent(s StageID, content string) {
	switch s {
	case StageOne:
		c.StageOne = content
	case StageTwo:
		c.StageTwo = content
	case StageThree:
		c.StageThree = content
	}
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a course conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Step      StageID   `json:"step,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds a message with a fresh ID and the current time.
func NewMessage(role Role, step StageID, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Step:      step,
		Timestamp: time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// ErrMissingUpstream is returned when a request targets a stage whose
// predecessor has no content.
var ErrMissingUpstream = errors.New("course: upstream stage content is required")

// WorkflowRequest describes one generation call. It is built once and never
// mutated afterwards.
type WorkflowRequest struct {
	Info
	CourseID         string    `json:"course_id,omitempty"`
	StagesToGenerate []StageID `json:"stages_to_generate"`
	StageOneData     string    `json:"stage_one_data,omitempty"`
	StageTwoData     string    `json:"stage_two_data,omitempty"`
	EditInstructions string    `json:"edit_instructions,omitempty"`
}

// Upstream returns the content the request carries for stage s.
func (r WorkflowRequest) Upstream(s StageID) string {
	switch s {
	case StageOne:
		return r.StageOneData
	case StageTwo:
		return r.StageTwoData
	}
	return ""
}

// Validate checks the target stages and that every stage beyond the first
// is accompanied by its predecessor's content.
func (r WorkflowRequest) Validate() error {
	if len(r.StagesToGenerate) == 0 {
		return errors.New("course: no stages to generate")
	}
	requested := make(map[StageID]bool, len(r.StagesToGenerate))
	for _, s := range r.StagesToGenerate {
		if !s.Valid() {
			return fmt.Errorf("course: invalid stage %d", int(s))
		}
		requested[s] = true
	}
	for _, s := range r.StagesToGenerate {
		if s == StageOne {
			continue
		}
		prev := s - 1
		if requested[prev] {
			continue
		}
		if r.Upstream(prev) == "" {
			return fmt.Errorf("%w: stage %d needs stage %d", ErrMissingUpstream, s, prev)
		}
	}
	return nil
}

// ChatRequest is one conversational turn sent to the generator. The
// generator reads the course and its stage contents from the store.
type ChatRequest struct {
	CourseID string    `json:"course_id"`
	Message  string    `json:"message"`
	Step     StageID   `json:"current_step"`
	History  []Message `json:"conversation_history"`
}
