package mcptools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/orchestrator"
	"github.com/dusk-indust/coursegen/internal/status"
)

// CourseService handles MCP tool calls against one course session.
// Generations started without wait outlive the tool call; they are bound
// to the context the service was created with.
type CourseService struct {
	session *orchestrator.Session
	base    context.Context

	mu      sync.Mutex
	handoff *orchestrator.Handoff
}

// NewCourseService creates a CourseService over session. It registers
// itself as the session's chat handoff handler so send_chat can report
// regenerate requests to the caller instead of acting on them.
func NewCourseService(ctx context.Context, session *orchestrator.Session) *CourseService {
	s := &CourseService{session: session, base: ctx}
	session.Chat().OnHandoff(s.recordHandoff)
	return s
}

func (s *CourseService) recordHandoff(h orchestrator.Handoff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoff = &h
}

func (s *CourseService) takeHandoff() *orchestrator.Handoff {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handoff
	s.handoff = nil
	return h
}

func parseStage(n int) (course.StageID, error) {
	st, err := course.ParseStage(n)
	if err != nil {
		return 0, fmt.Errorf("stage must be 1-3, got %d", n)
	}
	return st, nil
}

// StartStage begins generating a stage, optionally waiting for it to
// finish. Generation failures are reported in the output, not as errors.
func (s *CourseService) StartStage(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StartStageInput,
) (*mcp.CallToolResult, StartStageOutput, error) {
	st, err := parseStage(input.Stage)
	if err != nil {
		return nil, StartStageOutput{Stage: input.Stage, Status: "failed", Message: err.Error()}, err
	}

	if err := s.session.StartWithInstructions(s.base, st, input.Instructions); err != nil {
		var dep *orchestrator.DependencyError
		if errors.As(err, &dep) {
			return nil, StartStageOutput{Stage: input.Stage, Status: "blocked", Message: err.Error()}, nil
		}
		return nil, StartStageOutput{}, err
	}
	if !input.Wait {
		return nil, StartStageOutput{Stage: input.Stage, Status: string(orchestrator.StatusGenerating)}, nil
	}

	out := StartStageOutput{Stage: input.Stage}
	if err := s.session.Wait(ctx, st); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, StartStageOutput{}, err
		}
		out.Message = err.Error()
	}
	rec := s.session.Record(st)
	out.Status = string(rec.Status)
	if rec.Status == orchestrator.StatusCompleted {
		out.Content = rec.Content
	}
	if rec.ErrorMessage != "" {
		out.Message = rec.ErrorMessage
	}
	return nil, out, nil
}

// AbortStage cancels a running generation and reports the restored status.
func (s *CourseService) AbortStage(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input AbortStageInput,
) (*mcp.CallToolResult, AbortStageOutput, error) {
	st, err := parseStage(input.Stage)
	if err != nil {
		return nil, AbortStageOutput{}, err
	}
	aborted := s.session.Abort(st)
	return nil, AbortStageOutput{
		Stage:   input.Stage,
		Aborted: aborted,
		Status:  string(s.session.Record(st).Status),
	}, nil
}

// EditStage replaces the content of a completed stage. The remote write
// happens after the debounce delay or on save_stage.
func (s *CourseService) EditStage(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input EditStageInput,
) (*mcp.CallToolResult, EditStageOutput, error) {
	st, err := parseStage(input.Stage)
	if err != nil {
		return nil, EditStageOutput{}, err
	}
	if err := s.session.Edit(st, input.Content); err != nil {
		return nil, EditStageOutput{}, err
	}
	return nil, EditStageOutput{
		Stage:  input.Stage,
		Status: string(s.session.Record(st).Status),
		Dirty:  s.session.SaveState(st).Dirty,
	}, nil
}

// SaveStage writes the pending edit and lists the stages it made stale.
func (s *CourseService) SaveStage(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SaveStageInput,
) (*mcp.CallToolResult, SaveStageOutput, error) {
	st, err := parseStage(input.Stage)
	if err != nil {
		return nil, SaveStageOutput{}, err
	}
	notice, err := s.session.Save(ctx, st)
	if err != nil {
		return nil, SaveStageOutput{}, err
	}
	out := SaveStageOutput{Stage: input.Stage, Status: string(s.session.Record(st).Status)}
	if notice != nil {
		out.AffectedStages = stageInts(notice.AffectedStages)
	}
	return nil, out, nil
}

// GetStatus reports the state of every stage and what to do next.
func (s *CourseService) GetStatus(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ GetStatusInput,
) (*mcp.CallToolResult, GetStatusOutput, error) {
	snap := s.session.Snapshot()
	cs := status.FromSnapshot(snap)

	out := GetStatusOutput{
		CourseID:  cs.CourseID,
		Title:     cs.Title,
		NextStage: int(cs.NextStage),
		Lines:     status.Render(cs),
	}
	for _, si := range cs.Stages {
		out.Stages = append(out.Stages, StageStatus{
			Stage:    int(si.Stage),
			Name:     si.Name,
			Status:   string(si.Status),
			Progress: si.Progress,
			Dirty:    si.Dirty,
			Saving:   si.Saving,
			Error:    si.ErrorMessage,
		})
	}
	if snap.Notice != nil {
		out.Notice = &NoticeView{
			ChangedStage:   int(snap.Notice.ChangedStage),
			AffectedStages: stageInts(snap.Notice.AffectedStages),
		}
	}
	return nil, out, nil
}

// ResolveChange answers the pending change notice. A regenerate blocks
// until the cascade finishes.
func (s *CourseService) ResolveChange(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ResolveChangeInput,
) (*mcp.CallToolResult, ResolveChangeOutput, error) {
	d := orchestrator.Decision{Resolution: orchestrator.Resolution(input.Resolution)}
	for _, n := range input.Stages {
		st, err := parseStage(n)
		if err != nil {
			return nil, ResolveChangeOutput{}, err
		}
		d.Stages = append(d.Stages, st)
	}

	var regenerated []int
	if d.Resolution == orchestrator.ResolveRegenerate {
		if n := s.session.Notice(); n != nil {
			regenerated = stageInts(n.AffectedStages)
			if len(d.Stages) > 0 {
				regenerated = stageInts(d.Stages)
			}
		}
	}

	if err := s.session.ResolveChange(ctx, d); err != nil {
		return nil, ResolveChangeOutput{}, err
	}
	return nil, ResolveChangeOutput{Resolution: input.Resolution, Regenerated: regenerated}, nil
}

// SendChat sends a message to the assistant and waits for the reply.
func (s *CourseService) SendChat(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SendChatInput,
) (*mcp.CallToolResult, SendChatOutput, error) {
	chat := s.session.Chat()
	s.takeHandoff()

	if err := chat.Send(ctx, course.StageID(input.Step), input.Message); err != nil {
		return nil, SendChatOutput{}, err
	}
	if err := chat.Wait(ctx); err != nil {
		return nil, SendChatOutput{}, err
	}

	var out SendChatOutput
	msgs := chat.Messages()
	if n := len(msgs); n > 0 && msgs[n-1].Role == course.RoleAssistant {
		out.Reply = msgs[n-1].Content
	}
	if h := s.takeHandoff(); h != nil {
		out.Handoff = &HandoffView{Stage: int(h.Stage), Instructions: h.Instructions}
	}
	return nil, out, nil
}

func stageInts(stages []course.StageID) []int {
	out := make([]int, len(stages))
	for i, s := range stages {
		out[i] = int(s)
	}
	return out
}
