package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/status"
	"github.com/dusk-indust/coursegen/internal/stream"
)

// regenerateRe matches chat messages that ask for a stage to be redone,
// e.g. "regenerate stage 2: add peer review".
var regenerateRe = regexp.MustCompile(`(?i)^\s*regenerate\s+stage\s+([1-3])\s*:\s*(.+?)\s*$`)

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	var req course.WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	sw := stream.NewWriter(w)
	sw.Init()
	ctx := r.Context()
	log := s.logger.With("course", req.CourseID, "stages", req.StagesToGenerate)
	log.Info("workflow stream opened")

	frames := s.workflowScript(req)
	for _, f := range frames {
		if !s.pause(ctx) {
			log.Info("workflow stream canceled by client")
			return
		}
		if err := sw.WriteFrame(f); err != nil {
			log.Warn("workflow stream write failed", "error", err)
			return
		}
	}
}

// workflowScript builds the frames of one workflow stream. Later stages see
// the content generated for earlier ones in the same request.
func (s *Server) workflowScript(req course.WorkflowRequest) []stream.WorkflowFrame {
	frames := []stream.WorkflowFrame{{Event: "start", Data: stream.WorkflowData{Message: "Starting course generation"}}}
	generated := map[course.StageID]string{}
	upstream := func(st course.StageID) string {
		if v, ok := generated[st]; ok {
			return v
		}
		return req.Upstream(st)
	}

	for _, st := range course.Stages {
		if !slices.Contains(req.StagesToGenerate, st) {
			continue
		}
		n := int(st)
		for _, pct := range []float64{25, 50, 75} {
			frames = append(frames, stream.WorkflowFrame{Event: "progress", Data: stream.WorkflowData{
				Stage:    n,
				Progress: pct,
				Message:  fmt.Sprintf("Generating %s", status.Label(st)),
			}})
		}
		if st == s.failStage {
			frames = append(frames, stream.WorkflowFrame{Event: "error", Data: stream.WorkflowData{
				Stage:   n,
				Message: fmt.Sprintf("generation of stage %d failed", n),
			}})
			return frames
		}
		content := StageContent(st, req.Info, upstream(st-1), req.EditInstructions)
		for _, chunk := range splitChunks(content, 64) {
			frames = append(frames, stream.WorkflowFrame{Event: "chunk", Data: stream.WorkflowData{Stage: n, Content: chunk}})
		}
		frames = append(frames, stream.WorkflowFrame{Event: "stage_complete", Data: stream.WorkflowData{
			Stage:    n,
			Progress: 100,
			Markdown: content,
		}})
		generated[st] = content
	}
	return append(frames, stream.WorkflowFrame{Event: "complete", Data: stream.WorkflowData{Message: "Generation complete"}})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req course.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	sw := stream.NewWriter(w)
	sw.Init()
	ctx := r.Context()

	for _, f := range s.chatScript(req) {
		if !s.pause(ctx) {
			return
		}
		if err := sw.Chat(f); err != nil {
			s.logger.Warn("chat stream write failed", "error", err)
			return
		}
	}
}

// chatScript builds the frames of one chat reply.
func (s *Server) chatScript(req course.ChatRequest) []stream.ChatFrame {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return []stream.ChatFrame{{Type: "error", Message: "message is empty"}}
	}

	frames := []stream.ChatFrame{{Type: "start"}}
	var reply string
	var artifact *stream.ChatFrame
	if m := regenerateRe.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		st := course.StageID(n)
		reply = fmt.Sprintf("I'll regenerate Stage %d (%s) with these instructions: %s", n, status.Label(st), m[2])
		artifact = &stream.ChatFrame{Type: "artifact", Action: "regenerate", Stage: n, Instructions: m[2]}
	} else {
		step := req.Step
		if !step.Valid() {
			step = course.StageOne
		}
		reply = fmt.Sprintf("About %s: you said %q. I have %d earlier messages on this step for context.",
			status.Label(step), msg, len(req.History))
	}

	for _, word := range splitWords(reply) {
		frames = append(frames, stream.ChatFrame{Type: "chunk", Content: word})
	}
	if artifact != nil {
		frames = append(frames, *artifact)
	}
	return append(frames, stream.ChatFrame{Type: "done"})
}

// StageContent renders the scripted markdown for one stage.
func StageContent(st course.StageID, info course.Info, upstream, instructions string) string {
	var sb strings.Builder
	title := info.Title
	if title == "" {
		title = "Untitled course"
	}
	fmt.Fprintf(&sb, "# Stage %d: %s\n\n", int(st), status.Label(st))
	fmt.Fprintf(&sb, "Course: %s", title)
	if info.GradeLevel != "" {
		fmt.Fprintf(&sb, " (grade %s)", info.GradeLevel)
	}
	sb.WriteString("\n\n")

	switch st {
	case course.StageOne:
		sb.WriteString("## Established Goals\n\n- Students understand the core ideas of " + subjectOf(info) + ".\n\n")
		sb.WriteString("## Essential Questions\n\n- Why does " + subjectOf(info) + " matter?\n")
	case course.StageTwo:
		sb.WriteString("## Performance Tasks\n\n- A project demonstrating the goals below.\n\n")
		sb.WriteString("## Aligned Goals\n\n" + quote(upstream) + "\n")
	case course.StageThree:
		sb.WriteString("## Learning Activities\n\n- Weekly activities building toward the assessments below.\n\n")
		sb.WriteString("## Aligned Evidence\n\n" + quote(upstream) + "\n")
	}
	if instructions != "" {
		sb.WriteString("\n> Revised per instructions: " + instructions + "\n")
	}
	return sb.String()
}

func subjectOf(info course.Info) string {
	if info.Subject != "" {
		return info.Subject
	}
	return "the subject"
}

// quote keeps the first heading of upstream as a reference line.
func quote(upstream string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(upstream), "\n")
	if first == "" {
		return "- (none)"
	}
	return "- Builds on: " + strings.TrimLeft(first, "# ")
}

// splitChunks cuts s into pieces of at most n bytes on rune boundaries.
func splitChunks(s string, n int) []string {
	var out []string
	for len(s) > n {
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = n
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// splitWords splits s after each space so the pieces concatenate back to s.
func splitWords(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

// pause waits for the frame delay and reports whether the client is still
// connected.
func (s *Server) pause(ctx context.Context) bool {
	if s.frameDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.frameDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
