package mcptools

import (
	"context"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/mockserver"
	"github.com/dusk-indust/coursegen/internal/orchestrator"
	"github.com/dusk-indust/coursegen/internal/store"
)

// newTestService opens a session on a course stored behind a scripted
// backend and wraps it in a CourseService.
func newTestService(t *testing.T, opts ...mockserver.Option) (*CourseService, *store.MemStore, string) {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemStore()
	srv := httptest.NewServer(mockserver.New(ms, opts...).Handler())
	t.Cleanup(srv.Close)

	client := course.NewHTTPClient(srv.URL)
	c, err := client.Create(ctx, course.Info{Title: "Ecology", Subject: "Biology", GradeLevel: "10"})
	require.NoError(t, err)

	session := orchestrator.NewSession(orchestrator.DefaultConfig(), c, client, client,
		orchestrator.WithConversations(client))
	t.Cleanup(func() {
		session.Close()
		_ = session.Drain(context.Background())
	})
	return NewCourseService(ctx, session), ms, c.ID
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func generate(t *testing.T, svc *CourseService, stage int) StartStageOutput {
	t.Helper()
	_, out, err := svc.StartStage(testCtx(t), nil, StartStageInput{Stage: stage, Wait: true})
	require.NoError(t, err)
	return out
}

func TestCourseService_StartStage(t *testing.T) {
	svc, ms, id := newTestService(t)

	out := generate(t, svc, 1)
	assert.Equal(t, 1, out.Stage)
	assert.Equal(t, "completed", out.Status)
	assert.Contains(t, out.Content, "# Stage 1: Desired Results")
	assert.Empty(t, out.Message)

	require.NoError(t, svc.session.Drain(testCtx(t)))
	c, err := ms.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, out.Content, c.StageOne)
}

func TestCourseService_StartStage_InvalidStage(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, out, err := svc.StartStage(context.Background(), nil, StartStageInput{Stage: 4})
	require.Error(t, err)
	assert.Equal(t, "failed", out.Status)
	assert.Contains(t, out.Message, "stage must be 1-3")
}

func TestCourseService_StartStage_Blocked(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, out, err := svc.StartStage(context.Background(), nil, StartStageInput{Stage: 2})
	require.NoError(t, err)
	assert.Equal(t, "blocked", out.Status)
	assert.NotEmpty(t, out.Message)
}

func TestCourseService_StartStage_Failure(t *testing.T) {
	svc, _, _ := newTestService(t, mockserver.WithFailStage(course.StageOne))

	out := generate(t, svc, 1)
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "generation of stage 1 failed", out.Message)
	assert.Empty(t, out.Content)
}

func TestCourseService_StartStage_Instructions(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, out, err := svc.StartStage(testCtx(t), nil, StartStageInput{Stage: 1, Instructions: "focus on food webs", Wait: true})
	require.NoError(t, err)
	assert.Contains(t, out.Content, "> Revised per instructions: focus on food webs")
}

func TestCourseService_AbortStage(t *testing.T) {
	svc, _, _ := newTestService(t, mockserver.WithFrameDelay(time.Second))

	_, started, err := svc.StartStage(context.Background(), nil, StartStageInput{Stage: 1})
	require.NoError(t, err)
	assert.Equal(t, "generating", started.Status)

	_, out, err := svc.AbortStage(context.Background(), nil, AbortStageInput{Stage: 1})
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.Equal(t, "pending", out.Status)

	_, again, err := svc.AbortStage(context.Background(), nil, AbortStageInput{Stage: 1})
	require.NoError(t, err)
	assert.False(t, again.Aborted)
}

func TestCourseService_EditSaveResolve(t *testing.T) {
	svc, ms, id := newTestService(t)
	generate(t, svc, 1)
	generate(t, svc, 2)

	_, edited, err := svc.EditStage(context.Background(), nil, EditStageInput{Stage: 1, Content: "# Revised goals\n\n- Energy flow"})
	require.NoError(t, err)
	assert.Equal(t, "editing", edited.Status)
	assert.True(t, edited.Dirty)

	_, saved, err := svc.SaveStage(testCtx(t), nil, SaveStageInput{Stage: 1})
	require.NoError(t, err)
	assert.Equal(t, "completed", saved.Status)
	assert.Equal(t, []int{2}, saved.AffectedStages)

	_, st, err := svc.GetStatus(context.Background(), nil, GetStatusInput{})
	require.NoError(t, err)
	require.NotNil(t, st.Notice)
	assert.Equal(t, 1, st.Notice.ChangedStage)

	_, resolved, err := svc.ResolveChange(testCtx(t), nil, ResolveChangeInput{Resolution: "regenerate"})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, resolved.Regenerated)

	require.NoError(t, svc.session.Drain(testCtx(t)))
	c, err := ms.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "# Revised goals\n\n- Energy flow", c.StageOne)
	assert.Contains(t, c.StageTwo, "- Builds on: Revised goals")
}

func TestCourseService_EditRequiresCompletedStage(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.EditStage(context.Background(), nil, EditStageInput{Stage: 1, Content: "x"})
	require.ErrorIs(t, err, orchestrator.ErrInvalidTransition)
}

func TestCourseService_ResolveChange_NoNotice(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.ResolveChange(context.Background(), nil, ResolveChangeInput{Resolution: "cancel"})
	require.ErrorIs(t, err, orchestrator.ErrNoNotice)
}

func TestCourseService_ResolveChange_Skip(t *testing.T) {
	svc, _, _ := newTestService(t)
	generate(t, svc, 1)
	generate(t, svc, 2)

	_, _, err := svc.EditStage(context.Background(), nil, EditStageInput{Stage: 1, Content: "# Goals v2"})
	require.NoError(t, err)
	_, _, err = svc.SaveStage(testCtx(t), nil, SaveStageInput{Stage: 1})
	require.NoError(t, err)

	_, out, err := svc.ResolveChange(context.Background(), nil, ResolveChangeInput{Resolution: "skipForSession"})
	require.NoError(t, err)
	assert.Empty(t, out.Regenerated)

	_, _, err = svc.EditStage(context.Background(), nil, EditStageInput{Stage: 1, Content: "# Goals v3"})
	require.NoError(t, err)
	_, saved, err := svc.SaveStage(testCtx(t), nil, SaveStageInput{Stage: 1})
	require.NoError(t, err)
	assert.Empty(t, saved.AffectedStages)
}

func TestCourseService_GetStatus(t *testing.T) {
	svc, _, id := newTestService(t)
	generate(t, svc, 1)

	_, out, err := svc.GetStatus(context.Background(), nil, GetStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, id, out.CourseID)
	assert.Equal(t, "Ecology", out.Title)
	require.Len(t, out.Stages, 3)
	assert.Equal(t, "completed", out.Stages[0].Status)
	assert.Equal(t, 100, out.Stages[0].Progress)
	assert.Equal(t, "pending", out.Stages[1].Status)
	assert.Equal(t, 2, out.NextStage)
	assert.Nil(t, out.Notice)
	require.NotEmpty(t, out.Lines)
	assert.Equal(t, "  next: stage 2 (Assessment Evidence)", out.Lines[len(out.Lines)-1])
}

func TestCourseService_SendChat(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, out, err := svc.SendChat(testCtx(t), nil, SendChatInput{Message: "More goals please", Step: 1})
	require.NoError(t, err)
	assert.Equal(t, `About Desired Results: you said "More goals please". I have 0 earlier messages on this step for context.`, out.Reply)
	assert.Nil(t, out.Handoff)

	_, out, err = svc.SendChat(testCtx(t), nil, SendChatInput{Message: "And essential questions", Step: 1})
	require.NoError(t, err)
	assert.Contains(t, out.Reply, "I have 2 earlier messages")
}

func TestCourseService_SendChat_Handoff(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, out, err := svc.SendChat(testCtx(t), nil, SendChatInput{Message: "regenerate stage 1: shorter goals"})
	require.NoError(t, err)
	require.NotNil(t, out.Handoff)
	assert.Equal(t, 1, out.Handoff.Stage)
	assert.Equal(t, "shorter goals", out.Handoff.Instructions)
	assert.Equal(t, "pending", string(svc.session.Record(course.StageOne).Status))
}

func TestCourseService_SendChat_Empty(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.SendChat(context.Background(), nil, SendChatInput{Message: " "})
	require.ErrorIs(t, err, orchestrator.ErrEmptyMessage)
}

func TestCourseMCPServer_ToolsList(t *testing.T) {
	svc, _, _ := newTestService(t)
	server := NewCourseMCPServer(svc)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Run(ctx, serverTransport)

	mcpClient := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "dev"}, nil)
	session, err := mcpClient.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)

	names := make([]string, len(tools.Tools))
	for i, tool := range tools.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)

	assert.Equal(t, []string{
		"abort_stage",
		"edit_stage",
		"get_status",
		"resolve_change",
		"save_stage",
		"send_chat",
		"start_stage",
	}, names)
}

func TestCourseMCPServer_CallGetStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	server := NewCourseMCPServer(svc)

	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()

	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "get_status", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)

	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"title":"Ecology"`)
}
