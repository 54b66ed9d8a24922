package mockserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/store"
	"github.com/dusk-indust/coursegen/internal/stream"
)

func newTestServer(t *testing.T, opts ...Option) (*course.HTTPClient, *store.MemStore, *httptest.Server) {
	t.Helper()
	ms := store.NewMemStore()
	srv := httptest.NewServer(New(ms, opts...).Handler())
	t.Cleanup(srv.Close)
	return course.NewHTTPClient(srv.URL), ms, srv
}

func collect(t *testing.T, body io.ReadCloser, decode stream.Decoder) []stream.Event {
	t.Helper()
	defer body.Close()
	var events []stream.Event
	err := stream.Scan(context.Background(), body, decode, func(ev stream.Event) bool {
		events = append(events, ev)
		return true
	})
	require.NoError(t, err)
	return events
}

func TestServer_CourseCRUD(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()

	c, err := client.Create(ctx, course.Info{Title: "Intro to Biology", Subject: "Biology"})
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)

	require.NoError(t, client.UpdateStage(ctx, c.ID, course.StageOne, "# Goals"))
	got, err := client.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro to Biology", got.Title)
	assert.Equal(t, "# Goals", got.StageOne)

	list, err := client.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	md, err := client.ExportMarkdown(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "# Intro to Biology\n"))
	assert.Contains(t, md, "## Stage 1: Desired Results\n\n# Goals")

	require.NoError(t, client.Delete(ctx, c.ID))
	_, err = client.Get(ctx, c.ID)
	assert.ErrorIs(t, err, course.ErrNotFound)
	assert.ErrorIs(t, client.UpdateStage(ctx, c.ID, course.StageTwo, "x"), course.ErrNotFound)
}

func TestServer_CreateRequiresTitle(t *testing.T) {
	client, _, _ := newTestServer(t)
	_, err := client.Create(context.Background(), course.Info{})
	var herr *course.HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusUnprocessableEntity, herr.StatusCode)
}

func TestServer_UnknownStageSlug(t *testing.T) {
	_, ms, srv := newTestServer(t)
	c, err := ms.Create(context.Background(), course.Info{Title: "T"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/courses/"+c.ID+"/stage-four", strings.NewReader(`{"markdown":"x"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Conversation(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()
	c, err := client.Create(ctx, course.Info{Title: "T"})
	require.NoError(t, err)

	msgs, err := client.Messages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	m1 := course.NewMessage(course.RoleUser, course.StageOne, "hello")
	m2 := course.NewMessage(course.RoleAssistant, course.StageOne, "hi")
	require.NoError(t, client.AppendMessages(ctx, c.ID, m1))
	require.NoError(t, client.AppendMessages(ctx, c.ID, m2))

	msgs, err = client.Messages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.ID, msgs[0].ID)
	assert.Equal(t, "hi", msgs[1].Content)

	require.NoError(t, client.ClearMessages(ctx, c.ID))
	msgs, err = client.Messages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestServer_WorkflowStream(t *testing.T) {
	client, _, _ := newTestServer(t)
	info := course.Info{Title: "Ecology", Subject: "Biology", GradeLevel: "10"}

	body, err := client.StreamWorkflow(context.Background(), course.WorkflowRequest{
		Info:             info,
		StagesToGenerate: []course.StageID{course.StageOne},
	})
	require.NoError(t, err)
	events := collect(t, body, stream.DecodeWorkflow)

	var kinds []stream.Kind
	var chunks strings.Builder
	var progress []float64
	var final string
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
		switch ev.Kind {
		case stream.KindChunk:
			chunks.WriteString(ev.Text)
		case stream.KindProgress:
			progress = append(progress, ev.Progress)
		case stream.KindStageComplete:
			final = ev.Text
		}
	}

	assert.Equal(t, stream.KindStart, kinds[0])
	assert.Equal(t, stream.KindDone, kinds[len(kinds)-1])
	assert.Equal(t, []float64{0.25, 0.5, 0.75}, progress)
	want := StageContent(course.StageOne, info, "", "")
	assert.Equal(t, want, final)
	assert.Equal(t, want, chunks.String(), "chunks reassemble the stage markdown")
}

func TestServer_WorkflowChainsStagesInOneRequest(t *testing.T) {
	client, _, _ := newTestServer(t)
	body, err := client.StreamWorkflow(context.Background(), course.WorkflowRequest{
		Info:             course.Info{Title: "Ecology"},
		StagesToGenerate: []course.StageID{course.StageOne, course.StageTwo},
	})
	require.NoError(t, err)

	completed := map[int]string{}
	for _, ev := range collect(t, body, stream.DecodeWorkflow) {
		if ev.Kind == stream.KindStageComplete {
			completed[ev.Stage] = ev.Text
		}
	}
	require.Len(t, completed, 2)
	assert.Contains(t, completed[2], "- Builds on: Stage 1: Desired Results")
}

func TestServer_WorkflowRejectsMissingUpstream(t *testing.T) {
	_, _, srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/workflow/stream", "application/json",
		bytes.NewBufferString(`{"title":"T","stages_to_generate":[3]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_WorkflowFailStage(t *testing.T) {
	client, _, _ := newTestServer(t, WithFailStage(course.StageTwo))
	body, err := client.StreamWorkflow(context.Background(), course.WorkflowRequest{
		Info:             course.Info{Title: "T"},
		StagesToGenerate: []course.StageID{course.StageTwo},
		StageOneData:     "# Goals",
	})
	require.NoError(t, err)
	events := collect(t, body, stream.DecodeWorkflow)

	last := events[len(events)-1]
	assert.Equal(t, stream.KindError, last.Kind)
	assert.Equal(t, 2, last.Stage)
	assert.Equal(t, "generation of stage 2 failed", last.Message)
}

func TestServer_ChatReply(t *testing.T) {
	client, _, _ := newTestServer(t)
	body, err := client.StreamChat(context.Background(), course.ChatRequest{
		CourseID: "c1",
		Message:  "Can you add more goals?",
		Step:     course.StageOne,
	})
	require.NoError(t, err)
	events := collect(t, body, stream.DecodeChat)

	var text strings.Builder
	for _, ev := range events {
		if ev.Kind == stream.KindChunk {
			text.WriteString(ev.Text)
		}
	}
	assert.Equal(t, stream.KindDone, events[len(events)-1].Kind)
	assert.Equal(t, `About Desired Results: you said "Can you add more goals?". I have 0 earlier messages on this step for context.`, text.String())
}

func TestServer_ChatRegenerateArtifact(t *testing.T) {
	client, _, _ := newTestServer(t)
	body, err := client.StreamChat(context.Background(), course.ChatRequest{
		Message: "Regenerate stage 2: add a peer review rubric",
		Step:    course.StageTwo,
	})
	require.NoError(t, err)

	var artifact *stream.Event
	for _, ev := range collect(t, body, stream.DecodeChat) {
		if ev.Kind == stream.KindArtifact {
			artifact = &ev
		}
	}
	require.NotNil(t, artifact)
	assert.Equal(t, "regenerate", artifact.Action)
	assert.Equal(t, 2, artifact.Stage)
	assert.Equal(t, "add a peer review rubric", artifact.Instructions)
}

func TestServer_ChatEmptyMessage(t *testing.T) {
	client, _, _ := newTestServer(t)
	body, err := client.StreamChat(context.Background(), course.ChatRequest{Message: "  "})
	require.NoError(t, err)
	events := collect(t, body, stream.DecodeChat)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindError, events[0].Kind)
}

func TestServer_FrameDelayStopsOnDisconnect(t *testing.T) {
	client, _, _ := newTestServer(t, WithFrameDelay(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	body, err := client.StreamWorkflow(ctx, course.WorkflowRequest{
		Info:             course.Info{Title: "T"},
		StagesToGenerate: []course.StageID{course.StageOne},
	})
	require.NoError(t, err)
	cancel()
	_, err = io.ReadAll(body)
	assert.Error(t, err)
	body.Close()
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- New(store.NewMemStore()).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/courses")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
