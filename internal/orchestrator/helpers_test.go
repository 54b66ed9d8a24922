package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/stream"
)

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

func wf(event string, data stream.WorkflowData) string {
	b, _ := json.Marshal(stream.WorkflowFrame{Event: event, Data: data})
	return "data: " + string(b) + "\n\n"
}

func chatFrame(f stream.ChatFrame) string {
	b, _ := json.Marshal(f)
	return "data: " + string(b) + "\n\n"
}

func body(frames ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(frames, "")))
}

// completeStream is a full successful generation of stage producing content.
func completeStream(stage course.StageID, content string) io.ReadCloser {
	return body(
		wf("start", stream.WorkflowData{Message: "starting"}),
		wf("progress", stream.WorkflowData{Stage: int(stage), Progress: 50}),
		wf("chunk", stream.WorkflowData{Stage: int(stage), Content: content}),
		wf("stage_complete", stream.WorkflowData{Stage: int(stage), Markdown: content}),
		wf("complete", stream.WorkflowData{Message: "done"}),
	)
}

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

// fakeGenerator implements course.Generator with function fields.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []course.WorkflowRequest
	chats    []course.ChatRequest

	workflow func(ctx context.Context, req course.WorkflowRequest) (io.ReadCloser, error)
	chat     func(ctx context.Context, req course.ChatRequest) (io.ReadCloser, error)
}

func (f *fakeGenerator) StreamWorkflow(ctx context.Context, req course.WorkflowRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.workflow == nil {
		return nil, errors.New("workflow not configured")
	}
	return f.workflow(ctx, req)
}

func (f *fakeGenerator) StreamChat(ctx context.Context, req course.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.chats = append(f.chats, req)
	f.mu.Unlock()
	if f.chat == nil {
		return nil, errors.New("chat not configured")
	}
	return f.chat(ctx, req)
}

func (f *fakeGenerator) workflowRequests() []course.WorkflowRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]course.WorkflowRequest(nil), f.requests...)
}

func (f *fakeGenerator) chatRequests() []course.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]course.ChatRequest(nil), f.chats...)
}

// pipes hands out one io.Pipe per stream, keyed by a caller-chosen label,
// so a test can feed each stream independently.
type pipes struct {
	mu      sync.Mutex
	writers map[string]chan *io.PipeWriter
}

func newPipes() *pipes {
	return &pipes{writers: make(map[string]chan *io.PipeWriter)}
}

func (p *pipes) ch(key string) chan *io.PipeWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.writers[key]
	if !ok {
		c = make(chan *io.PipeWriter, 1)
		p.writers[key] = c
	}
	return c
}

func (p *pipes) open(key string) io.ReadCloser {
	pr, pw := io.Pipe()
	p.ch(key) <- pw
	return pr
}

// writer waits for the stream labelled key to be opened.
func (p *pipes) writer(t *testing.T, key string) *io.PipeWriter {
	t.Helper()
	select {
	case pw := <-p.ch(key):
		return pw
	case <-time.After(2 * time.Second):
		t.Fatalf("stream %q was never opened", key)
		return nil
	}
}

// send writes frames to pw in the background; the write fails harmlessly
// once the reader has been closed.
func send(pw *io.PipeWriter, frames ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := io.WriteString(pw, strings.Join(frames, ""))
		done <- err
	}()
	return done
}

// ---------------------------------------------------------------------------
// Stage writers
// ---------------------------------------------------------------------------

type writeCall struct {
	CourseID string
	Stage    course.StageID
	Content  string
}

// recordingWriter implements StageWriter and records every call.
type recordingWriter struct {
	mu    sync.Mutex
	calls []writeCall
	err   error
	gate  chan struct{} // when non-nil, each write blocks until it can receive
}

func (w *recordingWriter) UpdateStage(ctx context.Context, id string, stage course.StageID, content string) error {
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, writeCall{CourseID: id, Stage: stage, Content: content})
	return w.err
}

func (w *recordingWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func (w *recordingWriter) writes() []writeCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]writeCall(nil), w.calls...)
}

// stepWriter records each write and blocks it until the test sends the
// result on results.
type stepWriter struct {
	mu      sync.Mutex
	calls   []string
	results chan error
}

func (w *stepWriter) UpdateStage(ctx context.Context, _ string, _ course.StageID, content string) error {
	w.mu.Lock()
	w.calls = append(w.calls, content)
	w.mu.Unlock()
	select {
	case err := <-w.results:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *stepWriter) contents() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// manualScheduler replaces time.AfterFunc so debounce timers fire only when
// the test says so.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	f       func()
	stopped bool
	fired   bool
}

func (m *manualScheduler) schedule(_ time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := &manualTask{f: f}
	m.tasks = append(m.tasks, task)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		wasActive := !task.stopped && !task.fired
		task.stopped = true
		return wasActive
	}
}

// fire runs every task that is neither stopped nor already fired and
// returns how many ran.
func (m *manualScheduler) fire() int {
	m.mu.Lock()
	var due []*manualTask
	for _, task := range m.tasks {
		if !task.stopped && !task.fired {
			task.fired = true
			due = append(due, task)
		}
	}
	m.mu.Unlock()
	for _, task := range due {
		task.f()
	}
	return len(due)
}

func (m *manualScheduler) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, task := range m.tasks {
		if !task.stopped && !task.fired {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func newTestPersister(w StageWriter, sched *manualScheduler) *Persister {
	cfg := DefaultConfig()
	p := NewPersister("course-1", w, cfg, nil)
	if sched != nil {
		p.schedule = sched.schedule
	}
	return p
}

// controllers builds a repository with the given contents and one
// controller per stage sharing gen and persister.
func newControllers(gen course.Generator, persister *Persister, contents map[course.StageID]string) (*Repository, *Graph, map[course.StageID]*Controller) {
	repo := NewRepository(nil)
	c := &course.Course{ID: "course-1"}
	for s, v := range contents {
		c.SetContent(s, v)
	}
	repo.Hydrate(c)
	graph := NewGraph(repo, nil)
	ctrls := make(map[course.StageID]*Controller)
	for _, s := range course.Stages {
		ctrls[s] = NewController(s, repo, graph, gen, persister, nil)
	}
	return repo, graph, ctrls
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireStatus(t *testing.T, repo *Repository, stage course.StageID, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return repo.Get(stage).Status == want
	}, 2*time.Second, 5*time.Millisecond, "stage %d never reached %s (now %s)", stage, want, repo.Get(stage).Status)
}
