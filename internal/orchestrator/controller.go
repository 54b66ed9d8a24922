package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/stream"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the stage's current status.
	ErrInvalidTransition = errors.New("orchestrator: invalid transition")

	// ErrAborted is reported by Wait when a generation was aborted or
	// superseded by a newer one.
	ErrAborted = errors.New("orchestrator: generation aborted")

	// ErrNoGeneration is reported by Wait when the stage was never started.
	ErrNoGeneration = errors.New("orchestrator: no generation started")
)

const msgEndedUnexpectedly = "generation ended unexpectedly"

// GenerationError is the outcome of a generation that ended in the error
// status.
type GenerationError struct {
	Stage   course.StageID
	Message string
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("orchestrator: stage %d (%s) failed: %s", e.Stage, e.Stage, e.Message)
}

// Controller drives the state machine of one stage:
//
//	pending    --Start-->          generating
//	generating --stage_complete--> completed
//	generating --error/eof-->      error
//	generating --Abort-->          (status before Start)
//	completed  --Edit-->           editing
//	editing    --Save-->           completed
//	error      --Start-->          generating
//
// Only events read under the stage's live token are applied.
type Controller struct {
	stage     course.StageID
	repo      *Repository
	graph     *Graph
	gen       course.Generator
	persister *Persister
	logger    *slog.Logger
	slot      stream.Slot

	mu   sync.Mutex
	run  *generation
	last *generation
}

// generation is one Start call.
type generation struct {
	token *stream.Token
	done  chan struct{}

	prevStatus   Status
	prevProgress int
	prevError    string

	buf strings.Builder
	err error
}

// NewController creates the controller of stage. persister may be nil, in
// which case nothing is written remotely.
func NewController(stage course.StageID, repo *Repository, graph *Graph, gen course.Generator, persister *Persister, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		stage:     stage,
		repo:      repo,
		graph:     graph,
		gen:       gen,
		persister: persister,
		logger:    logger.With("stage", int(stage)),
	}
}

// Stage returns the stage this controller owns.
func (c *Controller) Stage() course.StageID { return c.stage }

// Start begins generating the stage. It fails with a *DependencyError when
// the upstream stage has no content. A generation already in flight is
// canceled and its late events are ignored. ctx bounds the generation;
// canceling it has the same effect as Abort.
func (c *Controller) Start(ctx context.Context, req course.WorkflowRequest) error {
	if err := c.graph.checkStart(c.stage); err != nil {
		return err
	}
	if len(req.StagesToGenerate) == 0 {
		req.StagesToGenerate = []course.StageID{c.stage}
	}
	if !slices.Equal(req.StagesToGenerate, []course.StageID{c.stage}) {
		return fmt.Errorf("orchestrator: request targets %v, controller owns stage %d", req.StagesToGenerate, c.stage)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("orchestrator: start stage %d: %w", c.stage, err)
	}

	c.mu.Lock()
	rec := c.repo.Get(c.stage)
	g := &generation{
		done:         make(chan struct{}),
		prevStatus:   rec.Status,
		prevProgress: rec.Progress,
		prevError:    rec.ErrorMessage,
	}
	if old := c.run; old != nil {
		// The superseded run already moved the record to generating;
		// aborting this one must restore what preceded the first Start.
		g.prevStatus, g.prevProgress, g.prevError = old.prevStatus, old.prevProgress, old.prevError
		old.err = ErrAborted
		c.logger.Info("superseding running generation", "token", old.token.ID())
	}
	g.token = c.slot.Replace(ctx)
	c.run = g
	c.last = g
	c.repo.Update(c.stage, false, func(r *Record) {
		r.Status = StatusGenerating
		r.Progress = 0
		r.ErrorMessage = ""
	})
	c.mu.Unlock()

	go c.drive(g, req)
	return nil
}

// drive reads the stream of g and applies its events until a terminal
// event, the end of the stream or cancellation.
func (c *Controller) drive(g *generation, req course.WorkflowRequest) {
	defer close(g.done)

	body, err := c.gen.StreamWorkflow(g.token.Context(), req)
	if err != nil {
		c.settle(g, err.Error())
		return
	}

	events := stream.ReadEvents(g.token.Context(), body, stream.DecodeWorkflow, stream.WithLogger(c.logger))
	for ev := range events {
		if c.apply(g, ev) {
			// Release the reader; it may still be blocked on a send.
			g.token.Cancel()
			c.settle(g, msgEndedUnexpectedly)
			return
		}
	}
	c.settle(g, msgEndedUnexpectedly)
}

// apply applies one event and reports whether g is finished.
func (c *Controller) apply(g *generation, ev stream.Event) bool {
	c.mu.Lock()
	if c.run != g || g.token.Canceled() {
		c.mu.Unlock()
		return true
	}
	if ev.Stage != 0 && ev.Stage != int(c.stage) && ev.Kind != stream.KindError {
		c.mu.Unlock()
		return false
	}

	switch ev.Kind {
	case stream.KindStart:
		c.logger.Debug("generation started", "message", ev.Message)
	case stream.KindProgress:
		pct := int(math.Round(ev.Progress * 100))
		c.repo.Update(c.stage, false, func(r *Record) { r.Progress = pct })
	case stream.KindChunk:
		g.buf.WriteString(ev.Text)
	case stream.KindStageComplete:
		content := ev.Text
		if content == "" {
			content = g.buf.String()
		}
		if content == "" {
			c.failLocked(g, "generation returned no content")
			break
		}
		c.completeLocked(g, content)
	case stream.KindError:
		msg := ev.Message
		if msg == "" {
			msg = "generation failed"
		}
		c.failLocked(g, msg)
	case stream.KindDone:
		if content := g.buf.String(); content != "" {
			c.completeLocked(g, content)
		} else {
			c.failLocked(g, msgEndedUnexpectedly)
		}
	default:
		c.mu.Unlock()
		return false
	}
	finished := c.run != g
	c.mu.Unlock()
	return finished
}

// settle finishes g after its stream ended without a terminal event.
// A canceled token is treated as an abort, anything else as a failure.
func (c *Controller) settle(g *generation, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != g {
		return
	}
	if g.token.Canceled() {
		c.revertLocked(g)
		return
	}
	c.failLocked(g, msg)
}

func (c *Controller) completeLocked(g *generation, content string) {
	c.repo.Update(c.stage, true, func(r *Record) {
		r.Status = StatusCompleted
		r.Content = content
		r.Progress = 100
		r.ErrorMessage = ""
	})
	if c.persister != nil {
		c.persister.Commit(c.stage, content)
	}
	c.endLocked(g, nil)
}

func (c *Controller) failLocked(g *generation, msg string) {
	c.logger.Warn("generation failed", "error", msg)
	c.repo.Update(c.stage, false, func(r *Record) {
		r.Status = StatusError
		r.ErrorMessage = msg
	})
	c.endLocked(g, &GenerationError{Stage: c.stage, Message: msg})
}

func (c *Controller) revertLocked(g *generation) {
	c.repo.Update(c.stage, false, func(r *Record) {
		r.Status = g.prevStatus
		r.Progress = g.prevProgress
		r.ErrorMessage = g.prevError
	})
	c.endLocked(g, ErrAborted)
}

func (c *Controller) endLocked(g *generation, err error) {
	g.err = err
	c.run = nil
	c.slot.Release(g.token)
}

// Abort cancels the running generation and restores the status that
// preceded Start. No error is recorded. It reports whether a generation
// was running.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.run
	if g == nil {
		return false
	}
	c.revertLocked(g)
	return true
}

// Wait blocks until the most recent generation finishes and returns its
// outcome: nil, a *GenerationError or ErrAborted.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	g := c.last
	c.mu.Unlock()
	if g == nil {
		return ErrNoGeneration
	}
	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return g.err
}

// Draft returns the text streamed so far by the running generation.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return ""
	}
	return c.run.buf.String()
}

// Running reports whether a generation is in flight.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Edit replaces the stage content locally and schedules a remote write.
// It is allowed only from completed or editing.
func (c *Controller) Edit(content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.repo.Get(c.stage).Status
	if st != StatusCompleted && st != StatusEditing {
		return fmt.Errorf("%w: edit stage %d while %s", ErrInvalidTransition, c.stage, st)
	}
	c.repo.Update(c.stage, false, func(r *Record) {
		r.Status = StatusEditing
		r.Content = content
	})
	if c.persister != nil {
		c.persister.RecordEdit(c.stage, content)
	}
	return nil
}

// Save flushes the pending edit and completes the stage. It is allowed only
// from editing. If the remote write fails the stage stays in editing with
// its content intact and the error is returned. A successful save bumps
// the version and runs change detection; the resulting notice, if any, is
// returned.
func (c *Controller) Save(ctx context.Context) (*ChangeNotice, error) {
	c.mu.Lock()
	st := c.repo.Get(c.stage).Status
	c.mu.Unlock()
	if st != StatusEditing {
		return nil, fmt.Errorf("%w: save stage %d while %s", ErrInvalidTransition, c.stage, st)
	}

	if c.persister != nil {
		if err := c.persister.Save(ctx, c.stage); err != nil {
			return nil, fmt.Errorf("orchestrator: save stage %d: %w", c.stage, err)
		}
	}

	c.mu.Lock()
	committed := false
	if c.repo.Get(c.stage).Status == StatusEditing {
		c.repo.Update(c.stage, true, func(r *Record) { r.Status = StatusCompleted })
		committed = true
	}
	c.mu.Unlock()

	if !committed {
		return nil, nil
	}
	return c.graph.OnMutation(c.stage), nil
}
