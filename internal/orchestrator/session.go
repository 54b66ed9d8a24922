package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dusk-indust/coursegen/internal/course"
)

// ErrNoNotice is returned by ResolveChange when no ChangeNotice is pending.
var ErrNoNotice = errors.New("orchestrator: no pending change notice")

// Resolution is the user's answer to a ChangeNotice.
type Resolution string

const (
	ResolveRegenerate     Resolution = "regenerate"
	ResolveCancel         Resolution = "cancel"
	ResolveSkipForSession Resolution = "skipForSession"
)

// Decision resolves the pending ChangeNotice. Stages narrows a regenerate
// to a subset of the affected stages; empty means all of them.
type Decision struct {
	Resolution Resolution
	Stages     []course.StageID
}

// StageView is the presentation view of one stage.
type StageView struct {
	Record
	SaveState
	Draft string `json:"draft,omitempty"`
}

// Snapshot is the full observable state of a Session.
type Snapshot struct {
	CourseID   string        `json:"courseId"`
	Title      string        `json:"title"`
	Stages     []StageView   `json:"stages"`
	Notice     *ChangeNotice `json:"changeNotice"`
	Suppressed bool          `json:"suppressed"`
	Chat       ChatState     `json:"chat"`
}

// Session wires the engine for one course: a Repository of stage records,
// one Controller per stage, the dependency Graph, the Persister and the
// ChatSession.
type Session struct {
	cfg      Config
	courseID string
	info     course.Info
	store    course.Store
	logger   *slog.Logger

	reporter    *ProgressReporter
	repo        *Repository
	graph       *Graph
	persister   *Persister
	controllers map[course.StageID]*Controller
	chat        *ChatSession
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	logger  *slog.Logger
	convo   course.Conversations
	handoff func(Handoff)
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = l }
}

// WithConversations persists chat messages to convo.
func WithConversations(convo course.Conversations) SessionOption {
	return func(o *sessionOptions) { o.convo = convo }
}

// WithHandoffHandler registers the host callback for regenerate requests
// coming from the assistant.
func WithHandoffHandler(fn func(Handoff)) SessionOption {
	return func(o *sessionOptions) { o.handoff = fn }
}

// NewSession creates a Session for c. store may be nil, in which case
// nothing is persisted remotely.
func NewSession(cfg Config, c *course.Course, store course.Store, gen course.Generator, opts ...SessionOption) *Session {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	logger := o.logger.With("course", c.ID)

	s := &Session{
		cfg:         cfg,
		courseID:    c.ID,
		info:        c.Info,
		store:       store,
		logger:      logger,
		reporter:    NewProgressReporter(),
		controllers: make(map[course.StageID]*Controller, course.NumStages),
	}
	s.repo = NewRepository(s.reporter)
	s.repo.Hydrate(c)
	s.graph = NewGraph(s.repo, logger)
	if store != nil {
		s.persister = NewPersister(c.ID, store, cfg, logger)
		s.acknowledge(c)
	}
	for _, st := range course.Stages {
		s.controllers[st] = NewController(st, s.repo, s.graph, gen, s.persister, logger)
	}
	s.chat = NewChatSession(c.ID, gen, o.convo, cfg.HistoryLimit, logger)
	if o.handoff != nil {
		s.chat.OnHandoff(o.handoff)
	}
	return s
}

func (s *Session) acknowledge(c *course.Course) {
	for _, st := range course.Stages {
		s.persister.Acknowledge(st, c.Content(st))
	}
}

// CourseID returns the ID of the course.
func (s *Session) CourseID() string { return s.courseID }

// Info returns the course metadata.
func (s *Session) Info() course.Info { return s.info }

// Load refreshes the stage records and conversation from the store. It
// fails while a stage is generating or has unsaved edits.
func (s *Session) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	for _, c := range s.controllers {
		if c.Running() {
			return fmt.Errorf("orchestrator: load: stage %d is generating", c.Stage())
		}
		if s.persister != nil && s.persister.State(c.Stage()).Dirty {
			return fmt.Errorf("orchestrator: load: stage %d has unsaved edits", c.Stage())
		}
	}
	c, err := s.store.Get(ctx, s.courseID)
	if err != nil {
		return fmt.Errorf("orchestrator: load: %w", err)
	}
	s.info = c.Info
	s.repo.Hydrate(c)
	s.acknowledge(c)
	return s.chat.Load(ctx)
}

func (s *Session) controller(stage course.StageID) (*Controller, error) {
	c, ok := s.controllers[stage]
	if !ok {
		return nil, fmt.Errorf("orchestrator: invalid stage %d", int(stage))
	}
	return c, nil
}

// Request builds the generation request for stage from the course metadata
// and the current upstream content.
func (s *Session) Request(stage course.StageID, instructions string) course.WorkflowRequest {
	req := course.WorkflowRequest{
		Info:             s.info,
		CourseID:         s.courseID,
		StagesToGenerate: []course.StageID{stage},
		EditInstructions: instructions,
	}
	if stage >= course.StageTwo {
		req.StageOneData = s.repo.Content(course.StageOne)
	}
	if stage >= course.StageThree {
		req.StageTwoData = s.repo.Content(course.StageTwo)
	}
	return req
}

// Start begins generating stage.
func (s *Session) Start(ctx context.Context, stage course.StageID) error {
	return s.StartWithInstructions(ctx, stage, "")
}

// StartWithInstructions begins generating stage with extra instructions.
func (s *Session) StartWithInstructions(ctx context.Context, stage course.StageID, instructions string) error {
	c, err := s.controller(stage)
	if err != nil {
		return err
	}
	return c.Start(ctx, s.Request(stage, instructions))
}

// ApplyHandoff acts on an approved assistant regenerate request.
func (s *Session) ApplyHandoff(ctx context.Context, h Handoff) error {
	return s.StartWithInstructions(ctx, h.Stage, h.Instructions)
}

// Abort cancels the generation of stage.
func (s *Session) Abort(stage course.StageID) bool {
	c, err := s.controller(stage)
	if err != nil {
		return false
	}
	return c.Abort()
}

// Wait blocks until the latest generation of stage finishes.
func (s *Session) Wait(ctx context.Context, stage course.StageID) error {
	c, err := s.controller(stage)
	if err != nil {
		return err
	}
	return c.Wait(ctx)
}

// Edit replaces the content of stage locally.
func (s *Session) Edit(stage course.StageID, content string) error {
	c, err := s.controller(stage)
	if err != nil {
		return err
	}
	return c.Edit(content)
}

// Save writes the pending edit of stage and completes it. It returns the
// ChangeNotice produced by the save, if any.
func (s *Session) Save(ctx context.Context, stage course.StageID) (*ChangeNotice, error) {
	c, err := s.controller(stage)
	if err != nil {
		return nil, err
	}
	return c.Save(ctx)
}

// Notice returns the pending ChangeNotice or nil.
func (s *Session) Notice() *ChangeNotice { return s.graph.Notice() }

// ResolveChange consumes the pending ChangeNotice. A regenerate decision
// runs the listed stages one after another in ascending order, each
// waiting for the previous one so it sees the fresh upstream content; it
// blocks until the cascade finishes and stops at the first failure.
func (s *Session) ResolveChange(ctx context.Context, d Decision) error {
	notice := s.graph.Take()
	if notice == nil {
		return ErrNoNotice
	}
	switch d.Resolution {
	case ResolveCancel:
		s.logger.Info("change notice dismissed", "changed", int(notice.ChangedStage))
		return nil
	case ResolveSkipForSession:
		s.graph.Suppress()
		return nil
	case ResolveRegenerate:
		stages := d.Stages
		if len(stages) == 0 {
			stages = notice.AffectedStages
		}
		return s.Regenerate(ctx, stages)
	default:
		return fmt.Errorf("orchestrator: unknown resolution %q", d.Resolution)
	}
}

// Regenerate runs stages sequentially in ascending order.
func (s *Session) Regenerate(ctx context.Context, stages []course.StageID) error {
	ordered := slices.Clone(stages)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)
	for _, st := range ordered {
		s.logger.Info("cascade regenerating", "stage", int(st))
		if err := s.Start(ctx, st); err != nil {
			return fmt.Errorf("orchestrator: cascade stage %d: %w", st, err)
		}
		if err := s.Wait(ctx, st); err != nil {
			return fmt.Errorf("orchestrator: cascade stage %d: %w", st, err)
		}
	}
	return nil
}

// Chat returns the conversational adapter.
func (s *Session) Chat() *ChatSession { return s.chat }

// Progress returns the channel of stage progress events.
func (s *Session) Progress() <-chan ProgressEvent { return s.reporter.Subscribe() }

// Record returns the current record of stage.
func (s *Session) Record(stage course.StageID) Record { return s.repo.Get(stage) }

// SaveState returns the persistence state of stage.
func (s *Session) SaveState(stage course.StageID) SaveState {
	if s.persister == nil {
		return SaveState{}
	}
	return s.persister.State(stage)
}

// Flush writes every pending edit now.
func (s *Session) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.FlushAll(ctx)
}

// Snapshot returns the observable state of the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		CourseID:   s.courseID,
		Title:      s.info.Title,
		Notice:     s.graph.Notice(),
		Suppressed: s.graph.Suppressed(),
		Chat:       s.chat.State(),
	}
	for _, rec := range s.repo.All() {
		snap.Stages = append(snap.Stages, StageView{
			Record:    rec,
			SaveState: s.SaveState(rec.Stage),
			Draft:     s.controllers[rec.Stage].Draft(),
		})
	}
	return snap
}

// Close aborts running generations and the chat reply, starts a
// best-effort flush of pending edits and closes the progress channel. It
// does not wait for the flush; call Drain for that.
func (s *Session) Close() {
	for _, st := range course.Stages {
		s.controllers[st].Abort()
	}
	s.chat.Abort()
	if s.persister != nil {
		s.persister.Close()
	}
	s.reporter.Close()
}

// Drain waits for background writes started by Close or by generation.
func (s *Session) Drain(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Drain(ctx)
}
