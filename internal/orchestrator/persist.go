package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/coursegen/internal/course"
)

// StageWriter is the remote write the Persister issues: one update-stage
// call per flush.
type StageWriter interface {
	UpdateStage(ctx context.Context, id string, stage course.StageID, content string) error
}

// PendingEdit is content recorded locally but not yet written remotely.
type PendingEdit struct {
	Stage   course.StageID
	Content string
	Since   time.Time
}

// SaveState is the observable persistence state of one stage.
type SaveState struct {
	Dirty     bool   `json:"isDirty"`
	Saving    bool   `json:"isSaving"`
	LastError string `json:"lastError,omitempty"`
}

// scheduleFunc runs f after d and returns a function that cancels it.
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Persister coalesces edits into debounced remote writes. It is the only
// component that writes stage content to the store.
//
// Per stage it holds at most one PendingEdit; a newer edit replaces the
// older one and restarts the debounce timer. Dirty stays true until a write
// of the latest content succeeds, so Dirty and Saving are never both false
// while a PendingEdit exists.
type Persister struct {
	courseID        string
	writer          StageWriter
	delay           time.Duration
	autoSave        bool
	teardownTimeout time.Duration
	schedule        scheduleFunc
	now             func() time.Time
	logger          *slog.Logger

	mu       sync.Mutex
	idle     *sync.Cond // signaled whenever a write finishes
	entries  map[course.StageID]*saveEntry
	closed   bool
	inflight sync.WaitGroup
}

type saveEntry struct {
	pending   *PendingEdit
	stopTimer func() bool
	timerSeq  uint64

	dirty   bool
	saving  int
	lastErr error

	// writeSeq orders writes; a write older than ackedSeq is skipped so a
	// slow stale write can never overwrite newer remote content.
	writeSeq uint64
	ackedSeq uint64
	acked    string
	hasAcked bool
	writeMu  sync.Mutex
}

// NewPersister creates a Persister writing to writer for courseID.
func NewPersister(courseID string, writer StageWriter, cfg Config, logger *slog.Logger) *Persister {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persister{
		courseID:        courseID,
		writer:          writer,
		delay:           cfg.DebounceDelay,
		autoSave:        cfg.AutoSave,
		teardownTimeout: cfg.TeardownTimeout,
		schedule:        afterFunc,
		now:             time.Now,
		logger:          logger,
		entries:         make(map[course.StageID]*saveEntry),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

func (p *Persister) entry(stage course.StageID) *saveEntry {
	e, ok := p.entries[stage]
	if !ok {
		e = &saveEntry{}
		p.entries[stage] = e
	}
	return e
}

// Acknowledge records content known to match the remote store, such as
// content loaded from it.
func (p *Persister) Acknowledge(stage course.StageID, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entry(stage)
	e.acked = content
	e.hasAcked = true
}

// RecordEdit replaces the pending edit of stage and restarts its debounce
// timer. Content equal to the last acknowledged remote content clears the
// pending edit instead.
func (p *Persister) RecordEdit(stage course.StageID, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entry(stage)
	if e.stopTimer != nil {
		e.stopTimer()
		e.stopTimer = nil
	}
	e.timerSeq++

	if e.hasAcked && content == e.acked && e.saving == 0 {
		e.pending = nil
		e.dirty = false
		return
	}

	since := p.now()
	if e.pending != nil {
		since = e.pending.Since
	}
	e.pending = &PendingEdit{Stage: stage, Content: content, Since: since}
	e.dirty = true

	if p.autoSave && !p.closed {
		seq := e.timerSeq
		e.stopTimer = p.schedule(p.delay, func() { p.fire(stage, seq) })
	}
}

// fire runs when a debounce timer expires.
func (p *Persister) fire(stage course.StageID, seq uint64) {
	p.mu.Lock()
	e := p.entry(stage)
	if e.timerSeq != seq || e.pending == nil || p.closed {
		p.mu.Unlock()
		return
	}
	e.stopTimer = nil
	pe, wseq := p.takeLocked(e)
	p.mu.Unlock()

	if err := p.write(context.Background(), stage, pe, wseq); err != nil {
		p.logger.Warn("debounced save failed", "stage", int(stage), "error", err)
	}
}

// Commit writes freshly generated content right away without waiting for
// the debounce delay. The write runs in the background.
func (p *Persister) Commit(stage course.StageID, content string) {
	p.mu.Lock()
	e := p.entry(stage)
	if e.stopTimer != nil {
		e.stopTimer()
		e.stopTimer = nil
	}
	e.timerSeq++
	e.pending = &PendingEdit{Stage: stage, Content: content, Since: p.now()}
	e.dirty = true
	pe, wseq := p.takeLocked(e)
	p.mu.Unlock()

	go func() {
		if err := p.write(context.Background(), stage, pe, wseq); err != nil {
			p.logger.Warn("saving generated content failed", "stage", int(stage), "error", err)
		}
	}()
}

// Save cancels the debounce timer of stage and writes its pending edit now.
// When nothing is pending it waits for an in-flight write and reports its
// outcome. On failure the edit stays pending and Dirty stays true.
func (p *Persister) Save(ctx context.Context, stage course.StageID) error {
	p.mu.Lock()
	e := p.entry(stage)
	if e.stopTimer != nil {
		e.stopTimer()
		e.stopTimer = nil
	}
	e.timerSeq++

	if e.pending == nil {
		defer p.mu.Unlock()
		for e.saving > 0 {
			p.idle.Wait()
		}
		if e.dirty {
			return e.lastErr
		}
		return nil
	}
	pe, wseq := p.takeLocked(e)
	p.mu.Unlock()

	return p.write(ctx, stage, pe, wseq)
}

// FlushAll saves every stage with a pending edit concurrently.
func (p *Persister) FlushAll(ctx context.Context) error {
	p.mu.Lock()
	var stages []course.StageID
	for s, e := range p.entries {
		if e.pending != nil {
			stages = append(stages, s)
		}
	}
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range stages {
		g.Go(func() error {
			return p.Save(gctx, s)
		})
	}
	return g.Wait()
}

// State returns the persistence state of stage.
func (p *Persister) State(stage course.StageID) SaveState {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[stage]
	if !ok {
		return SaveState{}
	}
	st := SaveState{Dirty: e.dirty, Saving: e.saving > 0}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// Pending returns a copy of the pending edit of stage, if any.
func (p *Persister) Pending(stage course.StageID) (PendingEdit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[stage]
	if !ok || e.pending == nil {
		return PendingEdit{}, false
	}
	return *e.pending, true
}

// Close stops all timers and starts a best-effort background write for
// every pending edit, bounded by the teardown timeout. It does not wait for
// the writes; use Drain for that.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	type job struct {
		stage course.StageID
		pe    *PendingEdit
		seq   uint64
	}
	var jobs []job
	for s, e := range p.entries {
		if e.stopTimer != nil {
			e.stopTimer()
			e.stopTimer = nil
		}
		e.timerSeq++
		if e.pending != nil {
			pe, seq := p.takeLocked(e)
			jobs = append(jobs, job{stage: s, pe: pe, seq: seq})
		}
	}
	p.mu.Unlock()

	for _, j := range jobs {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), p.teardownTimeout)
			defer cancel()
			if err := p.write(ctx, j.stage, j.pe, j.seq); err != nil {
				p.logger.Warn("teardown save failed", "stage", int(j.stage), "error", err)
			}
		}()
	}
}

// Drain waits for in-flight writes or for ctx to end.
func (p *Persister) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// takeLocked moves the pending edit into a write slot. p.mu must be held.
func (p *Persister) takeLocked(e *saveEntry) (*PendingEdit, uint64) {
	pe := e.pending
	e.pending = nil
	e.saving++
	e.writeSeq++
	p.inflight.Add(1)
	return pe, e.writeSeq
}

// write performs one remote write. Writes for a stage are serialised and a
// write superseded by a newer acknowledged one is skipped.
func (p *Persister) write(ctx context.Context, stage course.StageID, pe *PendingEdit, seq uint64) error {
	defer p.inflight.Done()

	p.mu.Lock()
	e := p.entry(stage)
	p.mu.Unlock()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	p.mu.Lock()
	if seq < e.ackedSeq {
		e.saving--
		p.idle.Broadcast()
		if e.pending == nil && e.saving == 0 && e.lastErr == nil {
			e.dirty = false
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	err := p.writer.UpdateStage(ctx, p.courseID, stage, pe.Content)

	p.mu.Lock()
	defer p.mu.Unlock()
	e.saving--
	p.idle.Broadcast()
	if err != nil {
		// Restore the edit only if no newer write has been taken since;
		// otherwise the newer write carries later content.
		if seq == e.writeSeq && e.pending == nil {
			e.pending = pe
		}
		e.lastErr = err
		e.dirty = true
		return err
	}
	e.lastErr = nil
	e.ackedSeq = seq
	e.acked = pe.Content
	e.hasAcked = true
	if e.pending == nil && e.saving == 0 {
		e.dirty = false
	}
	return nil
}
