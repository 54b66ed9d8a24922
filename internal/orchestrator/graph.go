package orchestrator

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dusk-indust/coursegen/internal/course"
)

// upstreamOf holds the static dependency edges: each stage depends only on
// its immediate predecessor.
var upstreamOf = map[course.StageID]course.StageID{
	course.StageTwo:   course.StageOne,
	course.StageThree: course.StageTwo,
}

// Upstream returns the stage that s depends on directly.
func Upstream(s course.StageID) (course.StageID, bool) {
	u, ok := upstreamOf[s]
	return u, ok
}

// Downstream returns every stage that depends on s, directly or
// transitively, in ascending order.
func Downstream(s course.StageID) []course.StageID {
	var out []course.StageID
	for _, d := range course.Stages {
		for u, ok := Upstream(d); ok; u, ok = Upstream(u) {
			if u == s {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// ChangeNotice reports that a saved edit left downstream content stale.
type ChangeNotice struct {
	ChangedStage   course.StageID   `json:"changedStage"`
	AffectedStages []course.StageID `json:"affectedStages"`
}

// DependencyError is returned when a stage is started before its upstream
// stage has content.
type DependencyError struct {
	Stage    course.StageID
	Upstream course.StageID
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("orchestrator: stage %d (%s) requires content from stage %d (%s)",
		e.Stage, e.Stage, e.Upstream, e.Upstream)
}

// Graph answers dependency questions against a Repository and tracks the
// pending ChangeNotice. It never mutates stage records.
type Graph struct {
	repo   *Repository
	logger *slog.Logger

	mu         sync.Mutex
	notice     *ChangeNotice
	suppressed bool
}

// NewGraph creates a Graph reading from repo.
func NewGraph(repo *Repository, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{repo: repo, logger: logger}
}

// CanStart reports whether stage may be generated now.
func (g *Graph) CanStart(stage course.StageID) bool {
	return g.checkStart(stage) == nil
}

// checkStart returns a *DependencyError when the guard fails.
func (g *Graph) checkStart(stage course.StageID) error {
	u, ok := Upstream(stage)
	if !ok {
		return nil
	}
	if g.repo.Content(u) == "" {
		return &DependencyError{Stage: stage, Upstream: u}
	}
	return nil
}

// OnMutation is called after stage is saved. It records and returns a
// ChangeNotice when downstream stages hold content, unless suppressed.
func (g *Graph) OnMutation(stage course.StageID) *ChangeNotice {
	var affected []course.StageID
	for _, d := range Downstream(stage) {
		if g.repo.Content(d) != "" {
			affected = append(affected, d)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(affected) == 0 || g.suppressed {
		return nil
	}
	g.notice = &ChangeNotice{ChangedStage: stage, AffectedStages: affected}
	g.logger.Info("downstream stages are stale", "changed", int(stage), "affected", affected)
	return cloneNotice(g.notice)
}

// Notice returns the pending notice or nil.
func (g *Graph) Notice() *ChangeNotice {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneNotice(g.notice)
}

// Take returns the pending notice and discards it.
func (g *Graph) Take() *ChangeNotice {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.notice
	g.notice = nil
	return n
}

// Suppress stops notice creation for the lifetime of the Graph and drops
// any pending notice. The flag is not persisted.
func (g *Graph) Suppress() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppressed = true
	g.notice = nil
}

// Suppressed reports whether Suppress has been called.
func (g *Graph) Suppressed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed
}

func cloneNotice(n *ChangeNotice) *ChangeNotice {
	if n == nil {
		return nil
	}
	cp := *n
	cp.AffectedStages = append([]course.StageID(nil), n.AffectedStages...)
	return &cp
}
