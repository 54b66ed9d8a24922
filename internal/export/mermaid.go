package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/coursegen/internal/orchestrator"
	"github.com/dusk-indust/coursegen/internal/status"
)

var mermaidClasses = map[orchestrator.Status]string{
	orchestrator.StatusPending:    "fill:#eeeeee,stroke:#999999",
	orchestrator.StatusGenerating: "fill:#fff3c4,stroke:#d4a017",
	orchestrator.StatusCompleted:  "fill:#d4f4dd,stroke:#2e7d32",
	orchestrator.StatusEditing:    "fill:#dbe9ff,stroke:#1e5bb8",
	orchestrator.StatusError:      "fill:#ffd6d6,stroke:#c62828",
}

// GenerateMermaid produces a Mermaid graph LR diagram of the stage
// dependency chain. Each node is labelled with its stage name and status
// and styled by status.
func GenerateMermaid(cs status.CourseStatus) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	used := make(map[orchestrator.Status]bool)
	for _, s := range cs.Stages {
		label := fmt.Sprintf("Stage %d: %s<br/>%s", int(s.Stage), s.Name, s.Status)
		if s.Status == orchestrator.StatusGenerating {
			label += fmt.Sprintf(" %d%%", s.Progress)
		}
		sb.WriteString(fmt.Sprintf("  S%d[\"%s\"]:::%s\n", int(s.Stage), label, s.Status))
		used[s.Status] = true
	}
	for _, s := range cs.Stages {
		if u, ok := orchestrator.Upstream(s.Stage); ok {
			sb.WriteString(fmt.Sprintf("  S%d --> S%d\n", int(u), int(s.Stage)))
		}
	}
	if n := cs.Notice; n != nil {
		for _, a := range n.AffectedStages {
			sb.WriteString(fmt.Sprintf("  S%d -. stale .-> S%d\n", int(n.ChangedStage), int(a)))
		}
	}
	for _, st := range []orchestrator.Status{
		orchestrator.StatusPending,
		orchestrator.StatusGenerating,
		orchestrator.StatusCompleted,
		orchestrator.StatusEditing,
		orchestrator.StatusError,
	} {
		if used[st] {
			sb.WriteString(fmt.Sprintf("  classDef %s %s\n", st, mermaidClasses[st]))
		}
	}
	return sb.String()
}
