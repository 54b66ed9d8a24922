package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/export"
	"github.com/dusk-indust/coursegen/internal/mockserver"
	"github.com/dusk-indust/coursegen/internal/store"
)

// execute runs the CLI with args and an empty config directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", t.TempDir()}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// newService starts a scripted course service and returns flags that
// point the CLI at it.
func newService(t *testing.T) ([]string, *store.MemStore) {
	t.Helper()
	ms := store.NewMemStore()
	srv := httptest.NewServer(mockserver.New(ms).Handler())
	t.Cleanup(srv.Close)
	return []string{"--store", "http", "--base-url", srv.URL}, ms
}

func onlyCourse(t *testing.T, ms *store.MemStore) *course.Course {
	t.Helper()
	list, err := ms.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	return &list[0]
}

func generated(t *testing.T) ([]string, *store.MemStore, *course.Course) {
	t.Helper()
	flags, ms := newService(t)
	_, err := execute(t, append(flags, "generate", "--title", "Ecology", "--subject", "Biology", "--grade", "10")...)
	require.NoError(t, err)
	return flags, ms, onlyCourse(t, ms)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		name    string
		wantErr bool
	}{
		{"", slog.LevelInfo, "info", false},
		{"DEBUG", slog.LevelDebug, "debug", false},
		{" warning ", slog.LevelWarn, "warn", false},
		{"err", slog.LevelError, "error", false},
		{"verbose", slog.LevelInfo, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lvl, name, err := parseLogLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, lvl)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestRoot_RejectsUnknownStore(t *testing.T) {
	_, err := execute(t, "--store", "sqlite", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store "sqlite"`)
}

func TestRoot_KuzuNeedsPath(t *testing.T) {
	_, err := execute(t, "--store", "kuzu", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kuzu-path")
}

func TestRoot_ReadsConfigFile(t *testing.T) {
	flags, ms := newService(t)
	c, err := ms.Create(context.Background(), course.Info{Title: "From config"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "coursegen.yml")
	body := "baseURL: " + flags[3] + "\ncourseID: " + c.ID + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	out, err := execute(t, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "From config ["+c.ID+"]")
	assert.Contains(t, out, "  next: stage 1 (Desired Results)")
}

func TestGenerate(t *testing.T) {
	flags, ms := newService(t)

	out, err := execute(t, append(flags, "generate", "--title", "Ecology", "--subject", "Biology")...)
	require.NoError(t, err)

	c := onlyCourse(t, ms)
	assert.Contains(t, out, "Ecology ["+c.ID+"]")
	assert.Contains(t, out, "  ✓ desired-results complete")
	assert.Contains(t, out, "  ✓ assessment-evidence complete")
	assert.Contains(t, out, "  ✓ learning-plan complete")
	assert.Contains(t, out, "  all stages complete")

	assert.Contains(t, c.StageOne, "# Stage 1: Desired Results")
	assert.Contains(t, c.StageTwo, "- Builds on: Stage 1: Desired Results")
	assert.Contains(t, c.StageThree, "- Builds on: Stage 2: Assessment Evidence")
}

func TestGenerate_NeedsCourse(t *testing.T) {
	flags, _ := newService(t)

	_, err := execute(t, append(flags, "generate")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no course")
}

func TestGenerate_InvalidStage(t *testing.T) {
	flags, _ := newService(t)

	_, err := execute(t, append(flags, "generate", "--title", "X", "--stage", "4")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--stage")
}

func TestGenerate_MissingUpstream(t *testing.T) {
	flags, ms := newService(t)

	out, err := execute(t, append(flags, "generate", "--title", "Ecology", "--stage", "2")...)
	require.Error(t, err)
	assert.Contains(t, out, "  next: stage 1 (Desired Results)")
	assert.Empty(t, onlyCourse(t, ms).StageTwo)
}

func TestGenerate_Instructions(t *testing.T) {
	flags, ms, c := generated(t)

	_, err := execute(t, append(flags, "generate", "--course", c.ID, "--stage", "1", "--instructions", "use local ponds")...)
	require.NoError(t, err)
	assert.Contains(t, onlyCourse(t, ms).StageOne, "> Revised per instructions: use local ponds")
}

func TestGenerate_MemoryStore(t *testing.T) {
	out, err := execute(t, "--store", "memory", "generate", "--title", "Scratch", "--stage", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "  ✓ desired-results complete")
	assert.Contains(t, out, "  next: stage 2 (Assessment Evidence)")
}

func TestStatus(t *testing.T) {
	flags, _, c := generated(t)

	out, err := execute(t, append(flags, "status", "--course", c.ID)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Ecology ["+c.ID+"]")
	assert.Contains(t, out, "  ✓ Stage 1: Desired Results")
	assert.Contains(t, out, "  ✓ Stage 3: Learning Plan")
	assert.Contains(t, out, "  all stages complete")
}

func TestStatus_All(t *testing.T) {
	flags, _ := newService(t)

	out, err := execute(t, append(flags, "status", "--all")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No courses found.")
}

func TestExport_Markdown(t *testing.T) {
	flags, _, c := generated(t)
	path := filepath.Join(t.TempDir(), "plan.md")

	out, err := execute(t, append(flags, "export", "--course", c.ID, "-o", path)...)
	require.NoError(t, err)
	assert.Equal(t, "wrote "+path+"\n", out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, export.Markdown(c), string(data))
}

func TestExport_JSON(t *testing.T) {
	flags, _, c := generated(t)

	out, err := execute(t, append(flags, "export", "--course", c.ID, "--format", "json")...)
	require.NoError(t, err)

	var got export.CourseExport
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, c.ID, got.CourseID)
	require.Len(t, got.Stages, 3)
	assert.Equal(t, "completed", got.Stages[2].Status)
}

func TestExport_Mermaid(t *testing.T) {
	flags, _, c := generated(t)

	out, err := execute(t, append(flags, "export", "--course", c.ID, "-f", "mermaid")...)
	require.NoError(t, err)
	assert.Contains(t, out, "graph LR")
	assert.Contains(t, out, "S1 --> S2")
}

func TestExport_UnknownFormat(t *testing.T) {
	flags, _, c := generated(t)

	_, err := execute(t, append(flags, "export", "--course", c.ID, "-f", "pdf")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "pdf"`)
}

func TestEdit_ReportsStaleStages(t *testing.T) {
	flags, ms, c := generated(t)

	out, err := execute(t, append(flags, "edit", "--course", c.ID, "--stage", "1", "--content", "# New goals")...)
	require.NoError(t, err)
	assert.Contains(t, out, "saved stage 1 (desired-results)")
	assert.Contains(t, out, "stages 2, 3 may be stale")

	got := onlyCourse(t, ms)
	assert.Equal(t, "# New goals", got.StageOne)
	assert.Equal(t, c.StageTwo, got.StageTwo)
}

func TestEdit_Cascade(t *testing.T) {
	flags, ms, c := generated(t)
	file := filepath.Join(t.TempDir(), "goals.md")
	require.NoError(t, os.WriteFile(file, []byte("# Pond ecosystems\n"), 0o644))

	out, err := execute(t, append(flags, "edit", "--course", c.ID, "--file", file, "--cascade")...)
	require.NoError(t, err)
	assert.Contains(t, out, "regenerating stages 2, 3")
	assert.Contains(t, out, "  ✓ learning-plan complete")

	got := onlyCourse(t, ms)
	assert.Equal(t, "# Pond ecosystems\n", got.StageOne)
	assert.Contains(t, got.StageTwo, "- Builds on: Pond ecosystems")
}

func TestEdit_NeedsContent(t *testing.T) {
	flags, _, c := generated(t)

	_, err := execute(t, append(flags, "edit", "--course", c.ID)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--file or --content")
}

func TestChat(t *testing.T) {
	flags, ms, c := generated(t)

	out, err := execute(t, append(flags, "chat", "--course", c.ID, "--step", "2", "Add", "a", "rubric")...)
	require.NoError(t, err)
	assert.Equal(t, "About Assessment Evidence: you said \"Add a rubric\". I have 0 earlier messages on this step for context.\n", out)

	msgs, err := ms.Messages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, course.RoleUser, msgs[0].Role)
	assert.Equal(t, course.RoleAssistant, msgs[1].Role)
}

func TestChat_ApplyHandoff(t *testing.T) {
	flags, ms, c := generated(t)

	out, err := execute(t, append(flags, "chat", "--course", c.ID, "regenerate stage 1: focus on ponds")...)
	require.NoError(t, err)
	assert.Contains(t, out, "rerun with --apply")
	assert.Equal(t, c.StageOne, onlyCourse(t, ms).StageOne)

	out, err = execute(t, append(flags, "chat", "--course", c.ID, "--apply", "regenerate stage 1: focus on ponds")...)
	require.NoError(t, err)
	assert.Contains(t, out, "  ✓ desired-results complete")
	assert.Contains(t, onlyCourse(t, ms).StageOne, "> Revised per instructions: focus on ponds")
}
