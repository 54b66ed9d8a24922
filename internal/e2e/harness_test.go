//go:build e2e

package e2e

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/mockserver"
	"github.com/dusk-indust/coursegen/internal/orchestrator"
	"github.com/dusk-indust/coursegen/internal/store"
)

// fixtureInfo is the course every end-to-end run generates.
var fixtureInfo = course.Info{
	Title:         "Ecosystems and Energy",
	Subject:       "Biology",
	GradeLevel:    "9",
	DurationWeeks: 3,
}

// harness is a mock backend served over HTTP with a client pointed at it.
type harness struct {
	client *course.HTTPClient
	store  *store.MemStore
}

func newHarness(t *testing.T, opts ...mockserver.Option) *harness {
	t.Helper()
	ms := store.NewMemStore()
	srv := httptest.NewServer(mockserver.New(ms, opts...).Handler())
	t.Cleanup(srv.Close)
	return &harness{client: course.NewHTTPClient(srv.URL), store: ms}
}

// openSession creates a course on the backend and opens a Session on it
// using the HTTP client as store, generator and conversation log.
func (h *harness) openSession(t *testing.T, opts ...orchestrator.SessionOption) *orchestrator.Session {
	t.Helper()
	c, err := h.client.Create(context.Background(), fixtureInfo)
	require.NoError(t, err)

	cfg := orchestrator.DefaultConfig()
	cfg.DebounceDelay = 20 * time.Millisecond
	opts = append([]orchestrator.SessionOption{orchestrator.WithConversations(h.client)}, opts...)
	s := orchestrator.NewSession(cfg, c, h.client, h.client, opts...)
	t.Cleanup(func() {
		s.Close()
		_ = s.Drain(context.Background())
	})
	return s
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
