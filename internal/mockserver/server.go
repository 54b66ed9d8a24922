// Package mockserver is a scripted stand-in for the course generation
// service. It serves the REST surface of course.HTTPClient backed by any
// store, and streams deterministic workflow and chat replies.
package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/export"
)

// Backend is the storage the mock server serves.
type Backend interface {
	course.Store
	course.Conversations
}

// Server is the HTTP surface of the mock service.
type Server struct {
	backend    Backend
	logger     *slog.Logger
	frameDelay time.Duration
	failStage  course.StageID
	http       *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithFrameDelay pauses between streamed frames so clients can observe
// progress.
func WithFrameDelay(d time.Duration) Option {
	return func(s *Server) { s.frameDelay = d }
}

// WithFailStage makes every generation of stage end with an error frame.
func WithFailStage(stage course.StageID) Option {
	return func(s *Server) { s.failStage = stage }
}

// New creates a mock server over backend.
func New(backend Backend, opts ...Option) *Server {
	s := &Server{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/courses", s.handleCreate)
	mux.HandleFunc("GET /api/v1/courses", s.handleList)
	mux.HandleFunc("GET /api/v1/courses/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/v1/courses/{id}", s.handleDelete)
	mux.HandleFunc("PUT /api/v1/courses/{id}/{stage}", s.handleUpdateStage)
	mux.HandleFunc("GET /api/v1/courses/{id}/export/markdown", s.handleExport)
	mux.HandleFunc("POST /api/v1/courses/{id}/conversation", s.handleAppendMessages)
	mux.HandleFunc("GET /api/v1/courses/{id}/conversation", s.handleMessages)
	mux.HandleFunc("DELETE /api/v1/courses/{id}/conversation", s.handleClearMessages)
	mux.HandleFunc("POST /api/v1/workflow/stream", s.handleWorkflow)
	mux.HandleFunc("POST /api/v1/chat/stream", s.handleChat)

	return mux
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mockserver: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{Handler: s.Handler()}
	s.logger.Info("mock server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mockserver: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ---------------------------------------------------------------------------
// Courses
// ---------------------------------------------------------------------------

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var info course.Info
	if !decode(w, r, &info) {
		return
	}
	if info.Title == "" {
		writeError(w, http.StatusUnprocessableEntity, "title is required")
		return
	}
	c, err := s.backend.Create(r.Context(), info)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	skip, err1 := queryInt(r, "skip", 0)
	limit, err2 := queryInt(r, "limit", 100)
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cs, err := s.backend.List(r.Context(), skip, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if cs == nil {
		cs = []course.Course{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.backend.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageFromSlug(r.PathValue("stage"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stage "+r.PathValue("stage"))
		return
	}
	var body course.StageUpdate
	if !decode(w, r, &body) {
		return
	}
	id := r.PathValue("id")
	if err := s.backend.UpdateStage(r.Context(), id, stage, body.Markdown); err != nil {
		s.fail(w, err)
		return
	}
	c, err := s.backend.Get(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	c, err := s.backend.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(c.Title)))
	_, _ = w.Write([]byte(export.Markdown(c)))
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

func (s *Server) handleAppendMessages(w http.ResponseWriter, r *http.Request) {
	var batch course.MessageBatch
	if !decode(w, r, &batch) {
		return
	}
	if err := s.backend.AppendMessages(r.Context(), r.PathValue("id"), batch.Messages...); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.backend.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []course.Message{}
	}
	writeJSON(w, http.StatusOK, course.MessageBatch{Messages: msgs})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ClearMessages(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, course.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Warn("backend error", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorBody{Detail: detail})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func stageFromSlug(slug string) (course.StageID, bool) {
	for _, s := range course.Stages {
		if s.Slug() == slug {
			return s, true
		}
	}
	return 0, false
}
