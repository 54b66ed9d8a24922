package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/coursegen/internal/config"
	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/mcptools"
	"github.com/dusk-indust/coursegen/internal/mockserver"
	"github.com/dusk-indust/coursegen/internal/store"
)

func newMockServerCmd(a *app) *cobra.Command {
	var (
		addr       string
		frameDelay time.Duration
		failStage  int
	)
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a scripted course service for local development",
		Long: `Serve the course REST and streaming API with scripted generation. Courses
live in memory, or in a kuzu database with --store kuzu.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var db mockserver.Backend = store.NewMemStore()
			if a.cfg.Store == config.StoreKuzu {
				kdb, closeDB, err := openKuzu(a.cfg.KuzuPath)
				if err != nil {
					return err
				}
				defer closeDB()
				db = kdb
			}
			opts := []mockserver.Option{
				mockserver.WithLogger(a.logger),
				mockserver.WithFrameDelay(frameDelay),
			}
			if failStage != 0 {
				st, err := course.ParseStage(failStage)
				if err != nil {
					return fmt.Errorf("--fail-stage: %w", err)
				}
				opts = append(opts, mockserver.WithFailStage(st))
			}
			return mockserver.New(db, opts...).ListenAndServe(cmd.Context(), addr)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	f.DurationVar(&frameDelay, "frame-delay", 50*time.Millisecond, "pause between stream frames")
	f.IntVar(&failStage, "fail-stage", 0, "make generation of this stage fail (1-3)")
	return cmd
}

func newServeMCPCmd(a *app) *cobra.Command {
	var (
		courseID string
		info     course.Info
	)
	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Run as an MCP server on stdio for one course",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServeMCP(cmd.Context(), courseID, info)
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "ID of the course (default: courseID from the config)")
	addInfoFlags(cmd, &info)
	return cmd
}

func (a *app) runServeMCP(ctx context.Context, courseID string, info course.Info) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	c, err := a.resolveCourse(ctx, b, courseID, info)
	if err != nil {
		return err
	}
	s, err := a.openSession(ctx, b, c)
	if err != nil {
		return err
	}
	defer a.closeSession(s)

	a.logger.Info("serving MCP on stdio", "course", c.ID)
	server := mcptools.NewCourseMCPServer(mcptools.NewCourseService(ctx, s))
	return mcptools.RunCourseMCPServerStdio(ctx, server)
}
