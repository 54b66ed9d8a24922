package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/export"
	"github.com/dusk-indust/coursegen/internal/status"
)

// Export formats.
const (
	formatMarkdown = "markdown"
	formatJSON     = "json"
	formatMermaid  = "mermaid"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		courseID string
		format   string
		output   string
		save     bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a course as markdown, JSON or a mermaid diagram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runExport(cmd.Context(), cmd.OutOrStdout(), courseID, format, output, save)
		},
	}
	f := cmd.Flags()
	f.StringVar(&courseID, "course", "", "ID of the course (default: courseID from the config)")
	f.StringVarP(&format, "format", "f", formatMarkdown, "markdown, json or mermaid")
	f.StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	f.BoolVar(&save, "save", false, "write markdown to <title>-ubd.md in the current directory")
	return cmd
}

func (a *app) runExport(ctx context.Context, out io.Writer, courseID, format, output string, save bool) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	c, err := a.resolveCourse(ctx, b, courseID, course.Info{})
	if err != nil {
		return err
	}

	data, err := render(ctx, b, c, format)
	if err != nil {
		return err
	}

	if save && output == "" {
		output = export.FileName(c.Title)
	}
	if output == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	fmt.Fprintf(out, "wrote %s\n", output)
	return nil
}

func render(ctx context.Context, b *backend, c *course.Course, format string) ([]byte, error) {
	switch format {
	case formatMarkdown:
		return []byte(export.Markdown(c)), nil
	case formatJSON:
		msgs, err := b.client.Messages(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		data, err := json.MarshalIndent(export.ExportCourse(c, msgs, time.Now()), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal JSON: %w", err)
		}
		return append(data, '\n'), nil
	case formatMermaid:
		return []byte(export.GenerateMermaid(status.FromCourse(c))), nil
	}
	return nil, fmt.Errorf("unknown format %q (want markdown, json or mermaid)", format)
}
