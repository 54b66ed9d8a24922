package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/orchestrator"
)

type editOptions struct {
	courseID string
	stage    int
	file     string
	content  string
	cascade  bool
}

func newEditCmd(a *app) *cobra.Command {
	var opts editOptions
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Replace the content of a completed stage",
		Long: `Replace the markdown of a completed stage and save it. Saving a stage that
later stages build on reports them as possibly stale; --cascade regenerates
them in order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runEdit(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.courseID, "course", "", "ID of the course (default: courseID from the config)")
	f.IntVar(&opts.stage, "stage", 1, "stage to edit")
	f.StringVar(&opts.file, "file", "", "read the new content from this file (- for stdin)")
	f.StringVar(&opts.content, "content", "", "new content")
	f.BoolVar(&opts.cascade, "cascade", false, "regenerate the stages made stale by the edit")
	cmd.MarkFlagsMutuallyExclusive("file", "content")
	return cmd
}

func (a *app) runEdit(ctx context.Context, out io.Writer, opts editOptions) error {
	st, err := course.ParseStage(opts.stage)
	if err != nil {
		return fmt.Errorf("--stage: %w", err)
	}
	content, err := readContent(opts)
	if err != nil {
		return err
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	c, err := a.resolveCourse(ctx, b, opts.courseID, course.Info{})
	if err != nil {
		return err
	}
	s, err := a.openSession(ctx, b, c)
	if err != nil {
		return err
	}
	defer a.closeSession(s)

	if err := s.Edit(st, content); err != nil {
		return err
	}
	notice, err := s.Save(ctx, st)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "saved stage %d (%s)\n", int(st), st)
	if notice == nil {
		return nil
	}

	stale := make([]string, len(notice.AffectedStages))
	for i, d := range notice.AffectedStages {
		stale[i] = fmt.Sprintf("%d", int(d))
	}
	if !opts.cascade {
		fmt.Fprintf(out, "stages %s may be stale; rerun with --cascade to regenerate them\n", strings.Join(stale, ", "))
		return nil
	}
	fmt.Fprintf(out, "regenerating stages %s\n", strings.Join(stale, ", "))
	if err := s.ResolveChange(ctx, orchestrator.Decision{Resolution: orchestrator.ResolveRegenerate}); err != nil {
		return err
	}
	for _, d := range notice.AffectedStages {
		fmt.Fprintln(out, orchestrator.FormatProgress(orchestrator.ProgressEvent{
			Stage:  d,
			Status: s.Record(d).Status,
		}))
	}
	return nil
}

func readContent(opts editOptions) (string, error) {
	switch {
	case opts.file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case opts.file != "":
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", opts.file, err)
		}
		return string(data), nil
	case opts.content != "":
		return opts.content, nil
	}
	return "", errors.New("give the new content with --file or --content")
}
