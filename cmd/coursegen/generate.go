package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/orchestrator"
	"github.com/dusk-indust/coursegen/internal/status"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		courseID     string
		info         course.Info
		stages       []int
		instructions string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate course stages",
		Long: `Generate one or more stages of a course, streaming progress as it goes.
Without --course (or courseID in the config) a new course is created from
--title and the other course flags. Stages run in order; each waits for the
one before it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := parseStages(stages)
			if err != nil {
				return err
			}
			return a.runGenerate(cmd.Context(), cmd.OutOrStdout(), courseID, info, targets, instructions)
		},
	}

	f := cmd.Flags()
	f.StringVar(&courseID, "course", "", "ID of an existing course")
	f.IntSliceVar(&stages, "stage", []int{1, 2, 3}, "stages to generate")
	f.StringVar(&instructions, "instructions", "", "extra instructions for the generator")
	addInfoFlags(cmd, &info)
	return cmd
}

func addInfoFlags(cmd *cobra.Command, info *course.Info) {
	f := cmd.Flags()
	f.StringVar(&info.Title, "title", "", "title of a new course")
	f.StringVar(&info.Subject, "subject", "", "subject of a new course")
	f.StringVar(&info.GradeLevel, "grade", "", "grade level of a new course")
	f.IntVar(&info.DurationWeeks, "weeks", 0, "duration of a new course in weeks")
	f.Float64Var(&info.TotalClassHours, "hours", 0, "total class hours of a new course")
	f.StringVar(&info.ScheduleDescription, "schedule", "", "schedule of a new course")
	f.StringVar(&info.Description, "description", "", "description of a new course")
}

func parseStages(in []int) ([]course.StageID, error) {
	out := make([]course.StageID, 0, len(in))
	for _, n := range in {
		st, err := course.ParseStage(n)
		if err != nil {
			return nil, fmt.Errorf("--stage: %w", err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (a *app) runGenerate(ctx context.Context, out io.Writer, courseID string, info course.Info, stages []course.StageID, instructions string) error {
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
	fmt.Fprintf(out, "%s [%s]\n", c.Title, c.ID)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printProgress(out, s.Progress())
	}()

	var runErr error
	if instructions == "" {
		runErr = s.Regenerate(ctx, stages)
	} else {
		for _, st := range stages {
			if runErr = s.StartWithInstructions(ctx, st, instructions); runErr != nil {
				break
			}
			if runErr = s.Wait(ctx, st); runErr != nil {
				break
			}
		}
	}
	snap := s.Snapshot()
	a.closeSession(s)
	<-printed

	for _, line := range status.Render(status.FromSnapshot(snap)) {
		fmt.Fprintln(out, line)
	}
	return runErr
}

// printProgress prints each distinct progress line until events closes.
func printProgress(out io.Writer, events <-chan orchestrator.ProgressEvent) {
	last := map[course.StageID]string{}
	for ev := range events {
		line := orchestrator.FormatProgress(ev)
		if last[ev.Stage] == line {
			continue
		}
		last[ev.Stage] = line
		fmt.Fprintln(out, line)
	}
}
