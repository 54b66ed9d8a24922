package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/status"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		courseID string
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which stages of a course are complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStatus(cmd.Context(), cmd.OutOrStdout(), courseID, all)
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "ID of the course (default: courseID from the config)")
	cmd.Flags().BoolVar(&all, "all", false, "list every stored course")
	return cmd
}

func (a *app) runStatus(ctx context.Context, out io.Writer, courseID string, all bool) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	if all {
		courses, err := b.client.List(ctx, 0, 0)
		if err != nil {
			return fmt.Errorf("list courses: %w", err)
		}
		if len(courses) == 0 {
			fmt.Fprintln(out, "No courses found.")
			fmt.Fprintln(out, "Run 'coursegen generate --title <title>' to create one.")
			return nil
		}
		for i := range courses {
			if i > 0 {
				fmt.Fprintln(out)
			}
			printStatus(out, &courses[i])
		}
		return nil
	}

	c, err := a.resolveCourse(ctx, b, courseID, course.Info{})
	if err != nil {
		return err
	}
	printStatus(out, c)
	return nil
}

func printStatus(out io.Writer, c *course.Course) {
	for _, line := range status.Render(status.FromCourse(c)) {
		fmt.Fprintln(out, line)
	}
}
