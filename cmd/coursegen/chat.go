package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/orchestrator"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		courseID string
		step     int
		apply    bool
	)
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask the assistant about a stage",
		Long: `Send one message to the course design assistant and print its reply. The
assistant may offer to regenerate a stage with new instructions; --apply
accepts the offer and runs the generation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context(), cmd.OutOrStdout(), courseID, course.StageID(step), strings.Join(args, " "), apply)
		},
	}
	f := cmd.Flags()
	f.StringVar(&courseID, "course", "", "ID of the course (default: courseID from the config)")
	f.IntVar(&step, "step", 1, "stage the message is about")
	f.BoolVar(&apply, "apply", false, "act on a regenerate offer from the assistant")
	return cmd
}

func (a *app) runChat(ctx context.Context, out io.Writer, courseID string, step course.StageID, message string, apply bool) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	c, err := a.resolveCourse(ctx, b, courseID, course.Info{})
	if err != nil {
		return err
	}
	s, err := a.openSession(ctx, b, c)
	if err != nil {
		return err
	}
	defer a.closeSession(s)

	var (
		mu      sync.Mutex
		handoff *orchestrator.Handoff
	)
	chat := s.Chat()
	chat.OnHandoff(func(h orchestrator.Handoff) {
		mu.Lock()
		defer mu.Unlock()
		handoff = &h
	})

	if err := chat.Send(ctx, step, message); err != nil {
		return err
	}
	if err := chat.Wait(ctx); err != nil {
		return err
	}
	msgs := chat.Messages()
	if n := len(msgs); n > 0 && msgs[n-1].Role == course.RoleAssistant {
		fmt.Fprintln(out, msgs[n-1].Content)
	}

	mu.Lock()
	h := handoff
	mu.Unlock()
	if h == nil {
		return nil
	}
	if !apply {
		fmt.Fprintf(out, "assistant offers to regenerate stage %d; rerun with --apply to accept\n", int(h.Stage))
		return nil
	}
	if err := s.ApplyHandoff(ctx, *h); err != nil {
		return err
	}
	if err := s.Wait(ctx, h.Stage); err != nil {
		return err
	}
	rec := s.Record(h.Stage)
	fmt.Fprintln(out, orchestrator.FormatProgress(orchestrator.ProgressEvent{Stage: rec.Stage, Status: rec.Status, Message: rec.ErrorMessage}))
	return nil
}
