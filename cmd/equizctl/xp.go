package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/event"
)

func newReplayAttemptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "replay-attempt <attempt-id>",
		Short: "Award XP for a stored attempt unless already credited",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}

			res, err := svc.XP.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Duplicate {
				fmt.Fprintf(out, "attempt %s already credited %d xp\n", args[0], res.Award.XP)
				return nil
			}

			fmt.Fprintf(out, "attempt %s: +%d xp, user %s now at %d\n", args[0], res.Award.XP, res.Award.UserID, res.Award.Total)
			return nil
		},
	}
}

func newDeadLettersCommand(ctx *commandContext) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "List events whose handling failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ctx.deadLetters(cmd.Context())
			if err != nil {
				return err
			}

			letters, err := q.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(letters) == 0 {
				fmt.Fprintln(out, "no dead letters")
				return nil
			}

			rows := make([][]string, len(letters))
			for i, d := range letters {
				rows[i] = []string{d.ID, d.Event, d.FailedAt.Format("2006-01-02 15:04:05"), d.Error}
			}

			fmt.Fprint(out, renderTable([]string{"ID", "Event", "Failed At", "Error"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "number of letters to show")
	cmd.AddCommand(newReplayDeadLettersCommand(ctx))
	return cmd
}

func newReplayDeadLettersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Re-handle failed attempt events; other events are dropped",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}

			q, err := ctx.deadLetters(cmd.Context())
			if err != nil {
				return err
			}

			var skipped int
			n, err := q.Replay(cmd.Context(), func(ctx context.Context, d event.DeadLetter) error {
				if d.Event != domain.EventNameAttemptCreated {
					skipped++
					slog.InfoContext(ctx, "equizctl: dropping dead letter", "id", d.ID, "event", d.Event)
					return nil
				}

				var e domain.EventAttemptCreated
				if err := d.Decode(&e); err != nil {
					return err
				}

				return svc.XP.Handle(ctx, e)
			})

			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d letters, dropped %d\n", n-skipped, skipped)
			return err
		},
	}
}
