package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/period"
)

func newPublishQuizCommand(ctx *commandContext) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "publish-quiz",
		Short: "Publish the quiz of the current week unless it exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseAt(at)
			if err != nil {
				return err
			}

			svc, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}

			outcome, err := svc.Quiz.Publish(cmd.Context(), t)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "publish quiz %s: %s\n", period.Key(t), outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "tick time in RFC 3339, defaults to now")
	return cmd
}

func newAggregateCommand(ctx *commandContext) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Recompute the weekly and all-time leaderboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseAt(at)
			if err != nil {
				return err
			}

			svc, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}

			boards, err := svc.Leaderboard.Aggregate(cmd.Context(), t)
			if err != nil {
				return err
			}

			for _, b := range boards {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d leaders\n", b.Board, len(b.Leaders))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "tick time in RFC 3339, defaults to now")
	return cmd
}

func newShowLeaderboardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "show-leaderboard [weekly|all-time]",
		Short:     "Print a leaderboard snapshot",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"weekly", "all-time"},
		RunE: func(cmd *cobra.Command, args []string) error {
			board := domain.BoardWeekly
			if len(args) > 0 {
				board = strings.ReplaceAll(args[0], "-", "_")
			}

			svc, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}

			l, err := svc.Leaderboard.GetSnapshot(cmd.Context(), board)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			title := l.Board
			if l.Week != "" {
				title += " " + l.Week
			}
			fmt.Fprintf(out, "%s (updated %s)\n", title, l.UpdatedAt.Format("2006-01-02 15:04:05"))

			rows := make([][]string, len(l.Leaders))
			for i, e := range l.Leaders {
				rows[i] = []string{strconv.Itoa(i + 1), e.ID, e.Username, strconv.FormatInt(e.XP, 10)}
			}

			fmt.Fprint(out, renderTable(
				[]string{"Rank", "User", "Username", "XP"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}
