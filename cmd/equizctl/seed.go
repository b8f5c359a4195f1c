package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/identity"
	"github.com/victornm/quizxp/internal/platform"
	"github.com/victornm/quizxp/internal/store"
)

func newSeedCommand(ctx *commandContext) *cobra.Command {
	var (
		questions int
		users     int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create sample questions and users for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.open(cmd.Context()); err != nil {
				return err
			}

			p, err := platform.Get()
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			for i := range questions {
				q := domain.Question{
					Text:      fmt.Sprintf("Sample question %d", i+1),
					Options:   []string{"A", "B", "C", "D"},
					CreatedAt: now.Add(-time.Duration(i) * time.Minute),
				}
				if err := p.Store.Create(cmd.Context(), store.Doc(domain.CollectionQuestions, uuid.NewString()), q.Fields()); err != nil {
					return fmt.Errorf("seed question: %w", err)
				}
			}

			for i := range users {
				uid := uuid.NewString()
				name := fmt.Sprintf("player%d", i+1)

				err := p.Identities.Create(cmd.Context(), identity.Identity{
					UID:   uid,
					Email: name + "@example.com",
				})
				if err != nil {
					return fmt.Errorf("seed identity %s: %w", name, err)
				}

				err = p.Store.Create(cmd.Context(), store.Doc(domain.CollectionUsers, uid), store.Fields{
					"username": name,
					"xp":       int64(0),
				})
				if err != nil {
					return fmt.Errorf("seed user %s: %w", name, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d questions and %d users\n", questions, users)
			return nil
		},
	}

	cmd.Flags().IntVar(&questions, "questions", 20, "number of questions to create")
	cmd.Flags().IntVar(&users, "users", 5, "number of users to create")
	return cmd
}
