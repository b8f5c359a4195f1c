package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand(ctx *commandContext) *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	rootCmd := &cobra.Command{
		Use:           "equizctl",
		Short:         "Administer the weekly quiz backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", envConfig, "Configuration file path")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newDeleteUserCommand(ctx))
	rootCmd.AddCommand(newSetAdminCommand(ctx))
	rootCmd.AddCommand(newPublishQuizCommand(ctx))
	rootCmd.AddCommand(newAggregateCommand(ctx))
	rootCmd.AddCommand(newShowLeaderboardCommand(ctx))
	rootCmd.AddCommand(newReplayAttemptCommand(ctx))
	rootCmd.AddCommand(newDeadLettersCommand(ctx))
	rootCmd.AddCommand(newSeedCommand(ctx))

	return rootCmd
}
