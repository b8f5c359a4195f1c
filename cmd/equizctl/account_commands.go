package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/victornm/quizxp/internal/account"
)

// targetUIDEnv names the variable set-admin falls back to without an argument.
const targetUIDEnv = "EQUIZ_TARGET_UID"

func newDeleteUserCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-user <email|uid>",
		Short: "Delete a user's identity, profile and friend lists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			r, err := svc.Account.DeleteUser(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("delete user %s: %w", args[0], err)
			}

			if !r.Found {
				fmt.Fprintf(out, "No user found with %s\n", args[0])
				return nil
			}

			rows := make([][]string, 0, len(account.Subcollections))
			for _, sub := range account.Subcollections {
				rows = append(rows, []string{sub, strconv.Itoa(r.Deleted[sub])})
			}

			fmt.Fprintf(out, "Deleted user %s (%s)\n", r.UID, r.Email)
			fmt.Fprint(out, renderTable([]string{"Subcollection", "Deleted"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newSetAdminCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-admin [uid]",
		Short: "Grant the admin claim to a user",
		Long:  "Grant the admin claim to a user. The uid defaults to $" + targetUIDEnv + ". The user must sign in again to see the claim.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid := targetUID(args, os.Getenv(targetUIDEnv))
			if uid == "" {
				return fmt.Errorf("missing uid: pass it as an argument or set %s", targetUIDEnv)
			}

			svc, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}

			if err := svc.Account.GrantAdmin(cmd.Context(), uid); err != nil {
				return fmt.Errorf("set admin claim for %s: %w", uid, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Admin claim set for %s\n", uid)
			return nil
		},
	}
}

func targetUID(args []string, env string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}

	return strings.TrimSpace(env)
}
