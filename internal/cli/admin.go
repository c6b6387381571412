package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAdminCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage access tokens and accounts (admin only)",
	}
	cmd.AddCommand(newAdminTokenCommand(a), newAdminUserCommand(a))
	return cmd
}

func newAdminTokenCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage signup access tokens",
	}

	var createMonths int
	create := &cobra.Command{
		Use:   "create",
		Short: "Generate an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			created, err := client.GenerateToken(ctx, token, createMonths)
			if err != nil {
				return a.expired(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d months\n", created.Value, created.DurationMonths)
			return nil
		},
	}
	create.Flags().IntVarP(&createMonths, "months", "m", 1, "access duration in months (1-24)")

	var listMonths int
	list := &cobra.Command{
		Use:   "list",
		Short: "List access tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			tokens, err := client.ListTokens(ctx, token, listMonths)
			if err != nil {
				return a.expired(err)
			}
			out := cmd.OutOrStdout()
			for _, t := range tokens {
				state := "unused"
				if t.UsedBy != nil {
					state = "used"
				}
				fmt.Fprintf(out, "%s\t%s\t%d months\t%s\n", t.ID, t.Value, t.DurationMonths, state)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&listMonths, "months", "m", 0, "only tokens of this duration")

	remove := &cobra.Command{
		Use:   "delete <token-id>",
		Short: "Delete an access token and deactivate its account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := client.DeleteToken(ctx, token, args[0]); err != nil {
				return a.expired(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token deleted")
			return nil
		},
	}

	cmd.AddCommand(create, list, remove)
	return cmd
}

func newAdminUserCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			users, err := client.ListUsers(ctx, token)
			if err != nil {
				return a.expired(err)
			}
			out := cmd.OutOrStdout()
			for _, u := range users {
				until := "never"
				if u.AccessUntil != nil {
					until = u.AccessUntil.Local().Format(time.DateOnly)
				}
				fmt.Fprintf(out, "%s\t%s\tadmin=%t\tactive=%t\tuntil=%s\n", u.ID, u.Username, u.Admin, u.Active, until)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete an account and end its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := client.DeleteUser(ctx, token, args[0]); err != nil {
				return a.expired(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "user deleted")
			return nil
		},
	}

	var months int
	renew := &cobra.Command{
		Use:   "renew <user-id>",
		Short: "Renew an account's access for months from now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			until, err := client.RenewUser(ctx, token, args[0], months)
			if err != nil {
				return a.expired(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "access extended until %s\n", until.Local().Format(time.RFC3339))
			return nil
		},
	}
	renew.Flags().IntVarP(&months, "months", "m", 1, "access duration in months (1-24)")

	cmd.AddCommand(list, remove, renew)
	return cmd
}
