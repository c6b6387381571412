package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	apiclient "github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/api/client"
)

func newLoginCommand(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username = strings.TrimSpace(username)
			if username == "" {
				username = a.cfg.Username
			}
			if username == "" {
				return errors.New("--username is required")
			}
			if password == "" {
				secret, err := a.secret("Password: ")
				if err != nil {
					return err
				}
				password = secret
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			resp, err := client.Login(ctx, username, password)
			if err != nil {
				return err
			}
			a.cfg.APIBaseURL = client.BaseURL()
			a.cfg.Username = resp.User.Username
			a.tabID()
			storeToken(&a.cfg, resp.Token)
			if err := SaveConfig(a.cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", resp.User.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (supply to avoid prompt)")
	return cmd
}

func newSignupCommand(a *app) *cobra.Command {
	var input apiclient.SignupInput
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register an account with an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(input.Username) == "" || strings.TrimSpace(input.Token) == "" {
				return errors.New("--username and --token are required")
			}
			if input.Password == "" {
				secret, err := a.secret("Password: ")
				if err != nil {
					return err
				}
				confirm, err := a.secret("Confirm password: ")
				if err != nil {
					return err
				}
				input.Password, input.ConfirmPassword = secret, confirm
			} else if input.ConfirmPassword == "" {
				input.ConfirmPassword = input.Password
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			user, err := client.Signup(ctx, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s created", user.Username)
			if user.AccessUntil != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (access until %s)", user.AccessUntil)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "; run 'gkl login' to sign in")
			return nil
		},
	}
	cmd.Flags().StringVarP(&input.Username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&input.Token, "token", "t", "", "access token issued by an admin")
	cmd.Flags().StringVarP(&input.Password, "password", "p", "", "password (supply to avoid prompt)")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			if err := client.Logout(ctx, token, all); err != nil && !apiclient.Unauthorized(err) {
				return err
			}
			clearToken(&a.cfg)
			if err := SaveConfig(a.cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "end every session of the account")
	return cmd
}
