package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/api/client"
)

func printDeployment(w io.Writer, dep apiclient.Deployment) {
	fmt.Fprintf(w, "status:    %s\n", dep.Status)
	if dep.LocalTest {
		fmt.Fprintln(w, "mode:      local test")
	}
	if dep.PipelineID != "" {
		fmt.Fprintf(w, "pipeline:  %s\n", dep.PipelineID)
	}
	if dep.EndpointURL != "" {
		fmt.Fprintf(w, "endpoint:  %s\n", dep.EndpointURL)
	}
	if dep.Progress.Message != "" {
		fmt.Fprintf(w, "progress:  %d%% %s\n", dep.Progress.Percentage, dep.Progress.Message)
	}
	if dep.Error != "" {
		fmt.Fprintf(w, "error:     %s\n", dep.Error)
	}
	fmt.Fprintf(w, "connected: %t\n", dep.BackendConnected)
}

func formatEvent(e apiclient.Event) string {
	ts := e.CreatedAt.Local().Format(time.TimeOnly)
	switch e.Type {
	case "deployment_progress":
		if e.Progress != nil {
			return fmt.Sprintf("%s progress %3d%% %s", ts, e.Progress.Percentage, e.Progress.Message)
		}
	case "deployment_status":
		line := fmt.Sprintf("%s status %s", ts, e.Status)
		if e.EndpointURL != "" {
			line += " " + e.EndpointURL
		}
		if e.Message != "" {
			line += ": " + e.Message
		}
		return line
	case "backend_status", "backend_logs":
		return fmt.Sprintf("%s %s %s", ts, e.Type, string(e.Data))
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %s", ts, e.Type, e.Message)
	}
	return fmt.Sprintf("%s %s", ts, e.Type)
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			dep, err := client.Deployment(ctx, token)
			if err != nil {
				return a.expired(err)
			}
			printDeployment(cmd.OutOrStdout(), dep)
			return nil
		},
	}
}

func newDeployCommand(a *app) *cobra.Command {
	var confirm, watch bool
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Trigger a backend deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			dep, err := client.Deploy(ctx, token, confirm)
			cancel()
			if err != nil {
				if id, ok := apiclient.NeedsConfirmation(err); ok {
					return fmt.Errorf("pipeline %s is already running; rerun with --yes to stop it and start a new one", id)
				}
				return a.expired(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deployment started (%s)\n", dep.Status)
			if !watch {
				return nil
			}
			return a.follow(cmd, client, token, func(e apiclient.Event) bool {
				if e.Type != "deployment_status" {
					return true
				}
				return e.Status == "deploying"
			})
		},
	}
	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "stop an already running pipeline without asking")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow progress until the deployment settles")
	return cmd
}

func newUndeployCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "undeploy",
		Short: "Tear the live deployment down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			dep, err := client.Undeploy(ctx, token)
			if err != nil {
				return a.expired(err)
			}
			printDeployment(cmd.OutOrStdout(), dep)
			return nil
		},
	}
}

func newDismissCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss",
		Short: "Clear a failed deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			dep, err := client.Dismiss(ctx, token)
			if err != nil {
				return a.expired(err)
			}
			printDeployment(cmd.OutOrStdout(), dep)
			return nil
		},
	}
}

func newLocalCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "local on|off",
		Short:     "Toggle local test mode",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			dep, err := client.SetLocalTest(ctx, token, args[0] == "on")
			if err != nil {
				return a.expired(err)
			}
			printDeployment(cmd.OutOrStdout(), dep)
			return nil
		},
	}
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			records, err := client.History(ctx, token, limit)
			if err != nil {
				return a.expired(err)
			}
			out := cmd.OutOrStdout()
			for _, rec := range records {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", rec.StartedAt.Local().Format(time.RFC3339), rec.Provider, rec.PipelineID, rec.Status, rec.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of deployments")
	return cmd
}

func newEventsCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List stored notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			list, err := client.Events(ctx, token, limit)
			if err != nil {
				return a.expired(err)
			}
			for _, e := range list {
				fmt.Fprintln(cmd.OutOrStdout(), formatEvent(e))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events")
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	var claim bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live deployment and backend events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := a.session()
			if err != nil {
				return err
			}
			if claim {
				ctx, cancel := a.context(cmd)
				err := client.ClaimTab(ctx, token, a.tabID())
				cancel()
				if err != nil {
					return a.expired(err)
				}
			}
			return a.follow(cmd, client, token, func(apiclient.Event) bool { return true })
		},
	}
	cmd.Flags().BoolVar(&claim, "claim", false, "close other streams of this session")
	return cmd
}

// follow prints streamed events until keep returns false, the stream ends or the
// process is interrupted.
func (a *app) follow(cmd *cobra.Command, client *apiclient.Client, token string, keep func(apiclient.Event) bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err := client.Watch(ctx, token, a.tabID(), func(e apiclient.Event) bool {
		fmt.Fprintln(cmd.OutOrStdout(), formatEvent(e))
		if e.Type == "session_ended" {
			return false
		}
		return keep(e)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return a.expired(err)
}
