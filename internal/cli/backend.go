package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var backendOps = []string{"health", "status", "logs", "connect", "disconnect", "release", "send"}

func newBackendCommand(a *app) *cobra.Command {
	var wsNumber int
	cmd := &cobra.Command{
		Use:       "backend <operation> [command]",
		Short:     "Call the deployed backend through the panel",
		Long:      "Operations: " + strings.Join(backendOps, ", ") + ". The send operation takes the command text as second argument.",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: backendOps,
		RunE: func(cmd *cobra.Command, args []string) error {
			op := args[0]
			if !validBackendOp(op) {
				return fmt.Errorf("unknown backend operation %q", op)
			}
			var body any
			if op == "send" {
				if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
					return fmt.Errorf("send requires a command argument")
				}
				body = map[string]any{"wsNumber": wsNumber, "command": args[1]}
			} else if len(args) > 1 {
				return fmt.Errorf("%s takes no extra arguments", op)
			}
			client, token, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			raw, err := client.Backend(ctx, token, op, body)
			if err != nil {
				return a.expired(err)
			}
			printJSON(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().IntVar(&wsNumber, "ws", 0, "websocket slot for the send operation")
	return cmd
}

func validBackendOp(op string) bool {
	for _, known := range backendOps {
		if op == known {
			return true
		}
	}
	return false
}

func newSettingsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage the saved backend configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the saved configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, token, err := a.session()
				if err != nil {
					return err
				}
				ctx, cancel := a.context(cmd)
				defer cancel()
				doc, err := client.Settings(ctx, token)
				if err != nil {
					return a.expired(err)
				}
				printJSON(cmd.OutOrStdout(), doc.Config)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <file|->",
			Short: "Save a JSON configuration read from a file or stdin",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var data []byte
				var err error
				if args[0] == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(args[0])
				}
				if err != nil {
					return fmt.Errorf("read configuration: %w", err)
				}
				if !json.Valid(data) {
					return fmt.Errorf("configuration is not valid JSON")
				}
				client, token, err := a.session()
				if err != nil {
					return err
				}
				ctx, cancel := a.context(cmd)
				defer cancel()
				if _, err := client.SaveSettings(ctx, token, json.RawMessage(data)); err != nil {
					return a.expired(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration saved.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "apply",
			Short: "Push the saved configuration to the backend and connect",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, token, err := a.session()
				if err != nil {
					return err
				}
				ctx, cancel := a.context(cmd)
				defer cancel()
				result, err := client.ApplySettings(ctx, token)
				if err != nil {
					return a.expired(err)
				}
				printJSON(cmd.OutOrStdout(), result.Connected)
				return nil
			},
		},
	)
	return cmd
}

func printJSON(w io.Writer, raw json.RawMessage) {
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") != nil {
		pretty.Reset()
		pretty.Write(raw)
	}
	fmt.Fprintln(w, strings.TrimSpace(pretty.String()))
}
