// Package cli implements the gkl command line client of the control panel.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/api/client"
)

var errNotLoggedIn = errors.New("please login first using 'gkl login'")

type app struct {
	cfg     Config
	api     string
	timeout time.Duration
	in      *bufio.Reader
	secret  func(prompt string) (string, error)
}

// NewRootCommand assembles the gkl command tree.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&app{}, version)
}

func newRootCommand(a *app, version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "gkl",
		Short:         "Control panel client for backend deployments",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if strings.TrimSpace(a.api) != "" {
				cfg.APIBaseURL = strings.TrimSpace(a.api)
			}
			a.cfg = cfg
			a.in = bufio.NewReader(cmd.InOrStdin())
			if a.secret == nil {
				a.secret = a.readSecret
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.api, "api", "", "panel base URL (default from config, http://localhost:4000)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newLoginCommand(a),
		newSignupCommand(a),
		newLogoutCommand(a),
		newStatusCommand(a),
		newDeployCommand(a),
		newUndeployCommand(a),
		newDismissCommand(a),
		newLocalCommand(a),
		newHistoryCommand(a),
		newEventsCommand(a),
		newWatchCommand(a),
		newBackendCommand(a),
		newSettingsCommand(a),
		newAdminCommand(a),
	)
	return root
}

func (a *app) client() (*apiclient.Client, error) {
	return apiclient.New(a.cfg.APIBaseURL)
}

func (a *app) session() (*apiclient.Client, string, error) {
	token := loadToken(a.cfg)
	if token == "" {
		return nil, "", errNotLoggedIn
	}
	client, err := a.client()
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

// expired turns a rejected token into a login hint and forgets the token.
func (a *app) expired(err error) error {
	if !apiclient.Unauthorized(err) {
		return err
	}
	clearToken(&a.cfg)
	_ = SaveConfig(a.cfg)
	var apiErr apiclient.APIError
	errors.As(err, &apiErr)
	reason := apiErr.Reason
	if reason == "" {
		reason = apiErr.Message
	}
	return fmt.Errorf("%s; please login again using 'gkl login'", reason)
}

func (a *app) tabID() string {
	if a.cfg.TabID == "" {
		a.cfg.TabID = uuid.NewString()
	}
	return a.cfg.TabID
}

func (a *app) readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(secret), nil
	}
	return a.readLine()
}

func (a *app) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
