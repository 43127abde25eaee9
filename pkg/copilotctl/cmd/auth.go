package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/telekom/copilot-gateway/pkg/copilotctl/output"
	"github.com/telekom/copilot-gateway/pkg/credentials"
	"github.com/telekom/copilot-gateway/pkg/deviceauth"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	codeColor    = color.New(color.FgYellow, color.Bold)
	dimColor     = color.New(color.Faint)
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with GitHub Copilot",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthStatusCommand(),
		newAuthLogoutCommand(),
		newAuthSetTokenCommand(),
		newAuthTokenCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var (
		noBrowser bool
		noQR      bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login with the GitHub device flow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			deps, err := rt.Deps()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			flow := deviceauth.NewFlow(deps.DeviceAuth)
			session, code, err := flow.Start(ctx)
			if err != nil {
				return fmt.Errorf("failed to start login: %w", err)
			}
			defer session.Cancel()

			w := rt.Writer()
			link := code.BrowserURL()
			_, _ = fmt.Fprintf(w, "First copy your one-time code: %s\n", codeColor.Sprint(code.UserCode))
			_, _ = fmt.Fprintf(w, "Then open %s and enter the code.\n", link)
			if !noQR {
				_, _ = fmt.Fprintln(w)
				qrterminal.GenerateHalfBlock(link, qrterminal.L, w)
			}
			if !noBrowser {
				if err := rt.openBrowser(link); err != nil {
					rt.log.Debugw("Failed to open browser", "url", link, "error", err)
					_, _ = dimColor.Fprintln(w, "Could not open a browser, please open the link manually.")
				}
			}

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(rt.errWriter))
			sp.Suffix = " Waiting for authorization..."
			sp.Start()
			cred, err := session.Wait(ctx)
			sp.Stop()
			if err != nil {
				return loginError(err)
			}

			token := credentials.FromCredential(*cred, rt.now())
			if err := deps.Tokens.SaveToken(deps.Profile, token); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}
			_, _ = successColor.Fprintf(w, "Logged in to GitHub Copilot")
			_, _ = fmt.Fprintf(w, " (profile %s, stored in %s)\n", deps.Profile, deps.Tokens.Backend())
			return nil
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not open the verification page in a browser")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "Do not print a QR code of the verification page")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "Give up waiting for approval after this duration (0 waits forever)")
	return cmd
}

// loginError turns session failures into messages a user can act on.
func loginError(err error) error {
	switch {
	case errors.Is(err, deviceauth.ErrExpiredToken):
		return errors.New("the device code expired before it was approved, run 'copilotctl auth login' again")
	case errors.Is(err, deviceauth.ErrAccessDenied):
		return errors.New("authorization was denied")
	case errors.Is(err, context.DeadlineExceeded):
		return errors.New("timed out waiting for authorization")
	case errors.Is(err, context.Canceled), errors.Is(err, deviceauth.ErrCancelled):
		return errors.New("login cancelled")
	default:
		return fmt.Errorf("login failed: %w", err)
	}
}

type authStatus struct {
	Profile       string     `json:"profile" yaml:"profile"`
	Authenticated bool       `json:"authenticated" yaml:"authenticated"`
	Storage       string     `json:"storage" yaml:"storage"`
	Source        string     `json:"source,omitempty" yaml:"source,omitempty"`
	Token         string     `json:"token,omitempty" yaml:"token,omitempty"`
	Scope         string     `json:"scope,omitempty" yaml:"scope,omitempty"`
	SavedAt       *time.Time `json:"savedAt,omitempty" yaml:"savedAt,omitempty"`
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			deps, err := rt.Deps()
			if err != nil {
				return err
			}
			status := authStatus{Profile: deps.Profile, Storage: deps.Tokens.Backend()}
			if rt.tokenOverride != "" {
				token := credentials.Manual(rt.tokenOverride, rt.now())
				status.Authenticated = true
				status.Storage = "override"
				status.Token = token.Masked()
			} else {
				token, ok, err := deps.Tokens.GetToken(deps.Profile)
				if err != nil {
					return err
				}
				if ok {
					status.Authenticated = true
					status.Source = token.Source
					status.Token = token.Masked()
					status.Scope = token.Scope
					if !token.SavedAt.IsZero() {
						saved := token.SavedAt.UTC()
						status.SavedAt = &saved
					}
				}
			}

			return rt.render(status, func(w io.Writer, _ bool) {
				if !status.Authenticated {
					_, _ = fmt.Fprintf(w, "Not authenticated (profile %s)\n", status.Profile)
					return
				}
				values := map[string]string{
					"profile": status.Profile,
					"storage": status.Storage,
					"source":  status.Source,
					"token":   status.Token,
					"scope":   status.Scope,
				}
				if status.SavedAt != nil {
					values["saved"] = status.SavedAt.Format(time.RFC3339)
				}
				output.WriteKeyValues(w, []string{"profile", "storage", "source", "token", "scope", "saved"}, values)
			})
		},
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "logout",
		Aliases: []string{"revoke"},
		Short:   "Remove the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			deps, err := rt.Deps()
			if err != nil {
				return err
			}
			if err := deps.Tokens.DeleteToken(deps.Profile); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Logged out (profile %s)\n", deps.Profile)
			return nil
		},
	}
}

func newAuthSetTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-token <token|->",
		Short: "Store a GitHub token obtained elsewhere ('-' reads it from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			value := args[0]
			if value == "-" {
				line, err := bufio.NewReader(rt.reader).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("failed to read token: %w", err)
				}
				value = line
			}
			token := credentials.Manual(value, rt.now())
			if token.AccessToken == "" {
				return errors.New("token must not be empty")
			}
			deps, err := rt.Deps()
			if err != nil {
				return err
			}
			if err := deps.Tokens.SaveToken(deps.Profile, token); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Token %s stored (profile %s, %s)\n", token.Masked(), deps.Profile, deps.Tokens.Backend())
			return nil
		},
	}
}

func newAuthTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the active token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if rt.tokenOverride != "" {
				_, _ = fmt.Fprintln(rt.Writer(), strings.TrimSpace(rt.tokenOverride))
				return nil
			}
			deps, err := rt.Deps()
			if err != nil {
				return err
			}
			token, ok, err := deps.Tokens.GetToken(deps.Profile)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("not authenticated (profile %s), run 'copilotctl auth login'", deps.Profile)
			}
			_, _ = fmt.Fprintln(rt.Writer(), token.AccessToken)
			return nil
		},
	}
}
